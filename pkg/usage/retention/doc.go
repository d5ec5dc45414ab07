// Package retention ages out old usage counters.
//
// A Sweeper takes a point-in-time snapshot of counters dated more than Days
// days before today and then:
//
//   - archives them in the durable store (soft; archived counters no longer
//     appear in statistics)
//   - deletes them from the degraded-mode fallback store (hard)
//
// Counters written after the snapshot are left for the next run.
//
// # Scheduling
//
// Start runs Sweep on a cron schedule evaluated in the quota time zone. The
// default "0 0 * * *" fires at every local midnight:
//
//	sw, _ := retention.New(retention.Config{
//	    Durable:  backend,
//	    Fallback: store.Fallback(),
//	    Days:     30,
//	    Location: store.Location(),
//	})
//	if err := sw.Start(ctx); err != nil {
//	    return err
//	}
//	defer sw.Stop()
//
// Runs never overlap; a tick that fires while a sweep is still running is
// skipped.
package retention
