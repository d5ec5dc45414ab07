// Tally is the usage accounting and external-call resilience layer for
// AI-assisted features.
//
// It meters per-identity daily quotas, throttles bursts, guards the
// completion provider with a circuit breaker, and prunes old counters on a
// schedule.
//
// Usage:
//
//	# Start the HTTP service
//	tally serve --config tally.yaml
//
//	# Show today's usage for an identity
//	tally usage alice@example.com
//
//	# Show a week of history as CSV
//	tally stats alice@example.com --days 7 --output csv
//
//	# Run the retention sweep once
//	tally sweep
//
//	# Validate a configuration file
//	tally config validate --config tally.yaml
package main

func main() {
	Execute()
}
