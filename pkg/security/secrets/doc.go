// Package secrets resolves ${secret:name} references in credential fields of
// the configuration.
//
// A name is looked up in each Source in order. EnvSource reads
// TALLY_SECRET_<NAME> variables; FileSource reads one file per secret from a
// directory such as a Kubernetes secret mount.
//
//	r, err := secrets.FromConfig(cfg.Secrets, logger)
//	if err != nil {
//		return err
//	}
//	if err := r.ResolveConfig(ctx, cfg); err != nil {
//		return err
//	}
package secrets
