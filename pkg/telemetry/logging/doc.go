// Package logging builds the process slog.Logger.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:            "info",
//	    Format:           "json",
//	    RedactIdentities: true,
//	})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
// Components take a *slog.Logger and add their own "component" attribute.
//
// # Context fields
//
// Request-scoped values travel in the context and are added to every record
// logged with one of the *Context methods:
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithIdentity(ctx, "user-1")
//	logger.InfoContext(ctx, "Consume completed") // request_id, identity
//
// FromContext returns a logger carrying the same fields for code that logs
// without a context.
//
// # Redaction
//
// Values under secret-looking keys (api_key, authorization, token, ...) are
// always masked. With RedactIdentities, identity values that are email
// addresses keep only their first character and domain:
//
//	alice@example.com → a***@example.com
package logging
