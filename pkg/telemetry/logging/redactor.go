package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	bearerPattern = regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`)
)

var sensitiveKeys = []string{
	"password", "passwd", "secret", "token",
	"api_key", "apikey", "authorization", "private_key",
}

// Redactor masks sensitive attribute values.
type Redactor struct {
	identities bool
}

// NewRedactor creates a Redactor. Secrets are always masked; identities
// only when redactIdentities is set.
func NewRedactor(redactIdentities bool) *Redactor {
	return &Redactor{identities: redactIdentities}
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr function.
func (r *Redactor) ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if v == "" {
		return a
	}

	key := strings.ToLower(a.Key)
	switch {
	case isSensitiveKey(key):
		return slog.String(a.Key, RedactSecret(v))
	case r.identities && key == string(IdentityKey):
		return slog.String(a.Key, RedactIdentity(v))
	case strings.Contains(v, "Bearer "):
		return slog.String(a.Key, bearerPattern.ReplaceAllString(v, "Bearer ***"))
	}
	return a
}

func isSensitiveKey(key string) bool {
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return true
		}
	}
	return false
}

// RedactSecret keeps a four character prefix of long values.
func RedactSecret(v string) string {
	if len(v) <= 8 {
		return "***"
	}
	return v[:4] + "***"
}

// RedactIdentity masks email-shaped identities. Other identities are
// returned unchanged.
func RedactIdentity(identity string) string {
	if !emailPattern.MatchString(identity) {
		return identity
	}
	return RedactEmail(identity)
}

// RedactEmail redacts an email address partially (shows first char and domain).
func RedactEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	if username == "" {
		return "***@" + domain
	}
	return username[:1] + "***@" + domain
}
