package pii

import (
	"log/slog"
	"strings"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor masks secret-looking attributes before they reach a log handler.
type Redactor struct {
	fieldsToRedact map[string]struct{}
}

// NewRedactor creates a Redactor for the given attribute keys. Matching is case-insensitive.
func NewRedactor(fields []string) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		field = strings.ToLower(strings.TrimSpace(field))
		if field != "" {
			fieldSet[field] = struct{}{}
		}
	}
	return &Redactor{fieldsToRedact: fieldSet}
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
// Groups are walked so nested secrets are masked too.
func (r *Redactor) ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(r.fieldsToRedact) == 0 {
		return a
	}
	if r.shouldRedact(a.Key) {
		return slog.String(a.Key, RedactedPlaceholder)
	}
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		redacted := make([]any, 0, len(attrs))
		for _, ga := range attrs {
			redacted = append(redacted, r.ReplaceAttr(append(groups, a.Key), ga))
		}
		return slog.Group(a.Key, redacted...)
	}
	return a
}

// Mask keeps the last four characters of a secret, enough to tell tokens apart in logs.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

func (r *Redactor) shouldRedact(key string) bool {
	_, ok := r.fieldsToRedact[strings.ToLower(key)]
	return ok
}
