package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive field values before they reach any sink.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"auth_token":    {},
	"authorization": {},
	"bearer":        {},
	"secret":        {},
	"hmac_secret":   {},
	"passphrase":    {},
	"password":      {},
	"private_key":   {},
}

// IsSensitive reports whether a log key carries credential material and must
// never be emitted verbatim.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// redactAttr masks the value of any sensitive attribute while leaving the key
// in place so operators can still see that the field was present.
func redactAttr(attr slog.Attr) slog.Attr {
	if IsSensitive(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	return attr
}
