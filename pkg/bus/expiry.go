package bus

import (
	"strconv"
	"time"
)

// expiresLayout is the ISO-8601 format used to encode the Expires header.
// Implementations must agree on one encoding (§6); this core always writes
// RFC3339Nano and falls back to epoch-millis parsing for interop with
// transports that prefer a numeric timestamp.
const expiresLayout = time.RFC3339Nano

// encodeExpires formats t for the Expires header.
func encodeExpires(t time.Time) string {
	return t.UTC().Format(expiresLayout)
}

// parseExpires parses the Expires header value, accepting either RFC3339
// or epoch-millisecond encodings.
func parseExpires(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(expiresLayout, raw); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// isExpired reports whether the Expires header value is at or before now
// (invariant 5, §4.1 step 4a: "Expires <= currentTime").
func isExpired(raw string, now time.Time) bool {
	t, ok := parseExpires(raw)
	if !ok {
		return false
	}
	return !t.After(now)
}
