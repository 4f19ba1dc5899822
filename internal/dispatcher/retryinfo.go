package dispatcher

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// parseRetryDelay extracts the RetryInfo.retryDelay hint from a googleapis-
// style error body, e.g.
//
//	{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"13s"}]}}
//
// Returns (0, false) if no such detail is present or it doesn't parse.
func parseRetryDelay(errorBody string) (time.Duration, bool) {
	if !gjson.Valid(errorBody) {
		return 0, false
	}
	details := gjson.Get(errorBody, "error.details")
	if !details.IsArray() {
		return 0, false
	}
	for _, d := range details.Array() {
		if !strings.Contains(d.Get("@type").String(), "RetryInfo") {
			continue
		}
		raw := d.Get("retryDelay").String()
		if raw == "" {
			continue
		}
		if d, ok := parseGoDuration(raw); ok {
			return d, true
		}
	}
	return 0, false
}

// parseGoDuration parses a protobuf Duration text encoding ("13s", "1.5s")
// which time.ParseDuration also accepts, after trimming surrounding
// whitespace, and falls back to a bare seconds number without a unit.
func parseGoDuration(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	trimmed := strings.TrimSuffix(raw, "s")
	if secs, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}

// isQuotaExhausted reports whether an error body explicitly signals
// permanent quota exhaustion rather than transient throttling. A body that
// merely mentions "check quota" is throttling, not exhaustion.
func isQuotaExhausted(errorBody string) bool {
	return strings.Contains(errorBody, "QUOTA_EXHAUSTED")
}
