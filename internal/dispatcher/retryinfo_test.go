package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRetryDelay_ExtractsSecondsFromRetryInfoDetail(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"13s"}]}}`
	d, ok := parseRetryDelay(body)
	require.True(t, ok)
	require.Equal(t, 13*time.Second, d)
}

func TestParseRetryDelay_FractionalSeconds(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1.5s"}]}}`
	d, ok := parseRetryDelay(body)
	require.True(t, ok)
	require.Equal(t, 1500*time.Millisecond, d)
}

func TestParseRetryDelay_NoRetryInfoDetailPresent(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.BadRequest"}]}}`
	_, ok := parseRetryDelay(body)
	require.False(t, ok)
}

func TestParseRetryDelay_InvalidJSON(t *testing.T) {
	_, ok := parseRetryDelay("not json")
	require.False(t, ok)
}

func TestParseRetryDelay_DetailsNotArray(t *testing.T) {
	body := `{"error":{"details":"oops"}}`
	_, ok := parseRetryDelay(body)
	require.False(t, ok)
}

func TestParseGoDuration_BareSecondsFallback(t *testing.T) {
	d, ok := parseGoDuration(" 7 ")
	require.True(t, ok)
	require.Equal(t, 7*time.Second, d)
}

func TestParseGoDuration_UnparsableReturnsFalse(t *testing.T) {
	_, ok := parseGoDuration("not-a-duration")
	require.False(t, ok)
}

func TestIsQuotaExhausted(t *testing.T) {
	require.True(t, isQuotaExhausted(`{"error":{"status":"RESOURCE_EXHAUSTED","message":"QUOTA_EXHAUSTED for model"}}`))
	require.False(t, isQuotaExhausted(`{"error":{"message":"please check quota dashboard"}}`))
}
