package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFingerprint_StableForSameInputs(t *testing.T) {
	a := Fingerprint("1.2.3.4", "curl/8", "abcd1234")
	b := Fingerprint("1.2.3.4", "curl/8", "abcd1234")
	require.Equal(t, a, b)
}

func TestFingerprint_DiffersAcrossInputs(t *testing.T) {
	a := Fingerprint("1.2.3.4", "curl/8", "abcd1234")
	b := Fingerprint("1.2.3.5", "curl/8", "abcd1234")
	require.NotEqual(t, a, b)
}

func TestTokenPrefix_ShortTokenUnchanged(t *testing.T) {
	require.Equal(t, "short", TokenPrefix("  short  "))
}

func TestTokenPrefix_LongTokenTruncatedToEight(t *testing.T) {
	require.Equal(t, "abcdefgh", TokenPrefix("abcdefghijklmnop"))
}

func TestAffinityTable_RecordAndLookup(t *testing.T) {
	table := NewAffinityTable()
	table.Record("fp-1", "identity-a")
	require.Equal(t, "identity-a", table.Lookup("fp-1"))
}

func TestAffinityTable_LookupMissReturnsEmpty(t *testing.T) {
	table := NewAffinityTable()
	require.Equal(t, "", table.Lookup("unknown"))
}

func TestAffinityTable_ExpiredEntryIsAMiss(t *testing.T) {
	table := &AffinityTable{
		entries: map[string]affinityEntry{
			"fp-1": {identityID: "identity-a", expiresAt: time.Now().Add(-time.Second)},
		},
		ttl: 60 * time.Second,
	}
	require.Equal(t, "", table.Lookup("fp-1"))
}
