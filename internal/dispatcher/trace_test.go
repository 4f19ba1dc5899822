package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTraceID_IsShortAndHyphenFree(t *testing.T) {
	id := NewTraceID()
	require.Len(t, id, 6)
	require.NotContains(t, id, "-")
}

func TestNewTraceID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewTraceID()
		require.False(t, seen[id], "generated duplicate trace id %q", id)
		seen[id] = true
	}
}

func TestNewTrace_InitializesFields(t *testing.T) {
	tr := NewTrace("openai", "gemini-3-pro")
	require.Equal(t, "openai", tr.Dialect)
	require.Equal(t, "gemini-3-pro", tr.Model)
	require.NotEmpty(t, tr.ID)
	require.False(t, tr.StartedAt.IsZero())
	require.True(t, tr.EndedAt.IsZero())
}

func TestTrace_FinishStampsEndedAt(t *testing.T) {
	tr := NewTrace("anthropic", "claude-opus-4-5")
	tr.Finish()
	require.False(t, tr.EndedAt.IsZero())
	require.True(t, !tr.EndedAt.Before(tr.StartedAt))
}
