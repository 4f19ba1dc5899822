package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func withQuota(id *Identity, pct int) *Identity {
	id.Quota.Percentage = pct
	return id
}

func TestSelect_RoundRobinCyclesCandidates(t *testing.T) {
	s := NewSelector()
	a := NewIdentity("a", "a@example.com", "r")
	b := NewIdentity("b", "b@example.com", "r")
	candidates := []*Identity{a, b}

	first, err := s.Select(ModeRoundRobin, "gemini-3-pro", "", candidates)
	require.NoError(t, err)
	second, err := s.Select(ModeRoundRobin, "gemini-3-pro", "", candidates)
	require.NoError(t, err)
	third, err := s.Select(ModeRoundRobin, "gemini-3-pro", "", candidates)
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, first.ID, third.ID)
}

func TestSelect_BestQuotaPicksHighestMinimum(t *testing.T) {
	s := NewSelector()
	low := withQuota(NewIdentity("low", "low@example.com", "r"), 10)
	high := withQuota(NewIdentity("high", "high@example.com", "r"), 90)

	picked, err := s.Select(ModeBestQuota, "", "", []*Identity{low, high})
	require.NoError(t, err)
	require.Equal(t, "high", picked.ID)
}

func TestSelect_LeastRecentlyUsedPicksOldest(t *testing.T) {
	s := NewSelector()
	older := NewIdentity("older", "older@example.com", "r")
	older.LastUsed = time.Now().Add(-time.Hour)
	newer := NewIdentity("newer", "newer@example.com", "r")
	newer.LastUsed = time.Now()

	picked, err := s.Select(ModeLeastRecently, "", "", []*Identity{older, newer})
	require.NoError(t, err)
	require.Equal(t, "older", picked.ID)
}

func TestSelect_DisabledIdentityNeverPicked(t *testing.T) {
	s := NewSelector()
	disabled := NewIdentity("disabled", "d@example.com", "r")
	disabled.Disabled = true
	active := NewIdentity("active", "a@example.com", "r")

	for i := 0; i < 5; i++ {
		picked, err := s.Select(ModeRoundRobin, "", "", []*Identity{disabled, active})
		require.NoError(t, err)
		require.Equal(t, "active", picked.ID)
	}
}

func TestSelect_AllCoolingDownReturnsCooldownError(t *testing.T) {
	s := NewSelector()
	id := NewIdentity("id", "id@example.com", "r")
	id.Unavailable = true
	id.NextRetryAfter = time.Now().Add(2 * time.Second)

	_, err := s.Select(ModeRoundRobin, "", "", []*Identity{id})
	require.Error(t, err)
	var cooldownErr *CooldownError
	require.ErrorAs(t, err, &cooldownErr)
	require.Equal(t, 503, cooldownErr.StatusCode())
}

func TestSelect_PerModelCooldownDoesNotBlockOtherModels(t *testing.T) {
	s := NewSelector()
	id := NewIdentity("id", "id@example.com", "r")
	id.Cooldown("claude-opus-4-5", time.Now().Add(time.Minute), false)

	_, err := s.Select(ModeRoundRobin, "claude-opus-4-5", "", []*Identity{id})
	require.Error(t, err, "claude should be cooling down")

	picked, err := s.Select(ModeRoundRobin, "gemini-3-pro", "", []*Identity{id})
	require.NoError(t, err, "gemini should be unaffected by claude's cooldown")
	require.Equal(t, "id", picked.ID)
}

func TestSelect_StickyPrefersLastUsedIdentity(t *testing.T) {
	s := NewSelector()
	recorded := map[string]string{}
	s.StickyLookup = func(fp string) string { return recorded[fp] }
	s.StickyRecord = func(fp, id string) { recorded[fp] = id }

	a := withQuota(NewIdentity("a", "a@example.com", "r"), 80)
	b := withQuota(NewIdentity("b", "b@example.com", "r"), 80)
	candidates := []*Identity{a, b}

	first, err := s.Select(ModeSticky, "", "fp-1", candidates)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := s.Select(ModeSticky, "", "fp-1", candidates)
		require.NoError(t, err)
		require.Equal(t, first.ID, again.ID, "sticky should keep returning the same identity")
	}
}

func TestSelect_StickyFallsBackBelowFivePercentQuota(t *testing.T) {
	s := NewSelector()
	sticky := withQuota(NewIdentity("sticky", "sticky@example.com", "r"), 2)
	better := withQuota(NewIdentity("better", "better@example.com", "r"), 90)
	candidates := []*Identity{sticky, better}

	s.StickyLookup = func(fp string) string { return "sticky" }
	s.StickyRecord = func(fp, id string) {}

	picked, err := s.Select(ModeSticky, "", "fp-1", candidates)
	require.NoError(t, err)
	require.Equal(t, "better", picked.ID, "sticky identity below 5%% quota should be passed over")
}

func TestSelectBypassingCooldown_ConsidersCoolingDownIdentities(t *testing.T) {
	s := NewSelector()
	id := NewIdentity("id", "id@example.com", "r")
	id.Unavailable = true
	id.NextRetryAfter = time.Now().Add(time.Minute)

	picked, err := s.SelectBypassingCooldown(ModeRoundRobin, "", "", []*Identity{id})
	require.NoError(t, err)
	require.Equal(t, "id", picked.ID)
}
