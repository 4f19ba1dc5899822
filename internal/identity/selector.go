package identity

import (
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Mode selects the scheduling strategy used by Select.
type Mode string

const (
	ModeRoundRobin    Mode = "round-robin"
	ModeLeastRecently Mode = "least-recently-used"
	ModeBestQuota     Mode = "best-quota"
	ModeSticky        Mode = "sticky"
)

// CooldownError is returned when every candidate is blocked by cooldown;
// it carries enough detail for a caller to build a 503 body with Retry-After.
type CooldownError struct {
	Model       string
	RetryAfter  time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("all identities cooling down for model %s, retry after %s", e.Model, e.RetryAfter)
}

func (e *CooldownError) StatusCode() int { return http.StatusServiceUnavailable }

// Selector picks one identity from a candidate slice according to a mode.
// Round-robin state is kept per (mode, model) key so different models don't
// share a cursor.
type Selector struct {
	cursors map[string]int

	// StickyLookup resolves a session fingerprint to a previously-used
	// identity ID, or "" on miss. Nil disables sticky affinity.
	StickyLookup func(fingerprint string) string
	// StickyRecord is called after a successful pick under sticky mode so
	// subsequent requests from the same fingerprint reuse the choice.
	StickyRecord func(fingerprint, identityID string)
}

// NewSelector constructs a Selector with empty round-robin cursors.
func NewSelector() *Selector {
	return &Selector{cursors: make(map[string]int)}
}

// eligible filters out disabled identities, and, unless bypassCooldown is
// set, identities still cooling down for the given model.
func eligible(candidates []*Identity, model string, now time.Time, bypassCooldown bool) (ok []*Identity, earliestRetry time.Time) {
	for _, id := range candidates {
		if id.Disabled || id.Status == StatusDisabled {
			continue
		}
		if !bypassCooldown {
			if model != "" {
				if st, has := id.ModelStates[model]; has && st != nil {
					if st.Status == StatusDisabled {
						continue
					}
					if st.Unavailable && st.NextRetryAfter.After(now) {
						if earliestRetry.IsZero() || st.NextRetryAfter.Before(earliestRetry) {
							earliestRetry = st.NextRetryAfter
						}
						continue
					}
				}
			} else if id.Unavailable && id.NextRetryAfter.After(now) {
				if earliestRetry.IsZero() || id.NextRetryAfter.Before(earliestRetry) {
					earliestRetry = id.NextRetryAfter
				}
				continue
			}
		}
		ok = append(ok, id)
	}
	return ok, earliestRetry
}

// Select picks one identity from candidates for the given model under the
// requested mode. fingerprint is only consulted for ModeSticky.
func (s *Selector) Select(mode Mode, model, fingerprint string, candidates []*Identity) (*Identity, error) {
	return s.selectWithCooldownPolicy(mode, model, fingerprint, candidates, false)
}

// SelectBypassingCooldown is Select, but also considers identities that
// are cooling down. The Dispatcher calls this when rotating away from an
// identity that just failed with 401/403/429: refusing to rotate just
// because every *other* identity happens to be in some unrelated cooldown
// would turn a recoverable failure into a hard 503.
func (s *Selector) SelectBypassingCooldown(mode Mode, model, fingerprint string, candidates []*Identity) (*Identity, error) {
	return s.selectWithCooldownPolicy(mode, model, fingerprint, candidates, true)
}

func (s *Selector) selectWithCooldownPolicy(mode Mode, model, fingerprint string, candidates []*Identity, bypassCooldown bool) (*Identity, error) {
	now := time.Now()
	avail, earliest := eligible(candidates, model, now, bypassCooldown)
	if len(avail) == 0 {
		retryAfter := time.Duration(0)
		if !earliest.IsZero() {
			retryAfter = earliest.Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return nil, &CooldownError{Model: model, RetryAfter: retryAfter}
	}

	sort.Slice(avail, func(i, j int) bool { return avail[i].ID < avail[j].ID })

	switch mode {
	case ModeSticky:
		if s.StickyLookup != nil && fingerprint != "" {
			if last := s.StickyLookup(fingerprint); last != "" {
				// Prefer affinity unless the sticky identity's minimum quota
				// has fallen below 5%, in which case fall back to
				// best-quota so a nearly-exhausted identity doesn't keep
				// soaking up one client's traffic.
				for _, id := range avail {
					if id.ID == last && id.MinQuotaPercentage() >= 5 {
						id.Touch()
						return id, nil
					}
				}
			}
		}
		picked := bestQuota(avail)
		picked.Touch()
		if s.StickyRecord != nil && fingerprint != "" {
			s.StickyRecord(fingerprint, picked.ID)
		}
		return picked, nil

	case ModeBestQuota:
		picked := bestQuota(avail)
		picked.Touch()
		return picked, nil

	case ModeLeastRecently:
		picked := avail[0]
		for _, id := range avail[1:] {
			if id.LastUsed.Before(picked.LastUsed) {
				picked = id
			}
		}
		picked.Touch()
		return picked, nil

	default: // ModeRoundRobin
		key := string(mode) + ":" + model
		if s.cursors == nil {
			s.cursors = make(map[string]int)
		}
		idx := s.cursors[key]
		s.cursors[key] = idx + 1
		picked := avail[idx%len(avail)]
		picked.Touch()
		return picked, nil
	}
}

// bestQuota returns the candidate with the highest minimum quota
// percentage across tracked model families.
func bestQuota(avail []*Identity) *Identity {
	best := avail[0]
	bestScore := best.MinQuotaPercentage()
	for _, id := range avail[1:] {
		score := id.MinQuotaPercentage()
		if score > bestScore {
			best = id
			bestScore = score
		}
	}
	return best
}
