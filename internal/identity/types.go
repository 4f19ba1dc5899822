// Package identity owns the pool of user OAuth identities backing upstream
// calls: their credentials, per-model cooldown state, and quota snapshots.
package identity

import (
	"sync"
	"time"
)

// Status describes the coarse availability of an Identity.
type Status int

const (
	// StatusActive identities are eligible for selection.
	StatusActive Status = iota
	// StatusDisabled identities are never selected until manually re-authed.
	StatusDisabled
)

// ModelQuota is the last-known remaining-quota snapshot for one model family.
type ModelQuota struct {
	Percentage    int       `json:"percentage"`
	ResetAt       time.Time `json:"reset_at"`
	Exceeded      bool      `json:"exceeded"`
	NextRecoverAt time.Time `json:"next_recover_at"`
}

// ModelState tracks per-model cooldown independent of the identity's overall
// status, so an exhausted Claude quota does not sideline an otherwise-healthy
// identity's Gemini traffic.
type ModelState struct {
	Status         Status
	Unavailable    bool
	NextRetryAfter time.Time
	Quota          ModelQuota
	LastError      *LastError
}

// LastError records the most recent upstream failure observed for a model,
// used only for diagnostics surfaced in 503 bodies.
type LastError struct {
	HTTPStatus int
	At         time.Time
	Message    string
}

// Identity is one user-owned OAuth credential pair plus its mutable runtime
// state. The refresh credential is never logged or serialised back to
// callers; LogSafe() should be used wherever an Identity reaches a log line.
type Identity struct {
	mu sync.Mutex

	ID          string
	Label       string // usually an email address
	ProjectID   string

	refreshToken string
	accessToken  string
	accessExpiry time.Time

	Disabled       bool
	Status         Status
	Unavailable    bool
	NextRetryAfter time.Time
	Quota          ModelQuota

	// Forbidden is UI-visible permission-anomalous state raised by a 403,
	// distinct from Disabled: it flags a region/permission restriction
	// without taking the identity out of rotation for other models or
	// future requests the way Disable does.
	Forbidden   bool
	ForbiddenAt time.Time

	ModelStates map[string]*ModelState

	LastUsed time.Time
}

// NewIdentity constructs an Identity in the active state.
func NewIdentity(id, label, refreshToken string) *Identity {
	return &Identity{
		ID:           id,
		Label:        label,
		refreshToken: refreshToken,
		Status:       StatusActive,
		ModelStates:  make(map[string]*ModelState),
	}
}

// LogSafe returns a representation fit for log lines: never the refresh
// credential, never the raw access credential.
func (id *Identity) LogSafe() map[string]any {
	id.mu.Lock()
	defer id.mu.Unlock()
	return map[string]any{
		"id":        id.ID,
		"label":     id.Label,
		"disabled":  id.Disabled,
		"forbidden": id.Forbidden,
		"has_token": id.accessToken != "",
	}
}

// AccessToken returns the cached access credential and its expiry.
func (id *Identity) AccessToken() (string, time.Time) {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.accessToken, id.accessExpiry
}

// SetAccessToken stores a freshly refreshed access credential.
func (id *Identity) SetAccessToken(token string, expiry time.Time) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.accessToken = token
	id.accessExpiry = expiry
}

// RefreshToken returns the long-lived refresh credential. Callers must never
// log the result.
func (id *Identity) RefreshToken() string {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.refreshToken
}

// NeedsRefresh reports whether the cached access credential expires within
// the given safety window (60s per the data model invariant).
func (id *Identity) NeedsRefresh(window time.Duration) bool {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.accessToken == "" {
		return true
	}
	return time.Until(id.accessExpiry) < window
}

// Disable marks the identity unusable until manual re-auth.
func (id *Identity) Disable() {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.Disabled = true
	id.Status = StatusDisabled
}

// MarkForbidden records a 403 as UI-visible permission-anomalous state.
// Unlike Disable, this leaves the identity eligible for selection: a
// region or permission restriction on one request doesn't mean the
// identity is unusable for other models or future requests.
func (id *Identity) MarkForbidden() {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.Forbidden = true
	id.ForbiddenAt = time.Now()
}

// ModelState returns (creating if absent) the per-model cooldown record.
func (id *Identity) ModelState(model string) *ModelState {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.ModelStates == nil {
		id.ModelStates = make(map[string]*ModelState)
	}
	st, ok := id.ModelStates[model]
	if !ok {
		st = &ModelState{Status: StatusActive}
		id.ModelStates[model] = st
	}
	return st
}

// Cooldown marks the identity (or, when model is non-empty, just that
// model) unavailable until the given instant.
func (id *Identity) Cooldown(model string, until time.Time, quotaExceeded bool) {
	id.mu.Lock()
	defer id.mu.Unlock()
	if model == "" {
		id.Unavailable = true
		id.NextRetryAfter = until
		id.Quota.Exceeded = quotaExceeded
		id.Quota.NextRecoverAt = until
		return
	}
	if id.ModelStates == nil {
		id.ModelStates = make(map[string]*ModelState)
	}
	st, ok := id.ModelStates[model]
	if !ok {
		st = &ModelState{}
		id.ModelStates[model] = st
	}
	st.Unavailable = true
	st.NextRetryAfter = until
	st.Quota.Exceeded = quotaExceeded
	st.Quota.NextRecoverAt = until
}

// Touch records that the identity was just selected, for LRU ordering.
func (id *Identity) Touch() {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.LastUsed = time.Now()
}

// MinQuotaPercentage returns the lowest remaining-quota percentage across
// the identity's tracked model families, used by the best-quota scheduler.
func (id *Identity) MinQuotaPercentage() int {
	id.mu.Lock()
	defer id.mu.Unlock()
	if len(id.ModelStates) == 0 {
		return id.Quota.Percentage
	}
	min := 100
	for _, st := range id.ModelStates {
		if st.Quota.Percentage < min {
			min = st.Quota.Percentage
		}
	}
	return min
}
