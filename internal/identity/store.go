package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// record is the on-disk shape of one Identity. The account store itself
// (encryption at rest, key management) is an external collaborator; this
// file format is only the boundary the gateway reads/writes across.
type record struct {
	ID           string     `json:"id"`
	Label        string     `json:"label"`
	ProjectID    string     `json:"project_id"`
	RefreshToken string     `json:"refresh_token"`
	AccessToken  string     `json:"access_token,omitempty"`
	AccessExpiry time.Time  `json:"access_expiry,omitempty"`
	Disabled     bool       `json:"disabled"`
	Forbidden    bool       `json:"forbidden,omitempty"`
	Quota        ModelQuota `json:"quota"`
}

// LoadPool reads a JSON array of identity records from path and returns a
// populated Pool. A missing file yields an empty pool, not an error, so a
// fresh install can start with zero identities and add them later.
func LoadPool(path string) (*Pool, error) {
	pool := NewPool()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pool, nil
		}
		return nil, fmt.Errorf("identity: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return pool, nil
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("identity: parsing %s: %w", path, err)
	}

	for _, rec := range records {
		id := NewIdentity(rec.ID, rec.Label, rec.RefreshToken)
		id.ProjectID = rec.ProjectID
		id.Disabled = rec.Disabled
		id.Forbidden = rec.Forbidden
		id.Quota = rec.Quota
		if rec.AccessToken != "" {
			id.SetAccessToken(rec.AccessToken, rec.AccessExpiry)
		}
		pool.Add(id)
	}
	return pool, nil
}

// SavePool writes the pool's current state back to path, replacing it
// atomically via a temp-file rename so a crash mid-write never truncates
// the existing store.
func SavePool(path string, pool *Pool) error {
	records := make([]record, 0, len(pool.All()))
	for _, id := range pool.All() {
		accessToken, accessExpiry := id.AccessToken()
		records = append(records, record{
			ID:           id.ID,
			Label:        id.Label,
			ProjectID:    id.ProjectID,
			RefreshToken: id.RefreshToken(),
			AccessToken:  accessToken,
			AccessExpiry: accessExpiry,
			Disabled:     id.Disabled,
			Forbidden:    id.Forbidden,
			Quota:        id.Quota,
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: encoding %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("identity: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("identity: renaming %s: %w", tmp, err)
	}
	return nil
}

// Dir is a convenience for callers that want to ensure the store's parent
// directory exists before the first SavePool call.
func Dir(path string) string { return filepath.Dir(path) }
