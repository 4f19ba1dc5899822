package identity

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// accessWindow is the safety margin before expiry at which a cached access
// credential is refreshed synchronously.
const accessWindow = 60 * time.Second

// Refresher exchanges a refresh credential for a new access credential.
// The concrete implementation wraps an oauth2.Config against the upstream's
// token endpoint; it is injected so tests can fake it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// EnsureFresh refreshes the identity's access credential if it is within
// accessWindow of expiry. On refresh failure the identity is disabled until
// manual re-auth.
func EnsureFresh(ctx context.Context, id *Identity, r Refresher) error {
	if !id.NeedsRefresh(accessWindow) {
		return nil
	}
	tok, err := r.Refresh(ctx, id.RefreshToken())
	if err != nil {
		id.Disable()
		return err
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	id.SetAccessToken(tok.AccessToken, expiry)
	return nil
}
