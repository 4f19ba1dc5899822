package identity

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleRefresher exchanges a stored Google OAuth refresh credential for a
// fresh access credential against Google's token endpoint, the same
// client id/secret pair the upstream-facing login flow registers under.
type GoogleRefresher struct {
	config oauth2.Config
}

// NewGoogleRefresher builds a Refresher for the given OAuth client
// credentials. These are not secrets in the traditional sense (they
// identify the installed-app client, not a per-user credential) but are
// still read from config rather than hardcoded so a deployment can rotate
// them.
func NewGoogleRefresher(clientID, clientSecret string) *GoogleRefresher {
	return &GoogleRefresher{config: oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
	}}
}

// Refresh implements Refresher.
func (g *GoogleRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}
