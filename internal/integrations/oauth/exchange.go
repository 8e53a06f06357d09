// Package oauth exchanges authorization codes for access tokens and relays
// popup results back to the opening window.
package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Exchanger wraps the provider's token endpoint.
type Exchanger struct {
	conf *oauth2.Config
}

// Options configures the provider endpoints.
type Options struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// NewExchanger validates the provider configuration.
func NewExchanger(opts Options) (*Exchanger, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("oauth client id cannot be empty")
	}
	if opts.TokenURL == "" {
		return nil, fmt.Errorf("oauth token URL cannot be empty")
	}

	conf := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURL,
		Scopes:       opts.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  opts.AuthURL,
			TokenURL: opts.TokenURL,
		},
	}

	log.Info().Str("tokenURL", opts.TokenURL).Msg("OAuth exchanger configured")
	return &Exchanger{conf: conf}, nil
}

// Result is a completed code exchange.
type Result struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Exchange trades an authorization code plus PKCE verifier for an access
// token and its expiry in seconds.
func (e *Exchanger) Exchange(ctx context.Context, code, verifier string) (*Result, error) {
	opts := []oauth2.AuthCodeOption{}
	if verifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", verifier))
	}

	tok, err := e.conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	expiresIn := int(time.Until(tok.Expiry) / time.Second)
	if tok.Expiry.IsZero() || expiresIn < 0 {
		expiresIn = 3600
	}

	log.Info().Int("expiresIn", expiresIn).Msg("Authorization code exchanged")
	return &Result{AccessToken: tok.AccessToken, ExpiresIn: expiresIn}, nil
}

// AuthCodeURL builds the provider consent URL for a given state and PKCE
// challenge.
func (e *Exchanger) AuthCodeURL(state, challenge string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if challenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return e.conf.AuthCodeURL(state, opts...)
}
