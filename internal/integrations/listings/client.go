// Package listings talks to the external business-listing API through the
// server-side proxy and keeps the synchronized snapshot of accounts and
// locations.
package listings

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Integration is the identifier used for credential and cooldown bookkeeping.
const Integration = "listings"

// Account is one business account on the remote side.
type Account struct {
	Name        string `json:"name"`
	AccountName string `json:"accountName"`
	Type        string `json:"type"`
}

// Location is one business location under an account.
type Location struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	StoreCode   string `json:"storeCode,omitempty"`
	AccountName string `json:"accountName,omitempty"`
}

// apiError is the normalized upstream error object in the proxy's body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the proxy's response body. The proxy normalizes upstream
// errors into the error object so one classifier can sort every outcome.
type envelope struct {
	Accounts  []Account  `json:"accounts"`
	Locations []Location `json:"locations"`
	FromCache bool       `json:"from_cache"`
	SyncedAt  time.Time  `json:"synced_at"`
	Error     *apiError  `json:"error,omitempty"`
}

// Client calls the listing proxy.
type Client struct {
	httpClient *resty.Client
}

// NewClient builds a listing-proxy client.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("listings baseURL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	log.Info().Str("baseURL", baseURL).Msg("Listings client configured")
	return &Client{httpClient: httpClient}, nil
}

// Fetch requests accounts and locations with the given access token and
// classifies the response. Transport failures classify as GenericError; they
// never propagate as raw errors.
func (c *Client) Fetch(ctx context.Context, accessToken string) Outcome {
	var body envelope
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&body).
		SetError(&body).
		Get("/listings")

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode()
	}
	outcome := Classify(statusCode, &body, err)

	if outcome.Kind != KindSuccess && outcome.Kind != KindEmpty {
		log.Warn().
			Int("statusCode", statusCode).
			Str("kind", outcome.Kind.String()).
			Str("message", outcome.Message).
			Msg("Listing fetch did not succeed")
	}
	return outcome
}
