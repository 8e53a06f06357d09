package listings

import (
	"net/http"
	"strings"
	"time"
)

// Kind is the closed set of sync outcomes. Every response, transport failure
// included, maps to exactly one kind at this boundary so downstream code can
// match exhaustively instead of probing loosely-typed payloads.
type Kind int

const (
	KindSuccess Kind = iota
	KindQuotaExceeded
	KindAuthExpired
	KindGenericError
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindAuthExpired:
		return "auth_expired"
	case KindGenericError:
		return "generic_error"
	case KindEmpty:
		return "empty"
	}
	return "unknown"
}

// Outcome is one classified sync result. Accounts/Locations and the cache
// provenance fields are only meaningful for KindSuccess.
type Outcome struct {
	Kind      Kind
	Accounts  []Account
	Locations []Location
	FromCache bool
	SyncedAt  time.Time
	Message   string
}

// Classify is the single classification point for listing-proxy responses.
func Classify(statusCode int, body *envelope, transportErr error) Outcome {
	if transportErr != nil {
		return Outcome{Kind: KindGenericError, Message: transportErr.Error()}
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return Outcome{Kind: KindQuotaExceeded, Message: errMessage(body, "rate limit exceeded")}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Outcome{Kind: KindAuthExpired, Message: errMessage(body, "access token rejected")}
	}

	if body != nil && body.Error != nil {
		code := strings.ToUpper(body.Error.Code)
		switch {
		case strings.Contains(code, "RESOURCE_EXHAUSTED") || strings.Contains(code, "RATE_LIMIT"):
			return Outcome{Kind: KindQuotaExceeded, Message: body.Error.Message}
		case strings.Contains(code, "UNAUTHENTICATED") || strings.Contains(code, "PERMISSION_DENIED"):
			return Outcome{Kind: KindAuthExpired, Message: body.Error.Message}
		default:
			return Outcome{Kind: KindGenericError, Message: body.Error.Message}
		}
	}

	if statusCode < 200 || statusCode >= 300 {
		return Outcome{Kind: KindGenericError, Message: errMessage(body, http.StatusText(statusCode))}
	}

	if body == nil || len(body.Accounts) == 0 {
		// Zero accounts is a distinct state, not an error: the caller gets
		// different guidance for "nothing to sync" than for a failure.
		return Outcome{Kind: KindEmpty}
	}

	syncedAt := body.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	return Outcome{
		Kind:      KindSuccess,
		Accounts:  body.Accounts,
		Locations: body.Locations,
		FromCache: body.FromCache,
		SyncedAt:  syncedAt,
	}
}

func errMessage(body *envelope, fallback string) string {
	if body != nil && body.Error != nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return fallback
}
