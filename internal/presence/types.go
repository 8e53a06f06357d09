// Package presence tracks live visitor sessions and collapses them into one
// canonical entry per real person for the operator dashboard.
package presence

import "time"

// Session is one raw visitor-session record as written by the tracking
// beacon. IdentityID is empty while the visitor is anonymous.
type Session struct {
	SessionID      string    `db:"session_id" json:"session_id"`
	IdentityID     string    `db:"identity_id" json:"identity_id,omitempty"`
	FirstPage      string    `db:"first_page" json:"first_page"`
	StartedAt      time.Time `db:"started_at" json:"started_at"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
	PageCount      int       `db:"page_count" json:"page_count"`
}

// IdentityKey is the value sessions are deduplicated on: the logged-in
// identifier when available, else the anonymous session id.
func (s Session) IdentityKey() string {
	if s.IdentityID != "" {
		return s.IdentityID
	}
	return s.SessionID
}

// TimeOnSite is how long the session has been active.
func (s Session) TimeOnSite() time.Duration {
	return s.LastActivityAt.Sub(s.StartedAt)
}

// Profile is the display enrichment attached to a canonical visitor.
type Profile struct {
	AvatarURL string `db:"avatar_url" json:"avatar_url,omitempty"`
	FullName  string `db:"full_name" json:"full_name,omitempty"`
}

// Visitor is the canonical, deduplicated representation of one live person.
type Visitor struct {
	Session
	IsSelf      bool   `json:"is_self"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Operator identifies the dashboard user so their own browsing never shows up
// as a second visitor. SessionID is the locally remembered "my session id"
// and covers the window before the identity resolves.
type Operator struct {
	IdentityID string
	SessionID  string
}

// Matches reports whether the session belongs to the operator, by identity or
// by remembered session id.
func (o Operator) Matches(s Session) bool {
	if o.IdentityID != "" && s.IdentityID == o.IdentityID {
		return true
	}
	return o.SessionID != "" && s.SessionID == o.SessionID
}
