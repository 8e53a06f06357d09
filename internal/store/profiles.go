package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	gocache "github.com/patrickmn/go-cache"

	"livedesk/internal/presence"
)

// ProfileStore batch-resolves display profiles by identity id, with an
// in-process cache in front of the table.
type ProfileStore struct {
	db    *DB
	cache *gocache.Cache
}

// NewProfileStore wraps the shared handle. Profiles change rarely; a short
// TTL keeps avatar/name edits from being stale for long.
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{
		db:    db,
		cache: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

type profileRow struct {
	IdentityID string `db:"identity_id"`
	AvatarURL  string `db:"avatar_url"`
	FullName   string `db:"full_name"`
}

// ProfilesByIdentity resolves a batch of identity ids in one query, serving
// cached entries first. Unknown ids are simply absent from the result.
func (s *ProfileStore) ProfilesByIdentity(ctx context.Context, identityIDs []string) (map[string]presence.Profile, error) {
	out := make(map[string]presence.Profile, len(identityIDs))

	var missing []string
	for _, id := range identityIDs {
		if cached, ok := s.cache.Get(id); ok {
			out[id] = cached.(presence.Profile)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		`SELECT identity_id, avatar_url, full_name FROM profiles WHERE identity_id IN (?)`, missing)
	if err != nil {
		return nil, fmt.Errorf("building profile query: %w", err)
	}
	query = s.db.Rebind(query)

	var rows []profileRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("selecting profiles: %w", err)
	}

	for _, r := range rows {
		prof := presence.Profile{AvatarURL: r.AvatarURL, FullName: r.FullName}
		out[r.IdentityID] = prof
		s.cache.Set(r.IdentityID, prof, gocache.DefaultExpiration)
	}
	return out, nil
}
