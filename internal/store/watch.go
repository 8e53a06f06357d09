package store

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const conversationsChannel = "conversations_changed"

// WatchConversations invokes onChange whenever a conversation row is inserted
// or updated. On postgres it rides LISTEN/NOTIFY; on sqlite it degrades to a
// coarse poll. Blocks until ctx is cancelled.
func (db *DB) WatchConversations(ctx context.Context, onChange func()) {
	if db.Dialect == "postgres" {
		db.watchPostgres(ctx, onChange)
		return
	}
	db.watchPolling(ctx, onChange)
}

func (db *DB) watchPostgres(ctx context.Context, onChange func()) {
	listener := pq.NewListener(db.DSN, 10*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(event)).Msg("Conversation listener event")
		}
	})
	defer func() {
		_ = listener.Close()
	}()

	if err := listener.Listen(conversationsChannel); err != nil {
		log.Error().Err(err).Msg("LISTEN failed, falling back to polling for conversation changes")
		db.watchPolling(ctx, onChange)
		return
	}
	log.Info().Str("channel", conversationsChannel).Msg("Listening for conversation changes")

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			// n is nil when the connection was re-established; treat it as a
			// potential missed change.
			if n != nil {
				log.Debug().Str("conversationID", n.Extra).Msg("Conversation change notification")
			}
			onChange()
		case <-time.After(90 * time.Second):
			go func() {
				_ = listener.Ping()
			}()
		}
	}
}

func (db *DB) watchPolling(ctx context.Context, onChange func()) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	log.Info().Msg("Polling for conversation changes")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			onChange()
		}
	}
}
