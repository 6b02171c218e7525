package session

import (
	"context"
	"database/sql"

	"github.com/stackgenhq/platform/pkg/logger"
)

// Select picks the session backend once, in order of preference: redis if
// a URL is configured and reachable, then the relational database, then
// process memory. The choice is final; a backend that comes up later is
// not adopted mid-flight, since sessions minted in one backend would be
// invisible to another.
func Select(ctx context.Context, redisURL string, db *sql.DB, log *logger.Logger) Store {
	if log == nil {
		log = logger.NewDefault("session")
	}

	if redisURL != "" {
		store, err := NewRedisStore(ctx, redisURL)
		if err == nil {
			log.Infof("sessions backed by redis")
			return store
		}
		log.WithError(err).Warn("redis session store unavailable, falling back")
	}

	if db != nil {
		log.Infof("sessions backed by postgres")
		return NewPostgresStore(db)
	}

	log.Warn("sessions backed by process memory; they will not survive a restart")
	return NewMemoryStore()
}
