// Package session keeps the credential pair produced by login between runs.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
)

// Store persists a single session. Load returns domain.ErrSessionNotFound
// when nothing has been saved.
type Store interface {
	Save(ctx context.Context, s domain.Session) error
	Load(ctx context.Context) (domain.Session, error)
	Clear(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Session.Backend
func Open(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Session.Backend {
	case config.SessionRedis:
		return NewRedisStore(&cfg.Redis, cfg.Session.KeyPrefix, logger)
	case config.SessionSQLite, "":
		return NewSQLiteStore(cfg.Session.Path, logger)
	default:
		return nil, fmt.Errorf("%w: unknown session backend %q", domain.ErrInvalidRequest, cfg.Session.Backend)
	}
}

// Identity returns the stored user id, or ErrNoIdentity when no usable session exists
func Identity(ctx context.Context, st Store) (string, error) {
	s, err := st.Load(ctx)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return "", domain.ErrNoIdentity
		}
		return "", err
	}
	if s.User.ID == "" {
		return "", domain.ErrNoIdentity
	}
	return s.User.ID, nil
}
