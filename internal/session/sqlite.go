package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petsync/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the session in a local database file
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the session file and its schema
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating session db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS session (
		slot       INTEGER PRIMARY KEY CHECK (slot = 1),
		token      TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		profile    TEXT NOT NULL,
		saved_at   TEXT NOT NULL
	);
	`)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save replaces the stored session
func (s *SQLiteStore) Save(ctx context.Context, sess domain.Session) error {
	profile, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session (slot, token, user_id, profile, saved_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			profile = excluded.profile,
			saved_at = excluded.saved_at`,
		sess.Token, sess.User.ID, string(profile), now,
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	s.logger.Debug("session saved", "user_id", sess.User.ID)
	return nil
}

// Load returns the stored session
func (s *SQLiteStore) Load(ctx context.Context) (domain.Session, error) {
	var (
		sess    domain.Session
		profile string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, profile FROM session WHERE slot = 1`,
	).Scan(&sess.Token, &profile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("loading session: %w", err)
	}
	if err := json.Unmarshal([]byte(profile), &sess.User); err != nil {
		return domain.Session{}, fmt.Errorf("decoding profile: %w", err)
	}
	return sess, nil
}

// Clear forgets the stored session
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
