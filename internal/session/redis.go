package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
)

// RedisStore keeps the session in a Redis hash
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg *config.RedisConfig, prefix string, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix, logger: logger}, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// sessionKey returns the Redis key for the session hash
func (s *RedisStore) sessionKey() string {
	return fmt.Sprintf("%s:session", s.prefix)
}

// Save replaces the stored session
func (s *RedisStore) Save(ctx context.Context, sess domain.Session) error {
	profile, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	key := s.sessionKey()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"token", sess.Token,
		"user_id", sess.User.ID,
		"username", sess.User.Username,
		"profile", string(profile),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	s.logger.Debug("session saved", "user_id", sess.User.ID)
	return nil
}

// Load returns the stored session
func (s *RedisStore) Load(ctx context.Context) (domain.Session, error) {
	result, err := s.client.HGetAll(ctx, s.sessionKey()).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("loading session: %w", err)
	}
	if len(result) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	sess := domain.Session{
		Token: result["token"],
		User: domain.User{
			ID:       result["user_id"],
			Username: result["username"],
		},
	}
	if profile, ok := result["profile"]; ok {
		if err := json.Unmarshal([]byte(profile), &sess.User); err != nil {
			return domain.Session{}, fmt.Errorf("decoding profile: %w", err)
		}
	}
	return sess, nil
}

// Clear forgets the stored session
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.sessionKey()).Err(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
