package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log           LogConfig          `yaml:"log"`
	Server        ServerConfig       `yaml:"server"`
	Authority     AuthorityConfig    `yaml:"authority"`
	Transport     TransportConfig    `yaml:"transport"`
	Feed          FeedConfig         `yaml:"feed"`
	Kafka         KafkaConfig        `yaml:"kafka"`
	Postgres      PostgresConfig     `yaml:"postgres"`
	Session       SessionConfig      `yaml:"session"`
	Redis         RedisConfig        `yaml:"redis"`
	Motion        MotionConfig       `yaml:"motion"`
	Persistence   PersistenceConfig  `yaml:"persistence"`
	Notifications NotificationConfig `yaml:"notifications"`
	View          ViewConfig         `yaml:"view"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel converts the configured level name to a slog level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ServerConfig holds the local HTTP API configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Authority backends
const (
	BackendGraphQL  = "graphql"
	BackendPostgres = "postgres"
)

// AuthorityConfig describes how to reach the remote authority
type AuthorityConfig struct {
	URL             string        `yaml:"url"`
	WSURL           string        `yaml:"ws_url"`
	SubscriptionURL string        `yaml:"subscription_url"`
	Timeout         time.Duration `yaml:"timeout"`
	Backend         string        `yaml:"backend"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
}

// TransportConfig holds raw socket configuration
type TransportConfig struct {
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	WriteWait      time.Duration `yaml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"`
}

// Push feed sources
const (
	FeedSourceGraphQL = "graphql"
	FeedSourceKafka   = "kafka"
	FeedSourceNone    = "none"
)

// FeedConfig selects the push feed source
type FeedConfig struct {
	Source string `yaml:"source"`
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// Session backends
const (
	SessionSQLite = "sqlite"
	SessionRedis  = "redis"
)

// SessionConfig selects where the credential pair is kept
type SessionConfig struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MotionConfig tunes the client-side motion model
type MotionConfig struct {
	FrameRate       int           `yaml:"frame_rate"`
	CanvasWidth     float64       `yaml:"canvas_width"`
	CanvasHeight    float64       `yaml:"canvas_height"`
	CollisionRadius float64       `yaml:"collision_radius"`
	MinDuration     time.Duration `yaml:"min_duration"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	PerPixel        time.Duration `yaml:"per_pixel"`
}

// PersistenceConfig holds position save scheduling
type PersistenceConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// NotificationConfig holds notice lifetimes
type NotificationConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	HideDeadDelay time.Duration `yaml:"hide_dead_delay"`
}

// ViewConfig holds renderer hub configuration
type ViewConfig struct {
	BroadcastRate int `yaml:"broadcast_rate"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{Persistence: PersistenceConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Authority defaults
	if c.Authority.URL == "" {
		c.Authority.URL = "http://localhost:8000/graphql"
	}
	if c.Authority.WSURL == "" {
		c.Authority.WSURL = "ws://localhost:8000"
	}
	if c.Authority.SubscriptionURL == "" {
		c.Authority.SubscriptionURL = "ws://localhost:8000/graphql"
	}
	if c.Authority.Timeout == 0 {
		c.Authority.Timeout = 10 * time.Second
	}
	if c.Authority.Backend == "" {
		c.Authority.Backend = BackendGraphQL
	}

	// Transport defaults
	if c.Transport.BaseDelay == 0 {
		c.Transport.BaseDelay = 1 * time.Second
	}
	if c.Transport.MaxDelay == 0 {
		c.Transport.MaxDelay = 30 * time.Second
	}
	if c.Transport.WriteWait == 0 {
		c.Transport.WriteWait = 10 * time.Second
	}
	if c.Transport.PongWait == 0 {
		c.Transport.PongWait = 60 * time.Second
	}
	if c.Transport.MaxMessageSize == 0 {
		c.Transport.MaxMessageSize = 1 << 20
	}
	if c.Transport.SendBuffer == 0 {
		c.Transport.SendBuffer = 64
	}

	if c.Feed.Source == "" {
		c.Feed.Source = FeedSourceGraphQL
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "pet-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "petsync-client"
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Session defaults
	if c.Session.Backend == "" {
		c.Session.Backend = SessionSQLite
	}
	if c.Session.Path == "" {
		c.Session.Path = "petsync-session.db"
	}
	if c.Session.KeyPrefix == "" {
		c.Session.KeyPrefix = "petsync"
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 4
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// Motion defaults
	if c.Motion.FrameRate == 0 {
		c.Motion.FrameRate = 60
	}
	if c.Motion.CanvasWidth == 0 {
		c.Motion.CanvasWidth = 800
	}
	if c.Motion.CanvasHeight == 0 {
		c.Motion.CanvasHeight = 600
	}
	if c.Motion.CollisionRadius == 0 {
		c.Motion.CollisionRadius = 24
	}
	if c.Motion.MinDuration == 0 {
		c.Motion.MinDuration = 200 * time.Millisecond
	}
	if c.Motion.MaxDuration == 0 {
		c.Motion.MaxDuration = 2 * time.Second
	}
	if c.Motion.PerPixel == 0 {
		c.Motion.PerPixel = 5 * time.Millisecond
	}

	// Persistence defaults
	if c.Persistence.Debounce == 0 {
		c.Persistence.Debounce = 30 * time.Second
	}
	if c.Persistence.Interval == 0 {
		c.Persistence.Interval = 60 * time.Second
	}

	// Notification defaults
	if c.Notifications.TTL == 0 {
		c.Notifications.TTL = 5 * time.Second
	}
	if c.Notifications.HideDeadDelay == 0 {
		c.Notifications.HideDeadDelay = 3 * time.Second
	}

	if c.View.BroadcastRate == 0 {
		c.View.BroadcastRate = 20
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Persistence.Enabled = true
	return cfg
}
