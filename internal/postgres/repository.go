package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
)

// Repository reads and writes the authority's tables directly. It serves as
// both the snapshot backend and the location writer.
type Repository struct {
	pool   *pgxpool.Pool
	canvas config.MotionConfig
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, canvas config.MotionConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		canvas: canvas,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL UNIQUE,
			is_online BOOLEAN NOT NULL DEFAULT FALSE,
			difficulty DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tamagotchis (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			owner_id VARCHAR(64) NOT NULL,
			happiness INT NOT NULL DEFAULT 100,
			hunger INT NOT NULL DEFAULT 0,
			energy INT NOT NULL DEFAULT 100,
			health INT NOT NULL DEFAULT 100,
			age INT NOT NULL DEFAULT 0,
			is_alive BOOLEAN NOT NULL DEFAULT TRUE,
			status VARCHAR(32) NOT NULL DEFAULT 'Happy',
			x DOUBLE PRECISION,
			y DOUBLE PRECISION,
			direction DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tamagotchis_owner ON tamagotchis(owner_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// AllPets returns every pet, with a position only where one was stored
func (r *Repository) AllPets(ctx context.Context) ([]domain.Pet, error) {
	query := `
		SELECT id, name, owner_id, happiness, hunger, energy, health, age,
		       is_alive, status, x, y, direction
		FROM tamagotchis
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing pets: %w", err)
	}
	defer rows.Close()

	var pets []domain.Pet
	for rows.Next() {
		var (
			p         domain.Pet
			x, y      *float64
			direction float64
		)
		err := rows.Scan(
			&p.ID, &p.Name, &p.OwnerID,
			&p.Happiness, &p.Hunger, &p.Energy, &p.Health, &p.Age,
			&p.IsAlive, &p.Status, &x, &y, &direction,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning pet: %w", err)
		}
		if x != nil && y != nil {
			p.Position = &domain.Position{X: *x, Y: *y, Direction: direction}
		}
		pets = append(pets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pets: %w", err)
	}
	return pets, nil
}

// AllUsers returns every account
func (r *Repository) AllUsers(ctx context.Context) ([]domain.User, error) {
	query := `
		SELECT id, username, is_online, difficulty, created_at
		FROM users
		ORDER BY username
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var (
			u         domain.User
			createdAt time.Time
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.IsOnline, &u.Difficulty, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// UpdatePetLocation stores a pet's position, clamped to the canvas
func (r *Repository) UpdatePetLocation(ctx context.Context, id string, x, y float64) (domain.PetLocation, error) {
	loc := ClampLocation(domain.PetLocation{ID: id, X: x, Y: y}, r.canvas.CanvasWidth, r.canvas.CanvasHeight)

	query := `
		UPDATE tamagotchis
		SET x = $2, y = $3, updated_at = $4
		WHERE id = $1
		RETURNING x, y
	`
	err := r.pool.QueryRow(ctx, query, id, loc.X, loc.Y, time.Now()).Scan(&loc.X, &loc.Y)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PetLocation{}, domain.ErrPetNotFound
		}
		return domain.PetLocation{}, fmt.Errorf("updating pet location: %w", err)
	}
	return loc, nil
}

// UpsertPets inserts or replaces pets in one batch
func (r *Repository) UpsertPets(ctx context.Context, pets []domain.Pet) error {
	if len(pets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO tamagotchis (id, name, owner_id, happiness, hunger, energy, health, age,
		                         is_alive, status, x, y, direction, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id)
		DO UPDATE SET name = $2, owner_id = $3, happiness = $4, hunger = $5, energy = $6,
		              health = $7, age = $8, is_alive = $9, status = $10,
		              x = $11, y = $12, direction = $13, updated_at = $14
	`
	now := time.Now()
	for _, p := range pets {
		var x, y *float64
		var direction float64
		if p.Position != nil {
			x, y, direction = &p.Position.X, &p.Position.Y, p.Position.Direction
		}
		batch.Queue(query, p.ID, p.Name, p.OwnerID, p.Happiness, p.Hunger, p.Energy, p.Health, p.Age,
			p.IsAlive, p.Status, x, y, direction, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting pets: %w", err)
		}
	}
	return nil
}

// UpsertUser inserts or replaces a user
func (r *Repository) UpsertUser(ctx context.Context, u domain.User) error {
	query := `
		INSERT INTO users (id, username, is_online, difficulty)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET username = $2, is_online = $3, difficulty = $4
	`
	if _, err := r.pool.Exec(ctx, query, u.ID, u.Username, u.IsOnline, u.Difficulty); err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// ClampLocation keeps a location inside a width x height canvas. A
// non-positive dimension leaves that axis unclamped.
func ClampLocation(loc domain.PetLocation, width, height float64) domain.PetLocation {
	if width > 0 {
		loc.X = min(max(loc.X, 0), width)
	}
	if height > 0 {
		loc.Y = min(max(loc.Y, 0), height)
	}
	return loc
}
