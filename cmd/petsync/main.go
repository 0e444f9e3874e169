package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petsync/internal/authority"
	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/feed"
	"github.com/petsync/internal/handler"
	"github.com/petsync/internal/motion"
	"github.com/petsync/internal/notify"
	"github.com/petsync/internal/persistence"
	"github.com/petsync/internal/postgres"
	"github.com/petsync/internal/registry"
	"github.com/petsync/internal/service"
	"github.com/petsync/internal/session"
	"github.com/petsync/internal/transport"
	"github.com/petsync/internal/view"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	logout := flag.Bool("logout", false, "Forget the stored session and exit")
	flag.Parse()

	// Setup structured logging; the level is adjusted once config is loaded
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}
	level.Set(cfg.Log.SlogLevel())

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session storage
	sessions, err := session.Open(cfg, logger)
	if err != nil {
		logger.Error("failed to open session store", "backend", cfg.Session.Backend, "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	if *logout {
		if id, err := session.Identity(ctx, sessions); err == nil {
			logger.Info("forgetting session", "user_id", id)
		}
		if err := sessions.Clear(ctx); err != nil {
			logger.Error("failed to clear session", "error", err)
			os.Exit(1)
		}
		logger.Info("session cleared")
		return
	}

	// Authority client and credentials
	authClient := authority.NewClient(cfg.Authority, logger)
	sess, err := bootstrapSession(ctx, sessions, authClient, cfg.Authority, logger)
	if err != nil {
		logger.Warn("no usable session, running without identity", "error", err)
	}

	// Registry and notices
	sink := notify.NewSink(cfg.Notifications.TTL, logger)
	defer sink.Close()
	store := registry.NewStore(sink, cfg.Notifications.HideDeadDelay, logger)
	defer store.Close()
	store.SetViewer(sess.User.ID)

	// Snapshot backend and location writer
	var (
		snapshots feed.Snapshotter            = authClient
		writer    persistence.LocationWriter = authClient
	)
	if cfg.Authority.Backend == config.BackendPostgres {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, cfg.Motion, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		snapshots, writer = repo, repo
		logger.Info("connected to PostgreSQL")
	}

	// Raw socket
	channel := transport.NewChannel(cfg.Authority.WSURL, cfg.Transport, logger)
	apply := feed.Apply(store, logger)
	channel.OnMessage(apply)

	// Motion, loading and persistence
	model := motion.NewModel(store, cfg.Motion, logger)
	loader := feed.NewLoader(snapshots, store, logger)
	loader.AfterLoad(func() { model.PlaceMissing() })
	scheduler := persistence.NewScheduler(store, writer, channel, cfg.Persistence, logger)
	model.OnChange(scheduler.Touch)

	logger.Info("loading pets and users")
	if err := loader.LoadAll(ctx); err != nil {
		logger.Warn("initial load incomplete", "error", err)
	}

	if err := channel.Connect(ctx, sess.User.ID); err != nil {
		logger.Warn("failed to open socket", "error", err)
	}

	// Push feed
	var sources []feed.Source
	switch cfg.Feed.Source {
	case config.FeedSourceGraphQL:
		sources = append(sources, feed.NewGraphQLSource(cfg.Authority.SubscriptionURL, authClient.Token, cfg.Transport, logger))
	case config.FeedSourceKafka:
		logger.Info("initializing Kafka feed", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		kafkaSource, err := feed.NewKafkaSource(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka feed, continuing without it", "error", err)
		} else {
			defer kafkaSource.Close()
			sources = append(sources, kafkaSource)
		}
	}
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		feed.RunSources(ctx, apply, logger, sources...)
	}()

	model.Run(ctx)
	if cfg.Persistence.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("failed to start persistence scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Renderer hub
	hub := view.NewHub(
		view.NewBuilder(store, sink),
		view.NewController(model, store, channel, logger),
		cfg.View,
		logger,
	)
	go hub.Run()
	notices, unsubscribe := sink.Subscribe(16)
	defer unsubscribe()
	go func() {
		for range notices {
			hub.Refresh()
		}
	}()

	// HTTP API
	httpHandler := handler.NewHandler(handler.Dependencies{
		Pets:          service.NewPetService(authClient, store, loader, sink, logger),
		Store:         store,
		Notifications: sink,
		Reloader:      loader,
		Flusher:       scheduler,
		Motion:        model,
		Hub:           hub,
		Ready: func() error {
			if channel.State() != transport.StateOpen {
				return domain.ErrNotConnected
			}
			return nil
		},
	}, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("renderer socket available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}
	hub.Stop()
	model.Stop()

	// Save positions while the socket can still carry flush_save
	if cfg.Persistence.Enabled {
		scheduler.Flush()
		if err := scheduler.Stop(); err != nil {
			logger.Error("failed to stop persistence scheduler", "error", err)
		}
	}

	cancel()
	channel.Close()
	<-feedDone

	logger.Info("client stopped")
}

// bootstrapSession returns the stored session, logging in with configured
// credentials when none exists.
func bootstrapSession(
	ctx context.Context,
	sessions session.Store,
	client *authority.Client,
	cfg config.AuthorityConfig,
	logger *slog.Logger,
) (domain.Session, error) {
	sess, err := sessions.Load(ctx)
	if err == nil {
		client.SetToken(sess.Token)
		logger.Info("restored session", "user_id", sess.User.ID, "username", sess.User.Username)
		return sess, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Session{}, err
	}
	if cfg.Username == "" {
		return domain.Session{}, domain.ErrNoIdentity
	}

	sess, err = client.Login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return domain.Session{}, fmt.Errorf("login: %w", err)
	}
	if err := sessions.Save(ctx, sess); err != nil {
		logger.Warn("failed to store session", "error", err)
	}
	logger.Info("logged in", "user_id", sess.User.ID, "username", sess.User.Username)
	return sess, nil
}
