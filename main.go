package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"soulbomber-arena/internal/clock"
	"soulbomber-arena/internal/config"
	"soulbomber-arena/internal/economy"
	"soulbomber-arena/internal/identity"
	"soulbomber-arena/internal/ledger"
	"soulbomber-arena/internal/room"
	"soulbomber-arena/internal/session"
)

// app holds the long-lived components shared by the HTTP handlers.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	startTime time.Time

	ledger   ledger.Ledger
	verifier identity.Verifier
	settler  *economy.Settler
	rooms    *room.Directory
	hub      *session.Hub
	tracker  *session.Tracker
	sessions *session.Server
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	issue := flag.String("issue-token", "", "print a development token for uid[:name] and exit (hmac identity only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	if *issue != "" {
		uid, name, _ := strings.Cut(*issue, ":")
		token, err := identity.NewHMAC(cfg.Identity.Secret).Issue(identity.Identity{UID: uid, Name: name}, 24*time.Hour)
		if err != nil {
			fmt.Fprintln(os.Stderr, "issue token:", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger, logFile, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer logFile.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Server stopped with error")
		logFile.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("version", version).Msg("Starting SoulBomber arena server")

	var rdb *redis.Client
	if cfg.Ledger.Driver == ledger.DriverRedis || cfg.Identity.Driver == identity.DriverRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	store, err := openLedger(ctx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Ledger.Driver).Msg("Ledger initialized")

	a := &app{
		cfg:       cfg,
		log:       logger,
		startTime: time.Now(),
		ledger:    store,
		verifier:  newVerifier(cfg, rdb),
		settler:   economy.NewSettler(store, cfg.EconomyConfig(), logger),
		hub:       session.NewHub(logger),
		tracker:   session.NewTracker(logger),
	}
	a.rooms = room.NewDirectory(room.Config{
		MaxPlayers:   cfg.Game.MaxPlayers,
		Rules:        cfg.Rules(),
		CleanupGrace: cfg.Game.CleanupGrace,
	}, a.hub, a.settler, clock.Real{}, logger)
	a.sessions = session.NewServer(session.Config{
		EventsPerSecond: cfg.Session.EventsPerSecond,
		EventBurst:      cfg.Session.EventBurst,
		SendBuffer:      cfg.Session.SendBuffer,
		MaxMessageSize:  cfg.Session.MaxMessageSize,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		CallTimeout:     5 * time.Second,
	}, a.hub, a.rooms, a.verifier, a.tracker, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	a.rooms.Shutdown(shutdownCtx)
	a.settler.Wait()
	stopHub()
	a.tracker.Stop()
	logger.Info().Msg("Server stopped")
	return nil
}

func openLedger(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (ledger.Ledger, error) {
	start := cfg.Ledger.StartingBalance
	switch cfg.Ledger.Driver {
	case ledger.DriverSQLite:
		return ledger.OpenSQLite(cfg.SQLite.Path, start)

	case ledger.DriverPostgres:
		dsn := cfg.PostgresDSN()
		if err := ledger.Migrate(dsn, logger); err != nil {
			return nil, err
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		poolCfg.MaxConns = cfg.Postgres.MaxConns
		poolCfg.MinConns = cfg.Postgres.MinConns
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return ledger.NewPostgres(pool, start), nil

	case ledger.DriverRedis:
		return ledger.NewRedis(rdb, start), nil

	default:
		return ledger.NewMemory(start), nil
	}
}

func newVerifier(cfg *config.Config, rdb *redis.Client) identity.Verifier {
	if cfg.Identity.Driver == identity.DriverRedis {
		return identity.NewRedisSessions(rdb)
	}
	return identity.NewHMAC(cfg.Identity.Secret)
}
