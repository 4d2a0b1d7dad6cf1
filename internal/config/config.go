// Package config loads the server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"soulbomber-arena/internal/economy"
	"soulbomber-arena/internal/game"
	"soulbomber-arena/internal/identity"
	"soulbomber-arena/internal/ledger"
)

type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		RequestsPerMin  int           `yaml:"requests_per_minute"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "json" or "text"
		Dir    string `yaml:"dir"`
	} `yaml:"log"`

	Game struct {
		Rows              int           `yaml:"rows"`
		Cols              int           `yaml:"cols"`
		BlockChance       float64       `yaml:"block_chance"`
		StartLives        int           `yaml:"start_lives"`
		MaxLives          int           `yaml:"max_lives"`
		StartRange        int           `yaml:"start_range"`
		MaxRange          int           `yaml:"max_range"`
		StartBombs        int           `yaml:"start_bombs"`
		MaxBombs          int           `yaml:"max_bombs"`
		MoveCooldown      time.Duration `yaml:"move_cooldown"`
		Fuse              time.Duration `yaml:"fuse"`
		ExplosionDuration time.Duration `yaml:"explosion_duration"`
		MatchDuration     time.Duration `yaml:"match_duration"`
		CleanupGrace      time.Duration `yaml:"cleanup_grace"`
		MaxPlayers        int           `yaml:"max_players"`
	} `yaml:"game"`

	Economy struct {
		EntryFee      int64         `yaml:"entry_fee"`
		MinimumPayout int64         `yaml:"minimum_payout"`
		CallTimeout   time.Duration `yaml:"call_timeout"`
	} `yaml:"economy"`

	Ledger struct {
		Driver          string `yaml:"driver"`
		StartingBalance int64  `yaml:"starting_balance"`
	} `yaml:"ledger"`

	Identity struct {
		Driver string `yaml:"driver"`
		Secret string `yaml:"secret"`
	} `yaml:"identity"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Session struct {
		EventsPerSecond float64 `yaml:"events_per_second"`
		EventBurst      int     `yaml:"event_burst"`
		SendBuffer      int     `yaml:"send_buffer"`
		MaxMessageSize  int64   `yaml:"max_message_size"`
	} `yaml:"session"`
}

// Default returns a configuration that runs standalone with in-memory
// storage.
func Default() *Config {
	c := &Config{}
	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Server.RequestsPerMin = 100
	c.Server.AllowedOrigins = []string{"*"}

	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Log.Dir = "logs"

	rules := game.DefaultRules()
	c.Game.Rows = rules.Rows
	c.Game.Cols = rules.Cols
	c.Game.BlockChance = rules.BlockChance
	c.Game.StartLives = rules.StartLives
	c.Game.MaxLives = rules.MaxLives
	c.Game.StartRange = rules.StartRange
	c.Game.MaxRange = rules.MaxRange
	c.Game.StartBombs = rules.StartBombs
	c.Game.MaxBombs = rules.MaxBombs
	c.Game.MoveCooldown = rules.MoveCooldown
	c.Game.Fuse = rules.Fuse
	c.Game.ExplosionDuration = rules.ExplosionDuration
	c.Game.MatchDuration = rules.MatchDuration
	c.Game.CleanupGrace = 15 * time.Second
	c.Game.MaxPlayers = 8

	eco := economy.DefaultConfig()
	c.Economy.EntryFee = eco.EntryFee
	c.Economy.MinimumPayout = eco.MinimumPayout
	c.Economy.CallTimeout = eco.CallTimeout

	c.Ledger.Driver = ledger.DriverMemory
	c.Ledger.StartingBalance = 1000

	c.Identity.Driver = identity.DriverHMAC
	c.Identity.Secret = "dev-secret-change-me"

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 10

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "postgres"
	c.Postgres.Password = "postgres"
	c.Postgres.DBName = "soulbomber"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2

	c.SQLite.Path = "./soulbomber.db"

	c.Session.EventsPerSecond = 30
	c.Session.EventBurst = 60
	c.Session.SendBuffer = 256
	c.Session.MaxMessageSize = 4096
	return c
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BOMBER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("IDENTITY_SECRET"); v != "" {
		c.Identity.Secret = v
	}
}

func (c *Config) Validate() error {
	if c.Game.Rows%2 == 0 || c.Game.Cols%2 == 0 {
		return fmt.Errorf("game grid must have odd dimensions, got %dx%d", c.Game.Rows, c.Game.Cols)
	}
	if c.Game.Rows < 5 || c.Game.Cols < 5 {
		return fmt.Errorf("game grid must be at least 5x5, got %dx%d", c.Game.Rows, c.Game.Cols)
	}
	if c.Game.MaxPlayers < 2 || c.Game.MaxPlayers > len(game.SpawnPoints(c.Game.Rows, c.Game.Cols)) {
		return fmt.Errorf("max_players must be between 2 and 8, got %d", c.Game.MaxPlayers)
	}
	if c.Game.BlockChance < 0 || c.Game.BlockChance > 1 {
		return fmt.Errorf("block_chance must be within [0,1], got %v", c.Game.BlockChance)
	}
	if c.Game.StartLives < 1 {
		return fmt.Errorf("start_lives must be at least 1, got %d", c.Game.StartLives)
	}
	if c.Game.StartRange < 1 || c.Game.StartBombs < 1 {
		return fmt.Errorf("start_range and start_bombs must be at least 1, got %d and %d", c.Game.StartRange, c.Game.StartBombs)
	}
	if c.Game.StartLives > c.Game.MaxLives || c.Game.StartRange > c.Game.MaxRange || c.Game.StartBombs > c.Game.MaxBombs {
		return errors.New("game start values must not exceed their max_ caps")
	}
	for name, d := range map[string]time.Duration{
		"fuse":               c.Game.Fuse,
		"explosion_duration": c.Game.ExplosionDuration,
		"match_duration":     c.Game.MatchDuration,
		"cleanup_grace":      c.Game.CleanupGrace,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Game.MoveCooldown < 0 {
		return fmt.Errorf("move_cooldown must not be negative, got %s", c.Game.MoveCooldown)
	}
	switch c.Ledger.Driver {
	case ledger.DriverMemory, ledger.DriverSQLite, ledger.DriverPostgres, ledger.DriverRedis:
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	switch c.Identity.Driver {
	case identity.DriverHMAC:
		if c.Identity.Secret == "" {
			return errors.New("identity.secret is required for the hmac driver")
		}
	case identity.DriverRedis:
	default:
		return fmt.Errorf("unknown identity driver %q", c.Identity.Driver)
	}
	if c.Economy.EntryFee < 0 || c.Economy.MinimumPayout < 0 {
		return errors.New("economy amounts must not be negative")
	}
	return nil
}

// Rules maps the game section onto match rules.
func (c *Config) Rules() game.Rules {
	r := game.DefaultRules()
	r.Rows = c.Game.Rows
	r.Cols = c.Game.Cols
	r.BlockChance = c.Game.BlockChance
	r.StartLives = c.Game.StartLives
	r.MaxLives = c.Game.MaxLives
	r.StartRange = c.Game.StartRange
	r.MaxRange = c.Game.MaxRange
	r.StartBombs = c.Game.StartBombs
	r.MaxBombs = c.Game.MaxBombs
	r.MoveCooldown = c.Game.MoveCooldown
	r.Fuse = c.Game.Fuse
	r.ExplosionDuration = c.Game.ExplosionDuration
	r.MatchDuration = c.Game.MatchDuration
	return r
}

func (c *Config) EconomyConfig() economy.Config {
	return economy.Config{
		EntryFee:      c.Economy.EntryFee,
		MinimumPayout: c.Economy.MinimumPayout,
		CallTimeout:   c.Economy.CallTimeout,
	}
}

// PostgresDSN builds a connection URL usable by both pgx and the migrator.
// DATABASE_URL takes precedence.
func (c *Config) PostgresDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
