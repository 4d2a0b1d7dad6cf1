package ledger

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the ledger schema up to date.
func Migrate(databaseURL string, logger zerolog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		logger.Warn().Uint("version", version).Msg("Schema is dirty, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("force schema version: %w", err)
		}
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Msg("Ledger schema up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	newVersion, _, _ := m.Version()
	logger.Info().Uint("version", newVersion).Msg("Ledger schema migrated")
	return nil
}

// Postgres is a ledger on a pgx pool. The schema comes from Migrate.
type Postgres struct {
	pool  *pgxpool.Pool
	start int64
}

func NewPostgres(pool *pgxpool.Pool, startingBalance int64) *Postgres {
	return &Postgres{pool: pool, start: startingBalance}
}

func (p *Postgres) Debit(ctx context.Context, uid string, amount int64, ref string) (int64, error) {
	return p.apply(ctx, uid, kindDebit, amount, ref,
		`UPDATE balances SET coins = GREATEST(coins - $1, 0), updated_at = now() WHERE uid = $2`)
}

func (p *Postgres) Credit(ctx context.Context, uid string, amount int64, ref string) (int64, error) {
	return p.apply(ctx, uid, kindCredit, amount, ref,
		`UPDATE balances SET coins = coins + $1, updated_at = now() WHERE uid = $2`)
}

func (p *Postgres) apply(ctx context.Context, uid, kind string, amount int64, ref, update string) (int64, error) {
	if err := validate(uid, amount, ref); err != nil {
		return 0, err
	}

	var coins int64
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO balances (uid, coins) VALUES ($1, $2) ON CONFLICT (uid) DO NOTHING`,
			uid, p.start); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (ref, uid, kind, amount) VALUES ($1, $2, $3, $4) ON CONFLICT (ref) DO NOTHING`,
			ref, uid, kind, amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			if _, err := tx.Exec(ctx, update, amount, uid); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, `SELECT coins FROM balances WHERE uid = $1`, uid).Scan(&coins)
	})
	if err != nil {
		return 0, unavailable(err, kind)
	}
	return coins, nil
}

func (p *Postgres) Balance(ctx context.Context, uid string) (int64, error) {
	var coins int64
	err := p.pool.QueryRow(ctx, `SELECT coins FROM balances WHERE uid = $1`, uid).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return p.start, nil
	}
	if err != nil {
		return 0, unavailable(err, "balance")
	}
	return coins, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
