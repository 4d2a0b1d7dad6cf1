package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a single-file ledger.
type SQLite struct {
	db    *sql.DB
	start int64
}

func OpenSQLite(path string, startingBalance int64) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{db: db, start: startingBalance}
	if err := s.createTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS balances (
			uid TEXT PRIMARY KEY,
			coins INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create balances table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			ref TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create ledger_entries table: %w", err)
	}
	return nil
}

func (s *SQLite) Debit(ctx context.Context, uid string, amount int64, ref string) (int64, error) {
	return s.apply(ctx, uid, kindDebit, amount, ref,
		`UPDATE balances SET coins = MAX(coins - ?, 0), updated_at = CURRENT_TIMESTAMP WHERE uid = ?`)
}

func (s *SQLite) Credit(ctx context.Context, uid string, amount int64, ref string) (int64, error) {
	return s.apply(ctx, uid, kindCredit, amount, ref,
		`UPDATE balances SET coins = coins + ?, updated_at = CURRENT_TIMESTAMP WHERE uid = ?`)
}

func (s *SQLite) apply(ctx context.Context, uid, kind string, amount int64, ref, update string) (int64, error) {
	if err := validate(uid, amount, ref); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable(err, kind)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO balances (uid, coins) VALUES (?, ?)`, uid, s.start); err != nil {
		return 0, unavailable(err, kind)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO ledger_entries (ref, uid, kind, amount) VALUES (?, ?, ?, ?)`,
		ref, uid, kind, amount)
	if err != nil {
		return 0, unavailable(err, kind)
	}
	applied, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err, kind)
	}
	if applied > 0 {
		if _, err := tx.ExecContext(ctx, update, amount, uid); err != nil {
			return 0, unavailable(err, kind)
		}
	}

	var coins int64
	if err := tx.QueryRowContext(ctx, `SELECT coins FROM balances WHERE uid = ?`, uid).Scan(&coins); err != nil {
		return 0, unavailable(err, kind)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable(err, kind)
	}
	return coins, nil
}

func (s *SQLite) Balance(ctx context.Context, uid string) (int64, error) {
	var coins int64
	err := s.db.QueryRowContext(ctx, `SELECT coins FROM balances WHERE uid = ?`, uid).Scan(&coins)
	if err == sql.ErrNoRows {
		return s.start, nil
	}
	if err != nil {
		return 0, unavailable(err, "balance")
	}
	return coins, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}
	if result != 1 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
