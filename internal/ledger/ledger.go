// Package ledger stores coin balances. Every mutation carries a reference
// key; replaying a key returns the current balance without applying the
// amount twice. Debits never take a balance below zero.
package ledger

import (
	"context"
	"fmt"

	"soulbomber-arena/internal/apperr"
)

// Ledger is the balance store consumed by match settlement.
type Ledger interface {
	Debit(ctx context.Context, uid string, amount int64, ref string) (int64, error)
	Credit(ctx context.Context, uid string, amount int64, ref string) (int64, error)
	Balance(ctx context.Context, uid string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

const (
	kindDebit  = "debit"
	kindCredit = "credit"
)

// Ref builds the idempotency key of one settlement entry.
func Ref(matchID, kind, uid string) string {
	return fmt.Sprintf("%s:%s:%s", matchID, kind, uid)
}

func validate(uid string, amount int64, ref string) error {
	if uid == "" {
		return apperr.New(apperr.CodeInvalidInput, "uid is required")
	}
	if amount < 0 {
		return apperr.New(apperr.CodeInvalidInput, "amount must not be negative")
	}
	if ref == "" {
		return apperr.New(apperr.CodeInvalidInput, "reference is required")
	}
	return nil
}

func unavailable(err error, op string) error {
	return apperr.Wrap(err, apperr.CodeUnavailable, "ledger "+op+" failed")
}
