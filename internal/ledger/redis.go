package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// applyScript adjusts a balance by ARGV[1], floored at zero, unless the
// reference key in KEYS[2] was already claimed.
var applyScript = redis.NewScript(`
	local current = redis.call('GET', KEYS[1])
	if not current then
		current = tonumber(ARGV[2])
	else
		current = tonumber(current)
	end
	if not redis.call('SET', KEYS[2], '1', 'NX', 'EX', tonumber(ARGV[3])) then
		return current
	end
	local next_val = math.max(0, current + tonumber(ARGV[1]))
	redis.call('SET', KEYS[1], next_val)
	return next_val
`)

// Redis keeps balances as plain integer keys.
type Redis struct {
	client *redis.Client
	start  int64
	refTTL time.Duration
}

func NewRedis(client *redis.Client, startingBalance int64) *Redis {
	return &Redis{client: client, start: startingBalance, refTTL: 7 * 24 * time.Hour}
}

func balanceKey(uid string) string { return "ledger:balance:" + uid }

func refKey(ref string) string { return "ledger:ref:" + ref }

func (r *Redis) Debit(ctx context.Context, uid string, amount int64, ref string) (int64, error) {
	return r.apply(ctx, uid, -amount, amount, ref, kindDebit)
}

func (r *Redis) Credit(ctx context.Context, uid string, amount int64, ref string) (int64, error) {
	return r.apply(ctx, uid, amount, amount, ref, kindCredit)
}

func (r *Redis) apply(ctx context.Context, uid string, delta, amount int64, ref, kind string) (int64, error) {
	if err := validate(uid, amount, ref); err != nil {
		return 0, err
	}
	ttl := int64(r.refTTL / time.Second)
	v, err := applyScript.Run(ctx, r.client,
		[]string{balanceKey(uid), refKey(ref)},
		delta, r.start, ttl).Int64()
	if err != nil {
		return 0, unavailable(err, kind)
	}
	return v, nil
}

func (r *Redis) Balance(ctx context.Context, uid string) (int64, error) {
	s, err := r.client.Get(ctx, balanceKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return r.start, nil
	}
	if err != nil {
		return 0, unavailable(err, "balance")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, unavailable(err, "balance")
	}
	return v, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close is a no-op; the client belongs to the caller, which may share it
// with other components.
func (r *Redis) Close() error {
	return nil
}
