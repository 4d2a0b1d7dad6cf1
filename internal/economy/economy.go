// Package economy turns match outcomes into ledger movements.
//
// Every participant pays the entry fee when the match ends. A single
// winner then receives the pool (participants × fee, at least the minimum
// payout). A timeout draw refunds the fee to the players still alive when
// time ran out. A finish with no winner and no draw pays nothing back.
package economy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"soulbomber-arena/internal/game"
	"soulbomber-arena/internal/ledger"
)

type Config struct {
	EntryFee      int64
	MinimumPayout int64
	// CallTimeout bounds each ledger call.
	CallTimeout time.Duration
	// History is how many recent match ids are remembered to reject
	// repeated settlements.
	History int
}

func DefaultConfig() Config {
	return Config{EntryFee: 50, MinimumPayout: 100, CallTimeout: 5 * time.Second, History: 4096}
}

type Transfer struct {
	UID    string `json:"uid"`
	Amount int64  `json:"amount"`
	Ref    string `json:"ref"`
}

// Settlement is the list of ledger calls owed for one match.
type Settlement struct {
	MatchID      string     `json:"matchId"`
	Debits       []Transfer `json:"debits"`
	Credits      []Transfer `json:"credits"`
	WinnerUID    string     `json:"winnerUid,omitempty"`
	Reward       int64      `json:"reward"`
	RefundedUIDs []string   `json:"refundedUids"`
}

// Plan computes the settlement of a match result. It has no side effects.
func Plan(res game.Result, cfg Config) Settlement {
	s := Settlement{MatchID: res.MatchID, RefundedUIDs: []string{}}
	for _, uid := range res.Participants {
		s.Debits = append(s.Debits, Transfer{
			UID:    uid,
			Amount: cfg.EntryFee,
			Ref:    ledger.Ref(res.MatchID, "debit", uid),
		})
	}

	switch {
	case res.WinnerUID != "":
		pool := int64(len(res.Participants)) * cfg.EntryFee
		s.WinnerUID = res.WinnerUID
		s.Reward = max(pool, cfg.MinimumPayout)
		s.Credits = append(s.Credits, Transfer{
			UID:    res.WinnerUID,
			Amount: s.Reward,
			Ref:    ledger.Ref(res.MatchID, "reward", res.WinnerUID),
		})
	case res.Draw:
		for _, uid := range res.Survivors {
			s.RefundedUIDs = append(s.RefundedUIDs, uid)
			s.Credits = append(s.Credits, Transfer{
				UID:    uid,
				Amount: cfg.EntryFee,
				Ref:    ledger.Ref(res.MatchID, "refund", uid),
			})
		}
	}
	return s
}

// Settler applies settlements in the background, at most once per match.
type Settler struct {
	ledger ledger.Ledger
	cfg    Config
	log    zerolog.Logger

	mu      sync.Mutex
	settled map[string]struct{}
	order   []string
	wg      sync.WaitGroup

	succeeded atomic.Int64
	failed    atomic.Int64
}

func NewSettler(l ledger.Ledger, cfg Config, logger zerolog.Logger) *Settler {
	if cfg.History <= 0 {
		cfg.History = DefaultConfig().History
	}
	return &Settler{
		ledger:  l,
		cfg:     cfg,
		log:     logger.With().Str("component", "economy").Logger(),
		settled: make(map[string]struct{}),
	}
}

func (s *Settler) Plan(res game.Result) Settlement {
	return Plan(res, s.cfg)
}

// Settle starts applying st and returns immediately. It reports false when
// the match was already settled.
func (s *Settler) Settle(st Settlement) bool {
	s.mu.Lock()
	if _, done := s.settled[st.MatchID]; done {
		s.mu.Unlock()
		s.log.Warn().Str("match_id", st.MatchID).Msg("Settlement already issued, skipping")
		return false
	}
	s.settled[st.MatchID] = struct{}{}
	s.order = append(s.order, st.MatchID)
	if len(s.order) > s.cfg.History {
		delete(s.settled, s.order[0])
		s.order = s.order[1:]
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.apply(st)
	}()
	return true
}

func (s *Settler) apply(st Settlement) {
	log := s.log.With().Str("match_id", st.MatchID).Logger()
	for _, d := range st.Debits {
		s.call(log, "debit", d, s.ledger.Debit)
	}
	for _, c := range st.Credits {
		s.call(log, "credit", c, s.ledger.Credit)
	}
	log.Info().
		Int("debits", len(st.Debits)).
		Int("credits", len(st.Credits)).
		Int64("reward", st.Reward).
		Msg("Settlement processed")
}

type ledgerCall func(ctx context.Context, uid string, amount int64, ref string) (int64, error)

func (s *Settler) call(log zerolog.Logger, op string, t Transfer, fn ledgerCall) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()

	balance, err := fn(ctx, t.UID, t.Amount, t.Ref)
	if err != nil {
		s.failed.Add(1)
		log.Error().Err(err).Str("op", op).Str("uid", t.UID).Int64("amount", t.Amount).Msg("Ledger call failed")
		return
	}
	s.succeeded.Add(1)
	log.Debug().Str("op", op).Str("uid", t.UID).Int64("amount", t.Amount).Int64("balance", balance).Msg("Ledger call applied")
}

// Wait blocks until every started settlement has finished.
func (s *Settler) Wait() {
	s.wg.Wait()
}

// Stats returns the number of ledger calls that succeeded and failed.
func (s *Settler) Stats() (succeeded, failed int64) {
	return s.succeeded.Load(), s.failed.Load()
}
