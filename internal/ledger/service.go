// Package ledger implements the position/ledger engine: the rules governing
// how buys and sells mutate an account's cash and holdings, and the HTTP
// handlers exposing trades, accounts, and dashboard rollups.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
	"github.com/stocksim/trading-engine/internal/symbol"
)

// applyAttempts bounds optimistic-concurrency retries when another server
// instance won the cash update race.
const applyAttempts = 3

// Service executes trades against the store. Per-account mutexes serialize
// the check-then-apply sequence in process; the store's conditional cash
// update guards against other instances sharing the database.
type Service struct {
	store store.Store
	hub   *Hub // optional WebSocket hub for real-time broadcasts

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService creates a new ledger service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *Hub) *Service {
	return &Service{
		store: st,
		hub:   hub,
		locks: make(map[int64]*sync.Mutex),
	}
}

// accountLock returns the mutex serializing trades on one account.
func (s *Service) accountLock(accountID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// ExecuteTrade validates and applies one buy or sell, returning the appended
// transaction record. On any failure no mutation is visible: the cash debit,
// position change, and transaction append commit together or not at all.
func (s *Service) ExecuteTrade(ctx context.Context, accountID int64, action, ticker string, shares int64, price decimal.Decimal) (*model.Transaction, error) {
	side := strings.ToLower(strings.TrimSpace(action))
	if side != model.SideBuy && side != model.SideSell {
		metrics.TradeRejections.WithLabelValues("invalid_action").Inc()
		return nil, ErrInvalidAction
	}
	if shares <= 0 || price.LessThanOrEqual(decimal.Zero) {
		metrics.TradeRejections.WithLabelValues("invalid_parameter").Inc()
		return nil, ErrInvalidParameter
	}
	tick, err := symbol.Normalize(ticker)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("invalid_parameter").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	start := time.Now()

	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	var tx *model.Transaction
	for attempt := 0; ; attempt++ {
		tx, err = s.tryTrade(ctx, accountID, side, tick, shares, price)
		if !errors.Is(err, store.ErrConflict) || attempt+1 >= applyAttempts {
			break
		}
		metrics.TradeConflictRetries.Inc()
	}
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"tx_id", tx.ID,
		"account", accountID,
		"side", side,
		"ticker", tick,
		"shares", shares,
		"price", price.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "trade_executed",
			AccountID: accountID,
			Side:      side,
			Ticker:    tick,
			Shares:    shares,
			Price:     price.String(),
		})
	}

	return tx, nil
}

// tryTrade performs one read-validate-apply pass.
func (s *Service) tryTrade(ctx context.Context, accountID int64, side, ticker string, shares int64, price decimal.Decimal) (*model.Transaction, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	apply := store.TradeApply{
		AccountID: accountID,
		PrevCash:  account.Cash,
	}

	total := price.Mul(decimal.NewFromInt(shares))

	switch side {
	case model.SideBuy:
		if account.Cash.LessThan(total) {
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
			return nil, ErrInsufficientFunds
		}
		apply.NewCash = account.Cash.Sub(total)

		pos, err := s.store.GetPosition(ctx, accountID, ticker)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// First buy of this ticker opens the position at the fill price.
			apply.Position = &model.Position{
				AccountID: accountID,
				Ticker:    ticker,
				Shares:    shares,
				AvgCost:   price,
			}
		case err != nil:
			return nil, err
		default:
			// Weighted average cost over old and new shares.
			oldShares := decimal.NewFromInt(pos.Shares)
			newShares := pos.Shares + shares
			totalCost := pos.AvgCost.Mul(oldShares).Add(total)
			apply.Position = &model.Position{
				ID:        pos.ID,
				AccountID: accountID,
				Ticker:    ticker,
				Shares:    newShares,
				AvgCost:   totalCost.Div(decimal.NewFromInt(newShares)),
			}
		}

	case model.SideSell:
		pos, err := s.store.GetPosition(ctx, accountID, ticker)
		if errors.Is(err, store.ErrNotFound) {
			metrics.TradeRejections.WithLabelValues("no_position").Inc()
			return nil, ErrNoSuchPosition
		}
		if err != nil {
			return nil, err
		}
		if pos.Shares < shares {
			metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
			return nil, ErrInsufficientShares
		}

		apply.NewCash = account.Cash.Add(total)

		remaining := pos.Shares - shares
		if remaining == 0 {
			// A position with zero shares is deleted, not retained.
			apply.DeletePosition = true
			apply.Position = &model.Position{AccountID: accountID, Ticker: ticker}
		} else {
			// Selling does not change the cost basis of remaining shares.
			apply.Position = &model.Position{
				ID:        pos.ID,
				AccountID: accountID,
				Ticker:    ticker,
				Shares:    remaining,
				AvgCost:   pos.AvgCost,
			}
		}
	}

	apply.Transaction = &model.Transaction{
		AccountID: accountID,
		Side:      side,
		Ticker:    ticker,
		Shares:    shares,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}

	if err := s.store.ApplyTrade(ctx, apply); err != nil {
		return nil, err
	}
	return apply.Transaction, nil
}

// Deposit credits cash to an account. Amount must be positive.
func (s *Service) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (*model.Account, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidParameter
	}
	return s.adjustCash(ctx, accountID, amount)
}

// Withdraw debits cash from an account. Fails with ErrInsufficientFunds if
// the balance would go negative.
func (s *Service) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (*model.Account, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidParameter
	}
	return s.adjustCash(ctx, accountID, amount.Neg())
}

func (s *Service) adjustCash(ctx context.Context, accountID int64, delta decimal.Decimal) (*model.Account, error) {

	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; ; attempt++ {
		account, err := s.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		next := account.Cash.Add(delta)
		if next.IsNegative() {
			return nil, ErrInsufficientFunds
		}
		err = s.store.UpdateAccountCash(ctx, accountID, account.Cash, next)
		if errors.Is(err, store.ErrConflict) && attempt+1 < applyAttempts {
			metrics.TradeConflictRetries.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		account.Cash = next
		return account, nil
	}
}

// DashboardSummary is the per-user rollup: total cash across all accounts
// and share counts merged per ticker. No price valuation is performed here;
// valuation requires a live quote, which is the caller's concern.
type DashboardSummary struct {
	TotalCash   decimal.Decimal  `json:"total_cash"`
	TotalShares map[string]int64 `json:"total_shares"`
}

// Dashboard aggregates all of a user's accounts.
func (s *Service) Dashboard(ctx context.Context, userID int64) (*DashboardSummary, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	accounts, err := s.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &DashboardSummary{
		TotalCash:   decimal.Zero,
		TotalShares: make(map[string]int64),
	}

	for _, a := range accounts {
		summary.TotalCash = summary.TotalCash.Add(a.Cash)

		positions, err := s.store.ListPositionsByAccount(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range positions {
			summary.TotalShares[p.Ticker] += p.Shares
		}
	}

	return summary, nil
}
