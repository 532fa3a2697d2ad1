package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot dashboard/leaderboard reads: accounts and positions.
// Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func accountKey(id int64) string        { return fmt.Sprintf("account:%d", id) }
func positionsKey(accountID int64) string { return fmt.Sprintf("positions:%d", accountID) }
func tournamentKey(id int64) string     { return fmt.Sprintf("tournament:%d", id) }

// --- Read-through ---

func (s *CachedStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(id), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) ListPositionsByAccount(ctx context.Context, accountID int64) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositionsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(accountID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) GetTournament(ctx context.Context, id int64) (*model.Tournament, error) {
	data, err := s.rdb.Get(ctx, tournamentKey(id)).Bytes()
	if err == nil {
		var t model.Tournament
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTournament(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, tournamentKey(id), data, s.ttl)
	}
	return t, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpdateAccountCash(ctx context.Context, id int64, prev, next decimal.Decimal) error {
	if err := s.primary.UpdateAccountCash(ctx, id, prev, next); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(id))
	return nil
}

func (s *CachedStore) RenameAccount(ctx context.Context, id int64, name string) error {
	if err := s.primary.RenameAccount(ctx, id, name); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(id))
	return nil
}

func (s *CachedStore) DeleteAccount(ctx context.Context, id int64) error {
	if err := s.primary.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(id), positionsKey(id))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.AccountID))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, accountID int64, ticker string) error {
	if err := s.primary.DeletePosition(ctx, accountID, ticker); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(accountID))
	return nil
}

// ApplyTrade invalidates the traded account's cached balance and positions
// after the primary commits.
func (s *CachedStore) ApplyTrade(ctx context.Context, apply TradeApply) error {
	if err := s.primary.ApplyTrade(ctx, apply); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(apply.AccountID), positionsKey(apply.AccountID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.primary.GetUserByEmail(ctx, email)
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return s.primary.TouchLastLogin(ctx, id, at)
}

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) ListAccountsByUser(ctx context.Context, userID int64) ([]model.Account, error) {
	return s.primary.ListAccountsByUser(ctx, userID)
}

func (s *CachedStore) ListAccountsByTournament(ctx context.Context, tournamentID int64) ([]model.Account, error) {
	return s.primary.ListAccountsByTournament(ctx, tournamentID)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, accountID int64, ticker string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, accountID, ticker)
}

func (s *CachedStore) ListTransactionsByAccount(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByAccount(ctx, accountID)
}

func (s *CachedStore) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	return s.primary.GetTransaction(ctx, id)
}

func (s *CachedStore) CreateTournament(ctx context.Context, t *model.Tournament) error {
	return s.primary.CreateTournament(ctx, t)
}

func (s *CachedStore) ListTournaments(ctx context.Context) ([]model.Tournament, error) {
	return s.primary.ListTournaments(ctx)
}
