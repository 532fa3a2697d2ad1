package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu sync.RWMutex

	users       map[int64]*model.User
	accounts    map[int64]*model.Account
	positions   map[int64]map[string]*model.Position // accountID → ticker → position
	tournaments map[int64]*model.Tournament
	log         []model.Transaction

	nextUserID       int64
	nextAccountID    int64
	nextPositionID   int64
	nextTournamentID int64
	nextTxID         int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]*model.User),
		accounts:    make(map[int64]*model.Account),
		positions:   make(map[int64]map[string]*model.Position),
		tournaments: make(map[int64]*model.Tournament),
	}
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrDuplicate
		}
	}

	s.nextUserID++
	u.ID = s.nextUserID
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryStore) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastLoginAt = &t
	return nil
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAccountID++
	a.ID = s.nextAccountID
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAccountsByUser(_ context.Context, userID int64) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []model.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			accounts = append(accounts, *a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *MemoryStore) ListAccountsByTournament(_ context.Context, tournamentID int64) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []model.Account
	for _, a := range s.accounts {
		if a.TournamentID != nil && *a.TournamentID == tournamentID {
			accounts = append(accounts, *a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *MemoryStore) RenameAccount(_ context.Context, id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Name = name
	return nil
}

func (s *MemoryStore) UpdateAccountCash(_ context.Context, id int64, prev, next decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if !a.Cash.Equal(prev) {
		return ErrConflict
	}
	a.Cash = next
	return nil
}

// DeleteAccount removes the account together with its positions and
// transactions (cascade).
func (s *MemoryStore) DeleteAccount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(s.accounts, id)
	delete(s.positions, id)

	kept := s.log[:0]
	for _, tx := range s.log {
		if tx.AccountID != id {
			kept = append(kept, tx)
		}
	}
	s.log = kept
	return nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, accountID int64, ticker string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[accountID][ticker]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositionsByAccount(_ context.Context, accountID int64) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions[accountID] {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })
	return positions, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertPositionLocked(p)
	return nil
}

func (s *MemoryStore) upsertPositionLocked(p *model.Position) {
	byTicker, ok := s.positions[p.AccountID]
	if !ok {
		byTicker = make(map[string]*model.Position)
		s.positions[p.AccountID] = byTicker
	}
	if existing, ok := byTicker[p.Ticker]; ok {
		p.ID = existing.ID
	} else {
		s.nextPositionID++
		p.ID = s.nextPositionID
	}
	cp := *p
	byTicker[p.Ticker] = &cp
}

func (s *MemoryStore) DeletePosition(_ context.Context, accountID int64, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[accountID][ticker]; !ok {
		return ErrNotFound
	}
	delete(s.positions[accountID], ticker)
	return nil
}

// --- Transactions ---

func (s *MemoryStore) ListTransactionsByAccount(_ context.Context, accountID int64) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	// Append-only log is in chronological order; walk backwards for
	// newest-first.
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].AccountID == accountID {
			result = append(result, s.log[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id int64) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.log {
		if tx.ID == id {
			cp := tx
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// --- Tournaments ---

func (s *MemoryStore) CreateTournament(_ context.Context, t *model.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tournaments {
		if existing.Name == t.Name {
			return ErrDuplicate
		}
	}

	s.nextTournamentID++
	t.ID = s.nextTournamentID
	cp := *t
	s.tournaments[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTournament(_ context.Context, id int64) (*model.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tournaments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTournaments(_ context.Context) ([]model.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tournaments := make([]model.Tournament, 0, len(s.tournaments))
	for _, t := range s.tournaments {
		tournaments = append(tournaments, *t)
	}
	sort.Slice(tournaments, func(i, j int) bool { return tournaments[i].ID < tournaments[j].ID })
	return tournaments, nil
}

// --- Trade application ---

// ApplyTrade applies all mutations under a single lock: the cash guard,
// position upsert/delete, and transaction append are atomic.
func (s *MemoryStore) ApplyTrade(_ context.Context, apply TradeApply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[apply.AccountID]
	if !ok {
		return ErrNotFound
	}
	if !a.Cash.Equal(apply.PrevCash) {
		return ErrConflict
	}

	a.Cash = apply.NewCash

	if apply.DeletePosition {
		delete(s.positions[apply.Position.AccountID], apply.Position.Ticker)
	} else if apply.Position != nil {
		s.upsertPositionLocked(apply.Position)
	}

	s.nextTxID++
	apply.Transaction.ID = s.nextTxID
	s.log = append(s.log, *apply.Transaction)
	return nil
}
