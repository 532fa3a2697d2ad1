// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and dev mode).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate reports a uniqueness violation (email, tournament name).
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict reports a failed optimistic concurrency check: the
	// account's cash changed between read and write. Callers retry.
	ErrConflict = errors.New("store: conflict")
)

// TradeApply is the already-validated outcome of one trade, applied as a
// single atomic unit: either all of the cash update, position change, and
// transaction append are visible, or none are.
type TradeApply struct {
	AccountID int64
	// PrevCash guards the cash update: the write only succeeds if the
	// stored balance still equals it (ErrConflict otherwise).
	PrevCash decimal.Decimal
	NewCash  decimal.Decimal
	// Position is the post-trade position to upsert. When DeletePosition
	// is set, Position identifies the (account, ticker) row to remove
	// instead (a sell that closed the position).
	Position       *model.Position
	DeletePosition bool
	// Transaction is the immutable trade record to append. The store
	// assigns its ID.
	Transaction *model.Transaction
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user and assigns its ID.
	// Returns ErrDuplicate if the email is taken.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id int64) (*model.User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// ListUsers returns all users.
	ListUsers(ctx context.Context) ([]model.User, error)

	// TouchLastLogin records a successful login time.
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error

	// --- Accounts ---

	// CreateAccount persists a new account and assigns its ID.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id int64) (*model.Account, error)

	// ListAccountsByUser returns all accounts owned by a user.
	ListAccountsByUser(ctx context.Context, userID int64) ([]model.Account, error)

	// ListAccountsByTournament returns the accounts entered in a tournament,
	// ordered by account ID for deterministic ranking ties.
	ListAccountsByTournament(ctx context.Context, tournamentID int64) ([]model.Account, error)

	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// RenameAccount updates an account's display name.
	RenameAccount(ctx context.Context, id int64, name string) error

	// UpdateAccountCash sets an account's cash balance, guarded by the
	// expected previous balance (ErrConflict on mismatch).
	UpdateAccountCash(ctx context.Context, id int64, prev, next decimal.Decimal) error

	// DeleteAccount removes an account and cascades to its positions and
	// transactions.
	DeleteAccount(ctx context.Context, id int64) error

	// --- Positions ---

	// GetPosition retrieves the position for (account, ticker), or ErrNotFound.
	GetPosition(ctx context.Context, accountID int64, ticker string) (*model.Position, error)

	// ListPositionsByAccount returns all positions held by an account.
	ListPositionsByAccount(ctx context.Context, accountID int64) ([]model.Position, error)

	// UpsertPosition inserts or replaces the position for (account, ticker).
	UpsertPosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes the position for (account, ticker).
	DeletePosition(ctx context.Context, accountID int64, ticker string) error

	// --- Immutable transaction log ---

	// ListTransactionsByAccount returns an account's trades, newest first.
	ListTransactionsByAccount(ctx context.Context, accountID int64) ([]model.Transaction, error)

	// GetTransaction retrieves one transaction by ID.
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)

	// --- Tournaments ---

	// CreateTournament persists a new tournament and assigns its ID.
	// Returns ErrDuplicate if the name is taken.
	CreateTournament(ctx context.Context, t *model.Tournament) error

	// GetTournament retrieves a tournament by ID.
	GetTournament(ctx context.Context, id int64) (*model.Tournament, error)

	// ListTournaments returns all tournaments.
	ListTournaments(ctx context.Context) ([]model.Tournament, error)

	// --- Trade application ---

	// ApplyTrade applies a validated trade atomically. Returns ErrConflict
	// if the cash guard fails; no partial state is ever visible.
	ApplyTrade(ctx context.Context, apply TradeApply) error
}
