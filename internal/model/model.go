// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides, stored lowercase.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// User owns one or more accounts. The password is stored as a bcrypt hash.
type User struct {
	ID           int64      `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

// Account holds a cash balance and a set of positions. TournamentID is nil
// for regular accounts and set for accounts created at tournament entry.
// Cash never goes negative: every debit is checked before it is applied.
type Account struct {
	ID           int64           `json:"id" db:"id"`
	UserID       int64           `json:"user_id" db:"user_id"`
	Name         string          `json:"name" db:"name"`
	Cash         decimal.Decimal `json:"cash" db:"cash"`
	TournamentID *int64          `json:"tournament_id,omitempty" db:"tournament_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is an account's current holding of one ticker: share count plus
// the share-weighted average purchase price. A position with zero remaining
// shares is deleted, never retained at zero.
type Position struct {
	ID        int64           `json:"id" db:"id"`
	AccountID int64           `json:"account_id" db:"account_id"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Shares    int64           `json:"shares" db:"shares"`
	AvgCost   decimal.Decimal `json:"avg_cost" db:"avg_cost"`
}

// CostBasis returns shares × average cost, the cost-basis value of the
// position used for leaderboard valuation.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgCost.Mul(decimal.NewFromInt(p.Shares))
}

// Transaction is an immutable record of one executed trade.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        int64           `json:"id" db:"id"`
	AccountID int64           `json:"account_id" db:"account_id"`
	Side      string          `json:"side" db:"side"` // "buy" or "sell"
	Ticker    string          `json:"ticker" db:"ticker"`
	Shares    int64           `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TournamentStatus is derived from wall-clock time against the tournament
// window; it is never stored.
type TournamentStatus string

const (
	StatusUpcoming  TournamentStatus = "UPCOMING"
	StatusActive    TournamentStatus = "ACTIVE"
	StatusCompleted TournamentStatus = "COMPLETED"
)

// Tournament groups accounts into a ranked competition over a time window.
// Accounts created for entrants are seeded with InitialCash.
type Tournament struct {
	ID              int64           `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	MaxParticipants int             `json:"max_participants" db:"max_participants"`
	InitialCash     decimal.Decimal `json:"initial_cash" db:"initial_cash"`
	StartAt         time.Time       `json:"start_at" db:"start_at"`
	EndAt           time.Time       `json:"end_at" db:"end_at"`
	Image           string          `json:"image,omitempty" db:"image"`
}

// Status reports the tournament lifecycle phase at the given instant.
func (t Tournament) Status(now time.Time) TournamentStatus {
	switch {
	case now.Before(t.StartAt):
		return StatusUpcoming
	case now.After(t.EndAt):
		return StatusCompleted
	default:
		return StatusActive
	}
}
