package ledger

import "errors"

// Ledger rule violations. All are user-facing and recoverable; a trade that
// fails with any of these leaves account, positions, and the transaction log
// untouched.
var (
	ErrInvalidParameter   = errors.New("ledger: shares and price must be greater than zero and ticker non-empty")
	ErrInvalidAction      = errors.New("ledger: action must be 'buy' or 'sell'")
	ErrInsufficientFunds  = errors.New("ledger: not enough cash to complete purchase")
	ErrNoSuchPosition     = errors.New("ledger: no position held for ticker")
	ErrInsufficientShares = errors.New("ledger: not enough shares to sell")
)
