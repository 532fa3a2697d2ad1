package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// Schema creates the tables used by PostgresStore. Applied at startup;
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	last_login_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tournaments (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT NOT NULL UNIQUE,
	max_participants INT NOT NULL,
	initial_cash     NUMERIC NOT NULL,
	start_at         TIMESTAMPTZ NOT NULL,
	end_at           TIMESTAMPTZ NOT NULL,
	image            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS accounts (
	id            BIGSERIAL PRIMARY KEY,
	user_id       BIGINT NOT NULL REFERENCES users(id),
	name          TEXT NOT NULL,
	cash          NUMERIC NOT NULL CHECK (cash >= 0),
	tournament_id BIGINT REFERENCES tournaments(id),
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id         BIGSERIAL PRIMARY KEY,
	account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	ticker     TEXT NOT NULL,
	shares     BIGINT NOT NULL CHECK (shares > 0),
	avg_cost   NUMERIC NOT NULL CHECK (avg_cost > 0),
	UNIQUE (account_id, ticker)
);

CREATE TABLE IF NOT EXISTS transactions (
	id         BIGSERIAL PRIMARY KEY,
	account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	side       TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
	ticker     TEXT NOT NULL,
	shares     BIGINT NOT NULL,
	price      NUMERIC NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init applies the schema.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return ErrDuplicate
	}
	return err
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		u.Name, u.Email, u.PasswordHash, u.CreatedAt,
	).Scan(&u.ID)
	return mapPgErr(err)
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at, last_login_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.LastLoginAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at, last_login_at
		 FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.LastLoginAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, password_hash, created_at, last_login_at
		 FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.LastLoginAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id, name, cash, tournament_id, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5) RETURNING id`,
		a.UserID, a.Name, a.Cash.String(), a.TournamentID, a.CreatedAt,
	).Scan(&a.ID)
	return mapPgErr(err)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	var a model.Account
	var cash string
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, cash::TEXT, tournament_id, created_at
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.UserID, &a.Name, &cash, &a.TournamentID, &a.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	a.Cash, _ = decimal.NewFromString(cash)
	return &a, nil
}

func (s *PostgresStore) ListAccountsByUser(ctx context.Context, userID int64) ([]model.Account, error) {
	return s.queryAccounts(ctx,
		`SELECT id, user_id, name, cash::TEXT, tournament_id, created_at
		 FROM accounts WHERE user_id = $1 ORDER BY id`, userID)
}

func (s *PostgresStore) ListAccountsByTournament(ctx context.Context, tournamentID int64) ([]model.Account, error) {
	return s.queryAccounts(ctx,
		`SELECT id, user_id, name, cash::TEXT, tournament_id, created_at
		 FROM accounts WHERE tournament_id = $1 ORDER BY id`, tournamentID)
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.queryAccounts(ctx,
		`SELECT id, user_id, name, cash::TEXT, tournament_id, created_at
		 FROM accounts ORDER BY id`)
}

func (s *PostgresStore) queryAccounts(ctx context.Context, sql string, args ...any) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var cash string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &cash, &a.TournamentID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Cash, _ = decimal.NewFromString(cash)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) RenameAccount(ctx context.Context, id int64, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateAccountCash(ctx context.Context, id int64, prev, next decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET cash = $3::NUMERIC WHERE id = $1 AND cash = $2::NUMERIC`,
		id, prev.String(), next.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing account from a lost race.
		if _, err := s.GetAccount(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, accountID int64, ticker string) (*model.Position, error) {
	var p model.Position
	var avg string
	err := s.pool.QueryRow(ctx,
		`SELECT id, account_id, ticker, shares, avg_cost::TEXT
		 FROM positions WHERE account_id = $1 AND ticker = $2`, accountID, ticker).
		Scan(&p.ID, &p.AccountID, &p.Ticker, &p.Shares, &avg)
	if err != nil {
		return nil, mapPgErr(err)
	}
	p.AvgCost, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (s *PostgresStore) ListPositionsByAccount(ctx context.Context, accountID int64) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, ticker, shares, avg_cost::TEXT
		 FROM positions WHERE account_id = $1 ORDER BY ticker`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avg string
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Ticker, &p.Shares, &avg); err != nil {
			return nil, err
		}
		p.AvgCost, _ = decimal.NewFromString(avg)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO positions (account_id, ticker, shares, avg_cost)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (account_id, ticker)
		 DO UPDATE SET shares = EXCLUDED.shares, avg_cost = EXCLUDED.avg_cost
		 RETURNING id`,
		p.AccountID, p.Ticker, p.Shares, p.AvgCost.String(),
	).Scan(&p.ID)
	return mapPgErr(err)
}

func (s *PostgresStore) DeletePosition(ctx context.Context, accountID int64, ticker string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE account_id = $1 AND ticker = $2`, accountID, ticker)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Transactions ---

func (s *PostgresStore) ListTransactionsByAccount(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, side, ticker, shares, price::TEXT, timestamp
		 FROM transactions WHERE account_id = $1 ORDER BY timestamp DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var price string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Side, &tx.Ticker, &tx.Shares, &price, &tx.Timestamp); err != nil {
			return nil, err
		}
		tx.Price, _ = decimal.NewFromString(price)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	var tx model.Transaction
	var price string
	err := s.pool.QueryRow(ctx,
		`SELECT id, account_id, side, ticker, shares, price::TEXT, timestamp
		 FROM transactions WHERE id = $1`, id).
		Scan(&tx.ID, &tx.AccountID, &tx.Side, &tx.Ticker, &tx.Shares, &price, &tx.Timestamp)
	if err != nil {
		return nil, mapPgErr(err)
	}
	tx.Price, _ = decimal.NewFromString(price)
	return &tx, nil
}

// --- Tournaments ---

func (s *PostgresStore) CreateTournament(ctx context.Context, t *model.Tournament) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tournaments (name, max_participants, initial_cash, start_at, end_at, image)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6) RETURNING id`,
		t.Name, t.MaxParticipants, t.InitialCash.String(), t.StartAt, t.EndAt, t.Image,
	).Scan(&t.ID)
	return mapPgErr(err)
}

func (s *PostgresStore) GetTournament(ctx context.Context, id int64) (*model.Tournament, error) {
	var t model.Tournament
	var cash string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, max_participants, initial_cash::TEXT, start_at, end_at, image
		 FROM tournaments WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.MaxParticipants, &cash, &t.StartAt, &t.EndAt, &t.Image)
	if err != nil {
		return nil, mapPgErr(err)
	}
	t.InitialCash, _ = decimal.NewFromString(cash)
	return &t, nil
}

func (s *PostgresStore) ListTournaments(ctx context.Context) ([]model.Tournament, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, max_participants, initial_cash::TEXT, start_at, end_at, image
		 FROM tournaments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tournaments []model.Tournament
	for rows.Next() {
		var t model.Tournament
		var cash string
		if err := rows.Scan(&t.ID, &t.Name, &t.MaxParticipants, &cash, &t.StartAt, &t.EndAt, &t.Image); err != nil {
			return nil, err
		}
		t.InitialCash, _ = decimal.NewFromString(cash)
		tournaments = append(tournaments, t)
	}
	return tournaments, rows.Err()
}

// --- Trade application ---

// ApplyTrade runs the cash update, position change, and transaction append
// inside one database transaction. The conditional cash update doubles as an
// optimistic concurrency guard across server instances.
func (s *PostgresStore) ApplyTrade(ctx context.Context, apply TradeApply) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET cash = $3::NUMERIC WHERE id = $1 AND cash = $2::NUMERIC`,
		apply.AccountID, apply.PrevCash.String(), apply.NewCash.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if apply.DeletePosition {
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE account_id = $1 AND ticker = $2`,
			apply.Position.AccountID, apply.Position.Ticker); err != nil {
			return err
		}
	} else if apply.Position != nil {
		p := apply.Position
		if err := tx.QueryRow(ctx,
			`INSERT INTO positions (account_id, ticker, shares, avg_cost)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (account_id, ticker)
			 DO UPDATE SET shares = EXCLUDED.shares, avg_cost = EXCLUDED.avg_cost
			 RETURNING id`,
			p.AccountID, p.Ticker, p.Shares, p.AvgCost.String(),
		).Scan(&p.ID); err != nil {
			return err
		}
	}

	rec := apply.Transaction
	if err := tx.QueryRow(ctx,
		`INSERT INTO transactions (account_id, side, ticker, shares, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6) RETURNING id`,
		rec.AccountID, rec.Side, rec.Ticker, rec.Shares, rec.Price.String(), rec.Timestamp,
	).Scan(&rec.ID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
