// Package tournament implements ranked competitions: entry rules,
// cost-basis leaderboards, and the derived tournament lifecycle.
package tournament

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

var (
	// ErrTournamentFull reports an entry attempt at max participants.
	ErrTournamentFull = errors.New("tournament: tournament is full")
	// ErrAlreadyEntered reports a second entry by the same user.
	ErrAlreadyEntered = errors.New("tournament: user already entered this tournament")
)

// Defaults applied at creation when the caller leaves fields unset.
var (
	defaultMaxParticipants = 10
	defaultInitialCash     = decimal.NewFromInt(10000)
	defaultDuration        = 7 * 24 * time.Hour
)

// Service handles tournament operations.
type Service struct {
	store store.Store
	now   func() time.Time // injectable clock for status tests

	mu sync.Mutex // serializes entries so the participant check holds
}

// NewService creates a new tournament service.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// CreateParams are the caller-supplied tournament settings. Zero values
// fall back to defaults.
type CreateParams struct {
	Name            string
	MaxParticipants int
	InitialCash     decimal.Decimal
	StartAt         time.Time
	EndAt           time.Time
	Image           string
}

// Create persists a new tournament. The name must be unique
// (store.ErrDuplicate otherwise).
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Tournament, error) {
	if p.MaxParticipants <= 0 {
		p.MaxParticipants = defaultMaxParticipants
	}
	if p.InitialCash.LessThanOrEqual(decimal.Zero) {
		p.InitialCash = defaultInitialCash
	}
	if p.StartAt.IsZero() {
		p.StartAt = s.now().UTC()
	}
	if p.EndAt.IsZero() {
		p.EndAt = p.StartAt.Add(defaultDuration)
	}

	t := &model.Tournament{
		Name:            p.Name,
		MaxParticipants: p.MaxParticipants,
		InitialCash:     p.InitialCash,
		StartAt:         p.StartAt,
		EndAt:           p.EndAt,
		Image:           p.Image,
	}
	if err := s.store.CreateTournament(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Enter creates a tournament-scoped account for the user, seeded with the
// tournament's initial cash grant. A user may enter each tournament once.
func (s *Service) Enter(ctx context.Context, tournamentID, userID int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	entrants, err := s.store.ListAccountsByTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if len(entrants) >= t.MaxParticipants {
		return nil, ErrTournamentFull
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range entrants {
		if a.UserID == user.ID {
			return nil, ErrAlreadyEntered
		}
	}

	tid := t.ID
	account := &model.Account{
		UserID:       user.ID,
		Name:         t.Name + " Account",
		Cash:         t.InitialCash,
		TournamentID: &tid,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// LeaderboardRow is one ranked entry: cash plus the cost-basis value of all
// open positions. Holdings are valued at average cost; the engine has no
// price feed.
type LeaderboardRow struct {
	AccountName       string          `json:"account_name"`
	Cash              decimal.Decimal `json:"cash"`
	TotalHoldingValue decimal.Decimal `json:"total_holding_value"`
}

// Leaderboard ranks the tournament's accounts descending by
// cash + totalHoldingValue. Ties keep account-id order for determinism.
func (s *Service) Leaderboard(ctx context.Context, tournamentID int64) ([]LeaderboardRow, error) {
	if _, err := s.store.GetTournament(ctx, tournamentID); err != nil {
		return nil, err
	}

	accounts, err := s.store.ListAccountsByTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		row   LeaderboardRow
		total decimal.Decimal
	}

	// accounts arrive ordered by id; the stable sort preserves that
	// order for equal totals.
	entries := make([]ranked, 0, len(accounts))
	for _, a := range accounts {
		positions, err := s.store.ListPositionsByAccount(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		holdings := decimal.Zero
		for _, p := range positions {
			holdings = holdings.Add(p.CostBasis())
		}
		entries = append(entries, ranked{
			row: LeaderboardRow{
				AccountName:       a.Name,
				Cash:              a.Cash,
				TotalHoldingValue: holdings,
			},
			total: a.Cash.Add(holdings),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].total.GreaterThan(entries[j].total)
	})

	rows := make([]LeaderboardRow, len(entries))
	for i, e := range entries {
		rows[i] = e.row
	}
	return rows, nil
}

// View is a tournament with its derived status and entrant count.
type View struct {
	model.Tournament
	CurrentParticipants int                    `json:"current_participants"`
	Status              model.TournamentStatus `json:"status"`
}

func (s *Service) view(ctx context.Context, t model.Tournament) (View, error) {
	entrants, err := s.store.ListAccountsByTournament(ctx, t.ID)
	if err != nil {
		return View{}, err
	}
	return View{
		Tournament:          t,
		CurrentParticipants: len(entrants),
		Status:              t.Status(s.now()),
	}, nil
}

// Get returns one tournament view.
func (s *Service) Get(ctx context.Context, id int64) (View, error) {
	t, err := s.store.GetTournament(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, *t)
}

// List returns all tournaments with status and entrant counts.
func (s *Service) List(ctx context.Context) ([]View, error) {
	tournaments, err := s.store.ListTournaments(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(tournaments))
	for _, t := range tournaments {
		v, err := s.view(ctx, t)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// ForUser returns the tournaments the user has entered, via the
// tournament back-references on the user's accounts.
func (s *Service) ForUser(ctx context.Context, userID int64) ([]View, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	accounts, err := s.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0)
	for _, a := range accounts {
		if a.TournamentID == nil {
			continue
		}
		v, err := s.Get(ctx, *a.TournamentID)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}
