package tournament

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return NewService(ms), ms
}

func seedUser(t *testing.T, ms *store.MemoryStore, email string) *model.User {
	t.Helper()
	u := &model.User{Name: email, Email: email, PasswordHash: "x", CreatedAt: time.Now().UTC()}
	require.NoError(t, ms.CreateUser(context.Background(), u))
	return u
}

func TestCreate_Defaults(t *testing.T) {
	svc, _ := newTestService(t)

	tm, err := svc.Create(context.Background(), CreateParams{Name: "Spring Open"})
	require.NoError(t, err)
	require.Equal(t, 10, tm.MaxParticipants)
	require.True(t, tm.InitialCash.Equal(decimal.NewFromInt(10000)))
	require.Equal(t, 7*24*time.Hour, tm.EndAt.Sub(tm.StartAt))
}

func TestCreate_DuplicateName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{Name: "Spring Open"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateParams{Name: "Spring Open"})
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestEnter_CreatesSeededAccount(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	u := seedUser(t, ms, "a@example.com")
	tm, err := svc.Create(ctx, CreateParams{Name: "Spring Open", InitialCash: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	account, err := svc.Enter(ctx, tm.ID, u.ID)
	require.NoError(t, err)
	require.Equal(t, "Spring Open Account", account.Name)
	require.True(t, account.Cash.Equal(decimal.NewFromInt(5000)))
	require.NotNil(t, account.TournamentID)
	require.Equal(t, tm.ID, *account.TournamentID)

	view, err := svc.Get(ctx, tm.ID)
	require.NoError(t, err)
	require.Equal(t, 1, view.CurrentParticipants)
}

func TestEnter_AlreadyEntered(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	u := seedUser(t, ms, "a@example.com")
	tm, err := svc.Create(ctx, CreateParams{Name: "Spring Open"})
	require.NoError(t, err)

	_, err = svc.Enter(ctx, tm.ID, u.ID)
	require.NoError(t, err)
	_, err = svc.Enter(ctx, tm.ID, u.ID)
	require.ErrorIs(t, err, ErrAlreadyEntered)
}

func TestEnter_TournamentFull(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	tm, err := svc.Create(ctx, CreateParams{Name: "Duel", MaxParticipants: 2})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		u := seedUser(t, ms, fmt.Sprintf("u%d@example.com", i))
		_, err = svc.Enter(ctx, tm.ID, u.ID)
		require.NoError(t, err)
	}

	late := seedUser(t, ms, "late@example.com")
	_, err = svc.Enter(ctx, tm.ID, late.ID)
	require.ErrorIs(t, err, ErrTournamentFull)
}

func TestEnter_UnknownTournamentOrUser(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	u := seedUser(t, ms, "a@example.com")
	_, err := svc.Enter(ctx, 9999, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	tm, err := svc.Create(ctx, CreateParams{Name: "Spring Open"})
	require.NoError(t, err)
	_, err = svc.Enter(ctx, tm.ID, 9999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestLeaderboard_RanksByCashPlusHoldings(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	tm, err := svc.Create(ctx, CreateParams{Name: "Spring Open"})
	require.NoError(t, err)

	var accounts []*model.Account
	for i := 0; i < 3; i++ {
		u := seedUser(t, ms, fmt.Sprintf("u%d@example.com", i))
		a, err := svc.Enter(ctx, tm.ID, u.ID)
		require.NoError(t, err)
		accounts = append(accounts, a)
	}

	// Entrant 0: 4000 cash + 60 shares @100 = 10000 total.
	require.NoError(t, ms.UpdateAccountCash(ctx, accounts[0].ID, decimal.NewFromInt(10000), decimal.NewFromInt(4000)))
	require.NoError(t, ms.UpsertPosition(ctx, &model.Position{
		AccountID: accounts[0].ID, Ticker: "AAPL", Shares: 60, AvgCost: decimal.NewFromInt(100),
	}))

	// Entrant 1: 12000 cash, no holdings.
	require.NoError(t, ms.UpdateAccountCash(ctx, accounts[1].ID, decimal.NewFromInt(10000), decimal.NewFromInt(12000)))

	// Entrant 2: untouched 10000, ties with entrant 0 on total value.

	rows, err := svc.Leaderboard(ctx, tm.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.True(t, rows[0].Cash.Equal(decimal.NewFromInt(12000)))
	require.True(t, rows[0].TotalHoldingValue.Equal(decimal.Zero))

	// The tie between entrants 0 and 2 resolves by entry order.
	require.True(t, rows[1].Cash.Equal(decimal.NewFromInt(4000)))
	require.True(t, rows[1].TotalHoldingValue.Equal(decimal.NewFromInt(6000)))
	require.True(t, rows[2].Cash.Equal(decimal.NewFromInt(10000)))
}

func TestLeaderboard_UnknownTournament(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Leaderboard(context.Background(), 9999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestView_StatusLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	tm, err := svc.Create(ctx, CreateParams{Name: "Spring Open", StartAt: start, EndAt: end})
	require.NoError(t, err)

	cases := []struct {
		name string
		now  time.Time
		want model.TournamentStatus
	}{
		{"before start", start.Add(-time.Hour), model.StatusUpcoming},
		{"at start", start, model.StatusActive},
		{"mid window", start.Add(24 * time.Hour), model.StatusActive},
		{"at end", end, model.StatusActive},
		{"after end", end.Add(time.Minute), model.StatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc.now = func() time.Time { return tc.now }
			view, err := svc.Get(ctx, tm.ID)
			require.NoError(t, err)
			require.Equal(t, tc.want, view.Status)
		})
	}
}

func TestForUser(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	u := seedUser(t, ms, "a@example.com")

	// A regular account outside any tournament is excluded.
	plain := &model.Account{UserID: u.ID, Name: "Main Account", Cash: decimal.NewFromInt(100), CreatedAt: time.Now().UTC()}
	require.NoError(t, ms.CreateAccount(ctx, plain))

	tm, err := svc.Create(ctx, CreateParams{Name: "Spring Open"})
	require.NoError(t, err)
	_, err = svc.Enter(ctx, tm.ID, u.ID)
	require.NoError(t, err)

	views, err := svc.ForUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "Spring Open", views[0].Name)
}
