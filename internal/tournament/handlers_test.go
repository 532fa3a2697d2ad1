package tournament

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/trading-engine/internal/store"
)

func newHandlerTest(t *testing.T) (*chi.Mux, *Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := NewService(ms)

	r := chi.NewRouter()
	r.Get("/tournaments", svc.HandleList)
	r.Post("/tournaments", svc.HandleCreate)
	r.Get("/tournaments/user/{userID}", svc.HandleForUser)
	r.Get("/tournaments/{tournamentID}", svc.HandleGet)
	r.Post("/tournaments/{tournamentID}/enter", svc.HandleEnter)
	r.Get("/tournaments/{tournamentID}/leaderboard", svc.HandleLeaderboard)
	return r, svc, ms
}

func TestHandleCreate(t *testing.T) {
	r, _, _ := newHandlerTest(t)

	body, _ := json.Marshal(CreateRequest{Name: "Spring Open", MaxParticipants: 4})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/tournaments", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var v View
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	require.Equal(t, "Spring Open", v.Name)
	require.Equal(t, 4, v.MaxParticipants)
	require.Equal(t, 0, v.CurrentParticipants)
	require.NotEmpty(t, v.Status)

	// Duplicate name is rejected.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/tournaments", bytes.NewReader(body)))
	require.Equal(t, http.StatusConflict, rec.Code)

	// Missing name is rejected.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/tournaments", bytes.NewReader([]byte(`{}`))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEnterStatuses(t *testing.T) {
	r, svc, ms := newHandlerTest(t)
	ctx := context.Background()

	tm, err := svc.Create(ctx, CreateParams{Name: "Duel", MaxParticipants: 1})
	require.NoError(t, err)
	u1 := seedUser(t, ms, "u1@example.com")
	u2 := seedUser(t, ms, "u2@example.com")

	enter := func(tournamentID, userID int64) int {
		rec := httptest.NewRecorder()
		path := fmt.Sprintf("/tournaments/%d/enter?user_id=%d", tournamentID, userID)
		r.ServeHTTP(rec, httptest.NewRequest("POST", path, nil))
		return rec.Code
	}

	require.Equal(t, http.StatusCreated, enter(tm.ID, u1.ID))
	require.Equal(t, http.StatusConflict, enter(tm.ID, u1.ID)) // already entered
	require.Equal(t, http.StatusConflict, enter(tm.ID, u2.ID)) // full
	require.Equal(t, http.StatusNotFound, enter(9999, u1.ID))
}

func TestHandleLeaderboard(t *testing.T) {
	r, svc, ms := newHandlerTest(t)
	ctx := context.Background()

	tm, err := svc.Create(ctx, CreateParams{Name: "Spring Open", InitialCash: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	u := seedUser(t, ms, "u@example.com")
	_, err = svc.Enter(ctx, tm.ID, u.ID)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", fmt.Sprintf("/tournaments/%d/leaderboard", tm.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []LeaderboardRow
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rows))
	require.Len(t, rows, 1)
	require.True(t, rows[0].Cash.Equal(decimal.NewFromInt(1000)))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/tournaments/9999/leaderboard", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
