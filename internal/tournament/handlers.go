package tournament

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/store"
)

// CreateRequest is the JSON body for POST /tournaments.
type CreateRequest struct {
	Name            string          `json:"name"`
	MaxParticipants int             `json:"max_participants"`
	InitialCash     decimal.Decimal `json:"initial_cash"`
	StartAt         time.Time       `json:"start_at"`
	EndAt           time.Time       `json:"end_at"`
	Image           string          `json:"image"`
}

// HandleCreate handles POST /api/v1/tournaments.
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	t, err := s.Create(r.Context(), CreateParams{
		Name:            req.Name,
		MaxParticipants: req.MaxParticipants,
		InitialCash:     req.InitialCash,
		StartAt:         req.StartAt,
		EndAt:           req.EndAt,
		Image:           req.Image,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	v, err := s.view(r.Context(), *t)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// HandleList handles GET /api/v1/tournaments.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	views, err := s.List(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleGet handles GET /api/v1/tournaments/{tournamentID}.
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tournamentID")
	if err != nil {
		writeError(w, "invalid tournament id", http.StatusBadRequest)
		return
	}

	v, err := s.Get(r.Context(), id)
	if err != nil {
		writeError(w, "tournament not found", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleEnter handles POST /api/v1/tournaments/{tournamentID}/enter?user_id=N.
func (s *Service) HandleEnter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tournamentID")
	if err != nil {
		writeError(w, "invalid tournament id", http.StatusBadRequest)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	account, err := s.Enter(r.Context(), id, userID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// HandleLeaderboard handles GET /api/v1/tournaments/{tournamentID}/leaderboard.
func (s *Service) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tournamentID")
	if err != nil {
		writeError(w, "invalid tournament id", http.StatusBadRequest)
		return
	}

	rows, err := s.Leaderboard(r.Context(), id)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleForUser handles GET /api/v1/tournaments/user/{userID}.
func (s *Service) HandleForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}

	views, err := s.ForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// --- Helpers ---

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrTournamentFull), errors.Is(err, ErrAlreadyEntered):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
