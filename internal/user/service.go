// Package user handles signup, login, and opaque session tokens.
// Passwords are stored as bcrypt hashes, never in the clear.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password;
	// callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("user: invalid email or password")
	// ErrInvalidSignup reports a malformed signup request.
	ErrInvalidSignup = errors.New("user: name, valid email, and password are required")
)

// starterCash seeds the primary account created at signup.
var starterCash = decimal.NewFromInt(10000)

// Service handles user registration and sessions. Sessions are opaque uuid
// tokens held in memory; a restart logs everyone out, which is acceptable
// for a simulated-trading service.
type Service struct {
	store store.Store

	mu       sync.RWMutex
	sessions map[string]int64 // token → userID
}

// NewService creates a new user service.
func NewService(st store.Store) *Service {
	return &Service{
		store:    st,
		sessions: make(map[string]int64),
	}
}

// Signup registers a user and creates their primary trading account.
func (s *Service) Signup(ctx context.Context, name, email, password string) (*model.User, error) {
	if name == "" || password == "" {
		return nil, ErrInvalidSignup
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidSignup
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	account := &model.Account{
		UserID:    u.ID,
		Name:      "Main Account",
		Cash:      starterCash,
		CreatedAt: u.CreatedAt,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	return u, nil
}

// Login checks credentials, records the login time, and issues a session
// token.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.store.TouchLastLogin(ctx, u.ID, now); err != nil {
		return nil, "", err
	}
	u.LastLoginAt = &now

	token := uuid.New().String()
	s.mu.Lock()
	s.sessions[token] = u.ID
	s.mu.Unlock()

	return u, token, nil
}

// Authenticate resolves a session token to a user ID.
func (s *Service) Authenticate(token string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[token]
	return id, ok
}

// Logout invalidates a session token.
func (s *Service) Logout(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// --- HTTP Handlers ---

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// HandleSignup handles POST /api/v1/users/signup.
func (s *Service) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.Signup(r.Context(), req.Name, req.Email, req.Password)
	switch {
	case errors.Is(err, ErrInvalidSignup):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, "email is already registered", http.StatusConflict)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// HandleLogin handles POST /api/v1/users/login.
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, token, err := s.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{User: u, Token: token})
}

// HandleList handles GET /api/v1/users.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
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
