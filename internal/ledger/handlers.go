package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /accounts/{accountID}/trade.
type TradeRequest struct {
	Action string          `json:"action"` // "buy" or "sell", case-insensitive
	Ticker string          `json:"ticker"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"` // caller supplies the quote price
}

// TradeResponse is the JSON body returned from a successful trade.
type TradeResponse struct {
	Transaction *model.Transaction `json:"transaction"`
	Cash        decimal.Decimal    `json:"cash"`
	Position    *model.Position    `json:"position,omitempty"` // absent when the sell closed it
}

// CreateAccountRequest is the JSON body for POST /accounts.
type CreateAccountRequest struct {
	UserID      int64           `json:"user_id"`
	Name        string          `json:"name"`
	InitialCash decimal.Decimal `json:"initial_cash"`
}

// AccountResponse is an account with its holdings attached.
type AccountResponse struct {
	model.Account
	Positions    []model.Position    `json:"positions"`
	Transactions []model.Transaction `json:"transactions,omitempty"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// --- HTTP Handlers ---

// HandleTrade handles POST /api/v1/accounts/{accountID}/trade.
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := s.ExecuteTrade(ctx, accountID, req.Action, req.Ticker, req.Shares, req.Price)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	resp := TradeResponse{Transaction: tx, Cash: account.Cash}
	if pos, err := s.store.GetPosition(ctx, accountID, tx.Ticker); err == nil {
		resp.Position = pos
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleCreateAccount handles POST /api/v1/accounts.
func (s *Service) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.InitialCash.IsNegative() {
		writeError(w, "initial_cash must not be negative", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		writeError(w, "user not found", statusFor(err))
		return
	}

	account := &model.Account{
		UserID:    req.UserID,
		Name:      req.Name,
		Cash:      req.InitialCash,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// HandleListAccounts handles GET /api/v1/accounts?user_id=N.
func (s *Service) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		writeError(w, "user not found", statusFor(err))
		return
	}

	accounts, err := s.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	resp := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		positions, err := s.store.ListPositionsByAccount(ctx, a.ID)
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		if positions == nil {
			positions = []model.Position{}
		}
		resp = append(resp, AccountResponse{Account: a, Positions: positions})
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleGetAccount handles GET /api/v1/accounts/{accountID}.
// Includes positions and the full transaction history.
func (s *Service) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		writeError(w, "account not found", statusFor(err))
		return
	}

	positions, err := s.store.ListPositionsByAccount(ctx, accountID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	txs, err := s.store.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, AccountResponse{
		Account:      *account,
		Positions:    positions,
		Transactions: txs,
	})
}

// HandleRenameAccount handles PATCH /api/v1/accounts/{accountID}.
func (s *Service) HandleRenameAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.store.RenameAccount(ctx, accountID, req.Name); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// HandleDeleteAccount handles DELETE /api/v1/accounts/{accountID}.
// Positions and transactions cascade.
func (s *Service) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteAccount(r.Context(), accountID); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeposit handles POST /api/v1/accounts/{accountID}/deposit.
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleCashAdjust(w, r, s.Deposit)
}

// HandleWithdraw handles POST /api/v1/accounts/{accountID}/withdraw.
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleCashAdjust(w, r, s.Withdraw)
}

func (s *Service) handleCashAdjust(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, accountID int64, amount decimal.Decimal) (*model.Account, error),
) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := fn(r.Context(), accountID, req.Amount)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// HandleDashboard handles GET /api/v1/accounts/dashboard?user_id=N.
func (s *Service) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	summary, err := s.Dashboard(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleListPositions handles GET /api/v1/accounts/{accountID}/positions.
func (s *Service) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		writeError(w, "account not found", statusFor(err))
		return
	}

	positions, err := s.store.ListPositionsByAccount(ctx, accountID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// HandleListTransactions handles GET /api/v1/accounts/{accountID}/transactions.
// Newest first.
func (s *Service) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		writeError(w, "account not found", statusFor(err))
		return
	}

	txs, err := s.store.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// HandleGetTransaction handles GET /api/v1/transactions/{txID}.
func (s *Service) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := pathID(r, "txID")
	if err != nil {
		writeError(w, "invalid transaction id", http.StatusBadRequest)
		return
	}

	tx, err := s.store.GetTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, "transaction not found", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// --- Helpers ---

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// statusFor maps ledger and store errors to HTTP status codes. Validation
// failures are 400; ledger rule rejections are 409; unknown errors are the
// one fatal class and surface as 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidParameter), errors.Is(err, ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrNoSuchPosition),
		errors.Is(err, ErrInsufficientShares):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrConflict):
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

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
