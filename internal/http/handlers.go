package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"finanzas/internal/backend"
	"finanzas/internal/core"
	"finanzas/internal/txcache"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type sessionResponse struct {
	User    *userResponse `json:"user"`
	Ready   bool          `json:"ready"`
	Loading bool          `json:"loading"`
}

type profileUpdateRequest struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

type currencyResponse struct {
	Code    string `json:"code"`
	Loading bool   `json:"loading"`
}

type transactionRequest struct {
	Kind        string `json:"kind"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type transactionResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
	Category    string `json:"category"`
	CreatedAt   string `json:"created_at"`
}

type summaryResponse struct {
	TotalIncomeCents  int64  `json:"total_income_cents"`
	TotalExpenseCents int64  `json:"total_expense_cents"`
	BalanceCents      int64  `json:"balance_cents"`
	Currency          string `json:"currency"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func toUserResponse(u *core.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{ID: u.ID, Name: u.Name, Email: u.Email, AvatarURL: u.AvatarURL}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req credentialsRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}

	u, err := s.sessions.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, backend.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		slog.ErrorContext(r.Context(), "Sign-up failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req credentialsRequest
	if !readJSON(w, r, &req) {
		return
	}

	u, err := s.sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		// All auth failures collapse into one generic message.
		if errors.Is(err, backend.ErrInvalidCredentials) || errors.Is(err, backend.ErrNoSession) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		slog.ErrorContext(r.Context(), "Sign-in failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not sign in")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	s.sessions.SignOut(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{
		User:    nil,
		Ready:   s.sessions.Ready(),
		Loading: s.sessions.Loading(),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, sessionResponse{
			User:    toUserResponse(s.sessions.User()),
			Ready:   s.sessions.Ready(),
			Loading: s.sessions.Loading(),
		})
	case http.MethodPatch:
		var req profileUpdateRequest
		if !readJSON(w, r, &req) {
			return
		}
		upd := core.ProfileUpdate{Name: req.Name, AvatarURL: req.AvatarURL}
		if err := s.sessions.UpdateUser(r.Context(), upd); err != nil {
			slog.ErrorContext(r.Context(), "Profile update failed", "error", err)
			writeError(w, http.StatusBadGateway, "could not update profile")
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			User:    toUserResponse(s.sessions.User()),
			Ready:   s.sessions.Ready(),
			Loading: s.sessions.Loading(),
		})
	default:
		methodNotAllowed(w, "GET, PATCH")
	}
}

func (s *Server) handleCurrency(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, currencyResponse{
			Code:    s.currency.Currency(),
			Loading: s.currency.Loading(),
		})
	case http.MethodPut:
		var req struct {
			Code string `json:"code"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		if err := s.currency.SetCurrency(r.Context(), req.Code); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "unsupported currency code")
			return
		}
		writeJSON(w, http.StatusOK, currencyResponse{
			Code:    s.currency.Currency(),
			Loading: s.currency.Loading(),
		})
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		txs := s.cache.Transactions()
		out := make([]transactionResponse, 0, len(txs))
		for _, tx := range txs {
			out = append(out, toTransactionResponse(tx))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		s.handleRecord(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !readJSON(w, r, &req) {
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}
	in := core.TransactionInput{
		Kind:        core.TransactionKind(req.Kind),
		Amount:      core.Money{Cents: cents},
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
	}

	tx, err := s.cache.Record(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, txcache.ErrNoUser):
			writeError(w, http.StatusUnauthorized, "sign in to record transactions")
		case errors.Is(err, core.ErrInvalidAmount),
			errors.Is(err, core.ErrInvalidKind),
			errors.Is(err, core.ErrInvalidCategory),
			errors.Is(err, core.ErrEmptyDescription):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			slog.ErrorContext(r.Context(), "Record transaction failed", "error", err)
			writeError(w, http.StatusInternalServerError, "could not save transaction")
		}
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	txs := s.cache.Load(r.Context())
	if txs == nil {
		// Unchanged: either a failure or a superseded load.
		writeJSON(w, http.StatusAccepted, struct {
			Refreshed bool `json:"refreshed"`
		}{false})
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	sum := s.cache.Summary()
	writeJSON(w, http.StatusOK, summaryResponse{
		TotalIncomeCents:  sum.TotalIncome.Cents,
		TotalExpenseCents: sum.TotalExpense.Cents,
		BalanceCents:      sum.Balance.Cents,
		Currency:          s.currency.Currency(),
	})
}

func toTransactionResponse(tx core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		Kind:        string(tx.Kind),
		AmountCents: tx.Amount.Cents,
		Description: tx.Description,
		Category:    tx.Category,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}
