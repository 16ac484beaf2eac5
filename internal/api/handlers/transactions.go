package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/report"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TransactionsHandler handles transaction and balance endpoints.
type TransactionsHandler struct {
	ledger *ledger.Ledger
	log    zerolog.Logger
	now    func() time.Time
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(l *ledger.Ledger, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		ledger: l,
		log:    log,
		now:    time.Now,
	}
}

type transactionRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Date        civil.Date      `json:"date"`
	IsNecessary bool            `json:"is_necessary"`
	Notes       string          `json:"notes"`
}

func (req transactionRequest) toDomain() (domain.Transaction, error) {
	typ, err := domain.ParseTransactionType(req.Type)
	if err != nil {
		return domain.Transaction{}, err
	}
	cat, err := domain.ParseCategory(typ, req.Category)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		Type:        typ,
		Amount:      req.Amount,
		Name:        req.Name,
		Category:    cat,
		Date:        req.Date,
		IsNecessary: req.IsNecessary,
		Notes:       req.Notes,
	}, nil
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	sort, err := ledger.ParseSort(query.Get("sort"))
	if err != nil {
		writeServiceError(w, h.log, err, "Invalid sort")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, h.log, err, "Invalid limit")
		return
	}
	filter, err := report.ParseFilter(query.Get("type"), query.Get("category"), query.Get("necessity"), query.Get("range"))
	if err != nil {
		writeServiceError(w, h.log, err, "Invalid filter")
		return
	}

	opts := ledger.ListOptions{Sort: sort, Limit: limit}
	if !filter.IsZero() {
		opts.Match = filter.Matcher(h.now())
	}

	transactions, err := h.ledger.ListTransactions(ctx, opts)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list transactions")
		return
	}

	// Return array directly for frontend compatibility
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := req.toDomain()
	if err != nil {
		writeServiceError(w, h.log, err, "Invalid transaction")
		return
	}

	created, err := h.ledger.CreateTransaction(r.Context(), t)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, created)
}

// BulkCreateTransactions handles POST /api/transactions/bulk
func (h *TransactionsHandler) BulkCreateTransactions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transactions []transactionRequest `json:"transactions"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	txs := make([]domain.Transaction, len(req.Transactions))
	for i, item := range req.Transactions {
		t, err := item.toDomain()
		if err == nil {
			err = t.Validate()
		}
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("transactions[%d]: %v", i, err))
			return
		}
		txs[i] = t
	}

	created, err := h.ledger.BulkCreate(r.Context(), txs)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"count":   len(created),
	})
}

// UpdateTransaction handles PUT /api/transactions/{id}
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        *string          `json:"type"`
		Amount      *decimal.Decimal `json:"amount"`
		Name        *string          `json:"name"`
		Category    *string          `json:"category"`
		Date        *civil.Date      `json:"date"`
		IsNecessary *bool            `json:"is_necessary"`
		Notes       *string          `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	patch := ledger.TransactionPatch{
		Amount:      req.Amount,
		Name:        req.Name,
		Date:        req.Date,
		IsNecessary: req.IsNecessary,
		Notes:       req.Notes,
	}
	if req.Type != nil {
		typ, err := domain.ParseTransactionType(*req.Type)
		if err != nil {
			writeServiceError(w, h.log, err, "Invalid type")
			return
		}
		patch.Type = &typ
	}
	if req.Category != nil {
		// Checked against the resulting type by the ledger.
		cat := domain.Category(strings.ToLower(strings.TrimSpace(*req.Category)))
		patch.Category = &cat
	}

	updated, err := h.ledger.UpdateTransaction(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, updated)
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.ledger.DeleteTransaction(r.Context(), id); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// GetBalance handles GET /api/balance
func (h *TransactionsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.ledger.GetBalance(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to read balance")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, b)
}

// SetBalance handles PUT /api/balance
func (h *TransactionsHandler) SetBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentBalance *decimal.Decimal `json:"current_balance"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentBalance == nil {
		middleware.WriteError(w, http.StatusBadRequest, "current_balance is required")
		return
	}

	b, err := h.ledger.SetBalance(r.Context(), *req.CurrentBalance)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to set balance")
		return
	}
	h.log.Info().Str("balance", b.Current.String()).Msg("Balance overridden")
	middleware.WriteJSON(w, http.StatusOK, b)
}
