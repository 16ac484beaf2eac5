package handlers

import (
	"net/http"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/billing"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SubscriptionsHandler handles subscription endpoints and manual billing.
type SubscriptionsHandler struct {
	ledger *ledger.Ledger
	biller *billing.Biller
	log    zerolog.Logger
}

// NewSubscriptionsHandler creates a new subscriptions handler.
func NewSubscriptionsHandler(l *ledger.Ledger, b *billing.Biller, log zerolog.Logger) *SubscriptionsHandler {
	return &SubscriptionsHandler{
		ledger: l,
		biller: b,
		log:    log,
	}
}

// subscriptionView adds the computed next bill date to a subscription.
type subscriptionView struct {
	domain.Subscription
	NextBillDate civil.Date `json:"next_bill_date"`
}

func viewOf(s domain.Subscription) subscriptionView {
	return subscriptionView{Subscription: s, NextBillDate: billing.NextBillDate(s)}
}

// ListSubscriptions handles GET /api/subscriptions
func (h *SubscriptionsHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.ledger.ListSubscriptions(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list subscriptions")
		return
	}
	views := make([]subscriptionView, len(subs))
	for i, s := range subs {
		views[i] = viewOf(s)
	}
	middleware.WriteJSON(w, http.StatusOK, views)
}

// CreateSubscription handles POST /api/subscriptions
func (h *SubscriptionsHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string          `json:"name"`
		Amount      decimal.Decimal `json:"amount"`
		Category    string          `json:"category"`
		Frequency   string          `json:"frequency"`
		StartDate   civil.Date      `json:"start_date"`
		IsNecessary *bool           `json:"is_necessary"`
		Notes       string          `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	freq, err := domain.ParseFrequency(req.Frequency)
	if err != nil {
		writeServiceError(w, h.log, err, "Invalid frequency")
		return
	}
	cat, err := domain.ParseCategory(domain.TypeExpense, req.Category)
	if err != nil {
		writeServiceError(w, h.log, err, "Invalid category")
		return
	}
	sub := domain.Subscription{
		Name:        req.Name,
		Amount:      req.Amount,
		Category:    cat,
		Frequency:   freq,
		StartDate:   req.StartDate,
		IsNecessary: true,
		Notes:       req.Notes,
	}
	if req.IsNecessary != nil {
		sub.IsNecessary = *req.IsNecessary
	}

	created, err := h.ledger.CreateSubscription(r.Context(), sub)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create subscription")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, viewOf(created))
}

// UpdateSubscription handles PUT /api/subscriptions/{id}
func (h *SubscriptionsHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string          `json:"name"`
		Amount      *decimal.Decimal `json:"amount"`
		Category    *string          `json:"category"`
		Frequency   *string          `json:"frequency"`
		StartDate   *civil.Date      `json:"start_date"`
		IsNecessary *bool            `json:"is_necessary"`
		Notes       *string          `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	patch := ledger.SubscriptionPatch{
		Name:        req.Name,
		Amount:      req.Amount,
		StartDate:   req.StartDate,
		IsNecessary: req.IsNecessary,
		Notes:       req.Notes,
	}
	if req.Frequency != nil {
		freq, err := domain.ParseFrequency(*req.Frequency)
		if err != nil {
			writeServiceError(w, h.log, err, "Invalid frequency")
			return
		}
		patch.Frequency = &freq
	}
	if req.Category != nil {
		cat := domain.Category(strings.ToLower(strings.TrimSpace(*req.Category)))
		patch.Category = &cat
	}

	updated, err := h.ledger.UpdateSubscription(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update subscription")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, viewOf(updated))
}

// DeleteSubscription handles DELETE /api/subscriptions/{id}
func (h *SubscriptionsHandler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.ledger.DeleteSubscription(r.Context(), id); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete subscription")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// Bill handles POST /api/subscriptions/bill
func (h *SubscriptionsHandler) Bill(w http.ResponseWriter, r *http.Request) {
	res, err := h.biller.Run(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to bill subscriptions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}
