package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/ledger"
	"github.com/dvloznov/expense-ledger/internal/report"
	"github.com/dvloznov/expense-ledger/internal/reportcache"
	"github.com/rs/zerolog"
)

// ReportsHandler serves aggregated reports and the Excel export.
type ReportsHandler struct {
	ledger *ledger.Ledger
	cache  reportcache.Cache
	log    zerolog.Logger
	now    func() time.Time
}

// NewReportsHandler creates a new reports handler. A nil cache disables caching.
func NewReportsHandler(l *ledger.Ledger, cache reportcache.Cache, log zerolog.Logger) *ReportsHandler {
	if cache == nil {
		cache = reportcache.NopCache{}
	}
	return &ReportsHandler{
		ledger: l,
		cache:  cache,
		log:    log,
		now:    time.Now,
	}
}

func (h *ReportsHandler) parseFilter(r *http.Request) (report.Filter, error) {
	q := r.URL.Query()
	return report.ParseFilter(q.Get("type"), q.Get("category"), q.Get("necessity"), q.Get("range"))
}

func (h *ReportsHandler) load(r *http.Request, f report.Filter) (report.Report, []domain.Transaction, error) {
	now := h.now()
	opts := ledger.ListOptions{Sort: ledger.Sort{Field: ledger.SortDate}}
	if !f.IsZero() {
		opts.Match = f.Matcher(now)
	}
	txs, err := h.ledger.ListTransactions(r.Context(), opts)
	if err != nil {
		return report.Report{}, nil, err
	}
	return report.Build(txs, now), txs, nil
}

// GetReport handles GET /api/reports
func (h *ReportsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := h.parseFilter(r)
	if err != nil {
		writeServiceError(w, h.log, err, "Invalid filter")
		return
	}

	key := reportcache.Key(f)
	if cached, ok := h.cache.Get(ctx, key); ok {
		w.Header().Set("X-Cache", "HIT")
		middleware.WriteJSON(w, http.StatusOK, cached)
		return
	}

	rep, _, err := h.load(r, f)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to build report")
		return
	}
	h.cache.Set(ctx, key, rep)
	w.Header().Set("X-Cache", "MISS")
	middleware.WriteJSON(w, http.StatusOK, rep)
}

// ExportXLSX handles GET /api/reports/export.xlsx
func (h *ReportsHandler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	f, err := h.parseFilter(r)
	if err != nil {
		writeServiceError(w, h.log, err, "Invalid filter")
		return
	}
	rep, txs, err := h.load(r, f)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to build report")
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, rep, txs); err != nil {
		writeServiceError(w, h.log, err, "Failed to export report")
		return
	}

	filename := fmt.Sprintf("ledger-%s.xlsx", h.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", report.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
