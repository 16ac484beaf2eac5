package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/importer"
	"github.com/dvloznov/expense-ledger/internal/jobs"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ImportsHandler handles statement import endpoints.
type ImportsHandler struct {
	ingestor   *pipeline.Ingestor
	reconciler *importer.Reconciler
	publisher  jobs.Publisher
	log        zerolog.Logger
}

// NewImportsHandler creates a new imports handler. publisher may be nil, in
// which case asynchronous extraction is unavailable.
func NewImportsHandler(ing *pipeline.Ingestor, rec *importer.Reconciler, publisher jobs.Publisher, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		ingestor:   ing,
		reconciler: rec,
		publisher:  publisher,
		log:        log,
	}
}

type sourceRequest struct {
	Name     string `json:"name"`
	Text     string `json:"text"`
	GCSURI   string `json:"gcs_uri"`
	MimeType string `json:"mime_type"`
}

// readSource builds a pipeline source from either a JSON envelope or a raw
// file body. Raw bodies take their name from the "name" query parameter.
func readSource(w http.ResponseWriter, r *http.Request) (pipeline.Source, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req sourceRequest
		if !decodeJSON(w, r, &req) {
			return pipeline.Source{}, false
		}
		return pipeline.Source{Name: req.Name, Text: req.Text, GCSURI: req.GCSURI, MimeType: req.MimeType}, true
	}

	data, err := io.ReadAll(limitBody(w, r))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(w)
			return pipeline.Source{}, false
		}
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return pipeline.Source{}, false
	}
	return pipeline.Source{Name: r.URL.Query().Get("name"), Data: data, MimeType: mediaType}, true
}

// CreateImport handles POST /api/imports
func (h *ImportsHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	src, ok := readSource(w, r)
	if !ok {
		return
	}
	staged, err := h.ingestor.Ingest(r.Context(), src)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to import statement")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, staged)
}

// EnqueueExtraction handles POST /api/imports/extract
func (h *ImportsHandler) EnqueueExtraction(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Statement extraction is not configured")
		return
	}
	var req sourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.GCSURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "text or gcs_uri is required")
		return
	}

	job := &jobs.ExtractStatementJob{
		Source:   req.Name,
		Text:     req.Text,
		GCSURI:   req.GCSURI,
		MimeType: req.MimeType,
	}
	if err := h.publisher.PublishExtractStatement(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue extraction job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue extraction job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("gcs_uri", req.GCSURI).Msg("Extraction job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// ListImports handles GET /api/imports
func (h *ImportsHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	staged := h.reconciler.List()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"imports": staged,
		"count":   len(staged),
	})
}

// GetImport handles GET /api/imports/{id}
func (h *ImportsHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	staged, err := h.reconciler.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get import")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, staged)
}

// UpdateImport handles PATCH /api/imports/{id}, which edits the final balance hint.
func (h *ImportsHandler) UpdateImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FinalBalance      *decimal.Decimal `json:"final_balance"`
		ClearFinalBalance bool             `json:"clear_final_balance"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FinalBalance == nil && !req.ClearFinalBalance {
		middleware.WriteError(w, http.StatusBadRequest, "final_balance or clear_final_balance is required")
		return
	}

	id := r.PathValue("id")
	value := req.FinalBalance
	if req.ClearFinalBalance {
		value = nil
	}
	if err := h.reconciler.SetFinalBalance(id, value); err != nil {
		writeServiceError(w, h.log, err, "Failed to update import")
		return
	}
	h.GetImport(w, r)
}

// UpdateEntry handles PATCH /api/imports/{id}/entries/{tempID}
func (h *ImportsHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date        *string `json:"date"`
		Category    *string `json:"category"`
		Name        *string `json:"name"`
		IsNecessary *bool   `json:"is_necessary"`
		Included    *bool   `json:"included"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.reconciler.Edit(r.PathValue("id"), r.PathValue("tempID"), importer.EntryPatch{
		Date:        req.Date,
		Category:    req.Category,
		Name:        req.Name,
		IsNecessary: req.IsNecessary,
		Included:    req.Included,
	})
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update entry")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, entry)
}

// ConfirmImport handles POST /api/imports/{id}/confirm
func (h *ImportsHandler) ConfirmImport(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconciler.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to confirm import")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// DiscardImport handles DELETE /api/imports/{id}
func (h *ImportsHandler) DiscardImport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.reconciler.Discard(id); err != nil {
		writeServiceError(w, h.log, err, "Failed to discard import")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// ListRuns handles GET /api/imports/runs
func (h *ImportsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, h.log, err, "Invalid limit")
		return
	}
	runs, err := h.ingestor.Runs().ListRuns(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list import runs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}
