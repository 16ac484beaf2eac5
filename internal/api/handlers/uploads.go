package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/gcsuploader"
	"github.com/rs/zerolog"
)

// UploadsHandler stores statement files for later import.
type UploadsHandler struct {
	storage gcsuploader.StorageService
	log     zerolog.Logger
}

// NewUploadsHandler creates a new uploads handler. storage may be nil when
// no bucket is configured.
func NewUploadsHandler(storage gcsuploader.StorageService, log zerolog.Logger) *UploadsHandler {
	return &UploadsHandler{storage: storage, log: log}
}

// Upload handles POST /api/uploads?filename=statement.pdf
// The request body is the file content.
func (h *UploadsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "File storage is not configured")
		return
	}

	filename := filepath.Base(r.URL.Query().Get("filename"))
	if filename == "" || filename == "." || filename == "/" {
		middleware.WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uri, err := h.storage.Upload(r.Context(), filename, contentType, limitBody(w, r))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to upload file")
		return
	}

	h.log.Info().Str("gcs_uri", uri).Str("filename", filename).Msg("File uploaded successfully")

	middleware.WriteJSON(w, http.StatusCreated, map[string]string{
		"file_url": uri,
		"filename": filename,
	})
}
