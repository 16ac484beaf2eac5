package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dvloznov/expense-ledger/internal/api/middleware"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies, including uploaded statements. Larger
// bodies are refused with 413.
const maxBodyBytes = 20 << 20

// limitBody caps r.Body at maxBodyBytes. Reads past the cap fail with
// *http.MaxBytesError.
func limitBody(w http.ResponseWriter, r *http.Request) io.Reader {
	return http.MaxBytesReader(w, r.Body, maxBodyBytes)
}

func writeTooLarge(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Request body exceeds "+strconv.Itoa(maxBodyBytes)+" bytes")
}

// writeServiceError maps a service error onto an HTTP status. Client errors
// carry their message; everything else is logged and reported as msg.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	var (
		tooLarge   *http.MaxBytesError
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		format     *domain.FormatError
		external   *domain.ExternalServiceError
	)
	switch {
	case errors.As(err, &tooLarge):
		writeTooLarge(w)
	case errors.As(err, &validation):
		middleware.WriteError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		middleware.WriteError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &format):
		middleware.WriteError(w, http.StatusUnprocessableEntity, format.Error())
	case errors.As(err, &external):
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusBadGateway, msg)
	default:
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}

// decodeJSON reads a JSON body into v and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(limitBody(w, r))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(w)
			return false
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &domain.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
