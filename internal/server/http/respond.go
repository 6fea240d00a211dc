package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/service"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// errorBody is the envelope of every non-2xx response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

// loginFailed is the one answer for every failed login.
func loginFailed(w http.ResponseWriter) {
	writeErrorBody(w, http.StatusUnauthorized, "invalid_credentials", errs.ErrInvalidCredentials.Error())
}

// writeError maps service errors onto statuses. Unmapped errors are logged and hidden.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var rl *service.RateLimitedError
	switch {
	case errors.As(err, &rl):
		secs := int(math.Ceil(rl.Wait.Seconds()))
		if secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeErrorBody(w, http.StatusTooManyRequests, "rate_limited", "too many failed attempts, try again later")
	case errors.Is(err, errs.ErrRateLimited):
		writeErrorBody(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	case errors.Is(err, errs.ErrInvalidCredentials):
		loginFailed(w)
	case errors.Is(err, errs.ErrUnauthenticated):
		writeErrorBody(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
	case errors.Is(err, errs.ErrForbidden):
		writeErrorBody(w, http.StatusForbidden, "forbidden", "not allowed for this account")
	case errors.Is(err, errs.ErrDuplicateEmail):
		writeErrorBody(w, http.StatusBadRequest, "duplicate_email", errs.ErrDuplicateEmail.Error())
	case errors.Is(err, errs.ErrWeakPassword):
		writeErrorBody(w, http.StatusBadRequest, "weak_password", errs.ErrWeakPassword.Error())
	case errors.Is(err, errs.ErrValidation):
		writeErrorBody(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrVersionConflict):
		writeErrorBody(w, http.StatusConflict, "conflict", "concurrent modification, retry the request")
	case errors.Is(err, errs.ErrUpstream):
		log.Warn("catalog failure", zap.Error(err))
		writeErrorBody(w, http.StatusBadGateway, "upstream_error", "media catalog unavailable")
	case errors.Is(err, errs.ErrStoreUnavailable):
		log.Error("store unavailable", zap.Error(err))
		writeErrorBody(w, http.StatusServiceUnavailable, "store_unavailable", "storage temporarily unavailable")
	default:
		log.Error("unhandled error", zap.Error(err))
		writeErrorBody(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body: %v", errs.ErrValidation, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after body", errs.ErrValidation)
	}
	return nil
}
