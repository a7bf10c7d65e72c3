package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/remit-board/internal/api/middleware"
	"github.com/ayo6706/remit-board/internal/api/problem"
	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/identity"
	"github.com/ayo6706/remit-board/internal/livesync"
	"go.uber.org/zap"
)

const maxRequestBody = 64 << 10

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondDomainError maps the domain error taxonomy onto HTTP statuses.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, problemType, message := mapDomainError(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	RespondError(w, r, status, problemType, message)
}

func mapDomainError(err error) (status int, problemType, message string) {
	var (
		verr *domain.ValidationError
		aerr *domain.AuthError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation/invalid-field", verr.Error()
	case errors.Is(err, livesync.ErrInvalidQuery):
		return http.StatusBadRequest, "validation/invalid-query", err.Error()
	case errors.As(err, &aerr):
		return http.StatusUnauthorized, "auth/unauthorized", aerr.Reason
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized, "auth/unauthorized", "authentication required"
	case errors.Is(err, domain.ErrPermission):
		return http.StatusForbidden, "permission/not-owner", "only the author may change this resource"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "resource/not-found", "resource not found"
	case errors.Is(err, domain.ErrStore), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "store/unavailable", "document store unavailable, try again"
	default:
		return http.StatusInternalServerError, "internal-server-error", "unexpected server error"
	}
}

// decodeJSON reads a bounded JSON body into dst. It writes the 400 itself
// and reports false when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(dst)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "request body is required")
		return false
	}
	RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
	return false
}

// sessionFrom returns the caller's session, or the anonymous session.
func sessionFrom(r *http.Request) identity.Session {
	s, _ := identity.FromContext(r.Context())
	return s
}
