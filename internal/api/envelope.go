package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"example.com/activityquery/internal/domain"
	"example.com/activityquery/internal/freshness"
)

// Envelope is the uniform response body.
type Envelope struct {
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Meta       Meta        `json:"meta"`
}

// Pagination describes an offset page.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// NewPagination derives page metadata from the same total the page was cut from.
func NewPagination(page domain.Page, total int) Pagination {
	totalPages := 0
	if page.Size > 0 {
		totalPages = (total + page.Size - 1) / page.Size
	}
	return Pagination{
		Page:       page.Number,
		Limit:      page.Size,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    page.Number*page.Size < total,
	}
}

// Meta always names the store mode; aggregates also carry the grouping.
type Meta struct {
	Mode            string     `json:"mode,omitempty"`
	EntryID         string     `json:"entryId,omitempty"`
	GroupBy         string     `json:"groupBy,omitempty"`
	SourceFilter    string     `json:"sourceFilter,omitempty"`
	Timezone        string     `json:"timezone,omitempty"`
	ComputedAt      *time.Time `json:"computedAt,omitempty"`
	Cap             *int       `json:"cap,omitempty"`
	TotalSources    *int       `json:"totalSources,omitempty"`
	TotalActivities *int       `json:"totalActivities,omitempty"`
	ActivityMeta    bool       `json:"includeActivityMeta,omitempty"`
}

// ErrorBody is the stable error shape.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes returned to clients.
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeInsufficientScope   = "INSUFFICIENT_SCOPE"
	CodeTimeout             = "TIMEOUT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

// cachePolicy drives Cache-Control and the weak validator for one response.
type cachePolicy struct {
	ttl  time.Duration
	etag string
}

func writeCached(w http.ResponseWriter, r *http.Request, body Envelope, policy cachePolicy) {
	h := w.Header()
	h.Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(policy.ttl.Seconds())))
	h.Add("Vary", "Authorization")
	if policy.etag != "" {
		h.Set("ETag", policy.etag)
		if freshness.Matches(r.Header.Get("If-None-Match"), policy.etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, ErrorBody{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeDomainError maps the service error taxonomy onto HTTP. A missing entry
// and another user's entry produce byte-identical responses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// The client went away; there is nobody to answer.
		h.logger.Debug("request canceled", zap.String("path", r.URL.Path), zap.Error(err))
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusNotFound, CodeNotFound, domain.ErrNotFound.Error())
	case errors.Is(err, domain.ErrTimeout):
		h.logger.Warn("query timed out", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, CodeTimeout, "request timed out")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		h.logger.Error("activity store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, CodeUpstreamUnavailable, "activity store unavailable")
	default:
		h.logger.Error("unhandled query error", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// WriteAuthError renders authentication failures in the stable error shape.
func WriteAuthError(w http.ResponseWriter, _ *http.Request, err error) {
	writeError(w, http.StatusUnauthorized, CodeUnauthenticated, err.Error())
}
