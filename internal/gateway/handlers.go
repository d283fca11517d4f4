package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/SebastienMelki/notifyguard/internal/dedup"
)

// Handler serves the notification API.
type Handler struct {
	service *NotificationService
	logger  *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *NotificationService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: svc,
		logger:  logger.With("component", "handler"),
	}
}

// RegisterRoutes mounts the API endpoints on mux.
//
// Endpoints:
//   - POST  /v1/checks   - Classify a notification
//   - POST  /v1/blocks   - Block content
//   - POST  /v1/unblocks - Forget content
//   - POST  /v1/similarity - Score two strings
//   - GET   /v1/config   - Current policy configuration
//   - PATCH /v1/config   - Partial policy update
//   - GET   /v1/stats    - Dedup counters
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/checks", h.handleCheck)
	mux.HandleFunc("POST /v1/blocks", h.handleBlock)
	mux.HandleFunc("POST /v1/unblocks", h.handleUnblock)
	mux.HandleFunc("POST /v1/similarity", h.handleSimilarity)
	mux.HandleFunc("GET /v1/config", h.handleGetConfig)
	mux.HandleFunc("PATCH /v1/config", h.handleUpdateConfig)
	mux.HandleFunc("GET /v1/stats", h.handleStats)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Check(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.service.Block(r.Context(), &req)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !h.decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, h.service.Unblock(r.Context(), &req))
}

func (h *Handler) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	var req SimilarityRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Similarity(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetConfig(r.Context()))
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch ConfigPatch
	if !h.decode(w, r, &patch) {
		return
	}

	cfg, err := h.service.UpdateConfig(r.Context(), &patch)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats(r.Context()))
}

// decode reads a JSON body into dst. On failure it writes the error response
// and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, ErrBodyTooLarge.Error())
			return false
		}
		writeError(w, r, http.StatusBadRequest, ErrInvalidBody.Error()+": "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps dedup errors to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dedup.ErrInvalidConfig), errors.Is(err, dedup.ErrInvalidComparison):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, dedup.ErrTooManyConcurrentRequests):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusTooManyRequests, dedup.ErrTooManyConcurrentRequests.Error())
	case errors.Is(err, dedup.ErrBatchFailed):
		h.logger.Error("batch evaluation failed", "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, r, http.StatusInternalServerError, dedup.ErrBatchFailed.Error())
	case errors.Is(err, dedup.ErrPolicyStore):
		h.logger.Error("policy store unavailable", "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, r, http.StatusServiceUnavailable, dedup.ErrPolicyStore.Error())
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response with the given status code and body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		RequestID: GetRequestID(r.Context()),
	})
}
