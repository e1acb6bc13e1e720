package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/internal/roster"
	"github.com/scrypster/rollcall/internal/storage"
	"github.com/scrypster/rollcall/pkg/types"
)

// maxBodyBytes bounds request bodies; rosters are inlined in resolve calls.
const maxBodyBytes = 4 << 20

// RosterSource supplies the roster of a scope when a request omits it.
// *roster.Directory implements it.
type RosterSource interface {
	Roster(scope string) ([]types.RosterEntry, error)
	Scopes() []string
}

// APIHandlers contains HTTP handlers for the resolution API.
type APIHandlers struct {
	resolver *engine.IdentityResolver
	rosters  RosterSource
	version  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewAPIHandlers creates a new APIHandlers instance. rosters may be nil, in
// which case every resolve request must carry its own roster.
func NewAPIHandlers(resolver *engine.IdentityResolver, rosters RosterSource, version string, logger *slog.Logger) *APIHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandlers{
		resolver: resolver,
		rosters:  rosters,
		version:  version,
		logger:   logger.With("component", "api"),
		now:      time.Now,
	}
}

// Resolve handles POST /api/resolve.
func (h *APIHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rosterEntries, status, err := h.rosterFor(req.Scope, req.Roster)
	if err != nil {
		respondError(w, status, "roster unavailable", err)
		return
	}

	resReq := &types.ResolutionRequest{
		Scope:              req.Scope,
		TranscriptName:     req.TranscriptName,
		Context:            req.Context,
		Roster:             rosterEntries,
		ChatCandidates:     req.ChatCandidates,
		CalendarCandidates: req.CalendarCandidates,
	}

	var trace *engine.Trace
	if explain, _ := strconv.ParseBool(r.URL.Query().Get("explain")); explain {
		trace = &engine.Trace{}
	}

	result, err := h.resolver.ResolveWithTrace(r.Context(), resReq, trace)
	if err != nil {
		h.respondEngineError(w, "failed to resolve", err)
		return
	}

	resp := ResolveResponse{Result: result}
	if trace != nil {
		resp.Trace = trace.Events
	}
	respondJSON(w, http.StatusOK, resp)
}

// ResolveBatch handles POST /api/resolve/batch.
func (h *APIHandlers) ResolveBatch(w http.ResponseWriter, r *http.Request) {
	var req engine.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "names are required", nil)
		return
	}

	rosterEntries, status, err := h.rosterFor(req.Scope, req.Roster)
	if err != nil {
		respondError(w, status, "roster unavailable", err)
		return
	}
	req.Roster = rosterEntries

	results, err := h.resolver.ResolveBatch(r.Context(), req)
	if err != nil {
		h.respondEngineError(w, "failed to resolve batch", err)
		return
	}
	respondJSON(w, http.StatusOK, BatchResponse{Scope: req.Scope, Results: results})
}

// Confirm handles POST /api/confirm.
func (h *APIHandlers) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	mapping, err := h.resolver.Confirm(r.Context(), req.Scope, req.TranscriptName,
		req.ResolvedEmail, req.ResolvedName, req.Operator)
	if err != nil {
		h.respondEngineError(w, "failed to confirm mapping", err)
		return
	}
	respondJSON(w, http.StatusCreated, mapping)
}

// Reject handles POST /api/reject.
func (h *APIHandlers) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Scope) == "" || types.NormalizeKey(req.TranscriptName) == "" {
		respondError(w, http.StatusBadRequest, "scope and transcript_name are required", nil)
		return
	}

	if !h.resolver.Reject(req.Scope, req.TranscriptName) {
		respondError(w, http.StatusNotFound, "no pending review", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rejected":        true,
		"scope":           req.Scope,
		"transcript_name": req.TranscriptName,
	})
}

// ListPending handles GET /api/pending?scope=.
func (h *APIHandlers) ListPending(w http.ResponseWriter, r *http.Request) {
	pending := h.resolver.ListPending(r.URL.Query().Get("scope"))
	respondJSON(w, http.StatusOK, PendingResponse{Pending: pending, Count: len(pending)})
}

// ExpirePending handles POST /api/pending/expire.
func (h *APIHandlers) ExpirePending(w http.ResponseWriter, r *http.Request) {
	expired := h.resolver.ExpirePending(h.now())
	respondJSON(w, http.StatusOK, PendingResponse{Pending: expired, Count: len(expired)})
}

// ListMappings handles GET /api/mappings?scope=.
func (h *APIHandlers) ListMappings(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		respondError(w, http.StatusBadRequest, "scope is required", nil)
		return
	}

	mappings, err := h.resolver.Mappings(r.Context(), scope)
	if err != nil {
		h.respondEngineError(w, "failed to list mappings", err)
		return
	}
	respondJSON(w, http.StatusOK, MappingsResponse{Scope: scope, Mappings: mappings, Count: len(mappings)})
}

// DeleteMapping handles DELETE /api/mappings?scope=&transcript_name=&operator=.
func (h *APIHandlers) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.resolver.Forget(r.Context(), q.Get("scope"), q.Get("transcript_name"), q.Get("operator"))
	if err != nil {
		h.respondEngineError(w, "failed to delete mapping", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/mappings/history?scope=&limit=.
func (h *APIHandlers) History(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		respondError(w, http.StatusBadRequest, "scope is required", nil)
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), storage.DefaultHistoryLimit)

	events, err := h.resolver.History(r.Context(), scope, limit)
	if err != nil {
		h.respondEngineError(w, "failed to load history", err)
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Scope: scope, Events: events, Count: len(events)})
}

// Health handles GET /health.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	scopes := []string{}
	if h.rosters != nil {
		scopes = h.rosters.Scopes()
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:            "healthy",
		Version:           h.version,
		SemanticAvailable: h.resolver.SemanticAvailable(),
		PendingReviews:    len(h.resolver.ListPending("")),
		Scopes:            scopes,
	})
}

// rosterFor returns the inline roster when one was supplied, otherwise the
// scope's roster from the roster source. The int is the HTTP status to use
// on error.
func (h *APIHandlers) rosterFor(scope string, inline []types.RosterEntry) ([]types.RosterEntry, int, error) {
	if len(inline) > 0 {
		return inline, http.StatusOK, nil
	}
	if strings.TrimSpace(scope) == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("scope is required")
	}
	if h.rosters == nil {
		return nil, http.StatusBadRequest, fmt.Errorf("roster is required")
	}
	entries, err := h.rosters.Roster(scope)
	if errors.Is(err, roster.ErrUnknownScope) {
		return nil, http.StatusNotFound, err
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return entries, http.StatusOK, nil
}

// respondEngineError maps resolver errors onto HTTP status codes.
func (h *APIHandlers) respondEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest), errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	default:
		h.logger.Error(message, "error", err)
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

// decodeJSON decodes a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; nothing more to write.
		slog.Warn("failed to encode JSON response", "error", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
