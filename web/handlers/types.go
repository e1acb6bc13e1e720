package handlers

import (
	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/pkg/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ResolveRequest is the body of POST /api/resolve. Roster may be omitted, in
// which case the scope's roster file is used.
type ResolveRequest struct {
	Scope              string              `json:"scope"`
	TranscriptName     string              `json:"transcript_name"`
	Context            string              `json:"context,omitempty"`
	Roster             []types.RosterEntry `json:"roster,omitempty"`
	ChatCandidates     []types.RosterEntry `json:"chat_candidates,omitempty"`
	CalendarCandidates []types.RosterEntry `json:"calendar_candidates,omitempty"`
}

// ResolveResponse wraps a result; Trace is set when ?explain=true.
type ResolveResponse struct {
	Result *types.ResolutionResult `json:"result"`
	Trace  []engine.TraceEvent     `json:"trace,omitempty"`
}

// BatchResponse is the body returned by POST /api/resolve/batch.
type BatchResponse struct {
	Scope   string               `json:"scope"`
	Results []engine.BatchResult `json:"results"`
}

// ConfirmRequest is the body of POST /api/confirm.
type ConfirmRequest struct {
	Scope          string `json:"scope"`
	TranscriptName string `json:"transcript_name"`
	ResolvedEmail  string `json:"resolved_email"`
	ResolvedName   string `json:"resolved_name"`
	Operator       string `json:"operator,omitempty"`
}

// RejectRequest is the body of POST /api/reject.
type RejectRequest struct {
	Scope          string `json:"scope"`
	TranscriptName string `json:"transcript_name"`
}

// PendingResponse lists pending reviews.
type PendingResponse struct {
	Pending []types.PendingReview `json:"pending"`
	Count   int                   `json:"count"`
}

// MappingsResponse lists learned mappings of one scope.
type MappingsResponse struct {
	Scope    string                 `json:"scope"`
	Mappings []types.LearnedMapping `json:"mappings"`
	Count    int                    `json:"count"`
}

// HistoryResponse lists mapping events of one scope, newest first.
type HistoryResponse struct {
	Scope  string               `json:"scope"`
	Events []types.MappingEvent `json:"events"`
	Count  int                  `json:"count"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status            string   `json:"status"`
	Version           string   `json:"version"`
	SemanticAvailable bool     `json:"semantic_available"`
	PendingReviews    int      `json:"pending_reviews"`
	Scopes            []string `json:"scopes"`
}
