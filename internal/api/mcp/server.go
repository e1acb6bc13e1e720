package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/rollcall/internal/attribution"
	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/pkg/types"
)

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// RosterSource supplies the roster of a scope when a tool call omits it.
// *roster.Directory implements it.
type RosterSource interface {
	Roster(scope string) ([]types.RosterEntry, error)
	Scopes() []string
}

// Server implements the Model Context Protocol for rollcall.
type Server struct {
	resolver  *engine.IdentityResolver
	rosters   RosterSource
	version   string
	logger    *slog.Logger
	sessionID string // generated once per server lifetime
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithRosters lets tool calls omit the roster and use the scope's roster file.
func WithRosters(rosters RosterSource) ServerOption {
	return func(s *Server) {
		s.rosters = rosters
	}
}

// WithVersion sets the version reported in the initialize handshake.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithLogger sets the logger. It must not write to stdout.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP server over resolver.
func NewServer(resolver *engine.IdentityResolver, opts ...ServerOption) *Server {
	s := &Server{
		resolver:  resolver,
		version:   "dev",
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "mcp", "session_id", s.sessionID)
	return s
}

// SessionID returns the identifier of this server instance.
func (s *Server) SessionID() string {
	return s.sessionID
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// Notifications (requests without an id) return a nil response.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "notifications/initialized", "initialized":
		if req.ID == nil {
			return nil, nil
		}
		result = map[string]interface{}{}
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeInvalidParams, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

// ResolveSpeaker resolves one transcript name.
func (s *Server) ResolveSpeaker(ctx context.Context, args ResolveSpeakerArgs) (*ResolveSpeakerResult, error) {
	roster, err := s.rosterFor(args.Scope, args.Roster)
	if err != nil {
		return nil, err
	}

	var trace *engine.Trace
	if args.Explain {
		trace = &engine.Trace{}
	}

	result, err := s.resolver.ResolveWithTrace(ctx, &types.ResolutionRequest{
		Scope:              args.Scope,
		TranscriptName:     args.TranscriptName,
		Context:            args.Context,
		Roster:             roster,
		ChatCandidates:     args.ChatCandidates,
		CalendarCandidates: args.CalendarCandidates,
	}, trace)
	if err != nil {
		return nil, err
	}

	out := &ResolveSpeakerResult{Result: result}
	if trace != nil {
		out.Trace = trace.Events
	}
	return out, nil
}

// ResolveSpeakers resolves every name of one transcript against shared
// candidate sets.
func (s *Server) ResolveSpeakers(ctx context.Context, args ResolveSpeakersArgs) (*ResolveSpeakersResult, error) {
	if len(args.Names) == 0 {
		return nil, errors.New("names is required")
	}
	roster, err := s.rosterFor(args.Scope, args.Roster)
	if err != nil {
		return nil, err
	}

	items := make([]engine.BatchItem, len(args.Names))
	for i, name := range args.Names {
		items[i] = engine.BatchItem{TranscriptName: name, Context: args.Context}
	}

	results, err := s.resolver.ResolveBatch(ctx, engine.BatchRequest{
		Scope:              args.Scope,
		Items:              items,
		Roster:             roster,
		ChatCandidates:     args.ChatCandidates,
		CalendarCandidates: args.CalendarCandidates,
	})
	if err != nil {
		return nil, err
	}
	return &ResolveSpeakersResult{Scope: args.Scope, Results: results}, nil
}

// ConfirmSpeaker records a human-confirmed mapping.
func (s *Server) ConfirmSpeaker(ctx context.Context, args ConfirmSpeakerArgs) (*types.LearnedMapping, error) {
	return s.resolver.Confirm(ctx, args.Scope, args.TranscriptName,
		args.ResolvedEmail, args.ResolvedName, s.operator(args.Operator))
}

// RejectSpeaker dismisses a pending review without learning anything.
func (s *Server) RejectSpeaker(_ context.Context, args RejectSpeakerArgs) (*RejectSpeakerResult, error) {
	if strings.TrimSpace(args.Scope) == "" || types.NormalizeKey(args.TranscriptName) == "" {
		return nil, errors.New("scope and transcript_name are required")
	}
	return &RejectSpeakerResult{Rejected: s.resolver.Reject(args.Scope, args.TranscriptName)}, nil
}

// ListPending lists open reviews.
func (s *Server) ListPending(_ context.Context, args ListPendingArgs) (*ListPendingResult, error) {
	pending := s.resolver.ListPending(args.Scope)
	return &ListPendingResult{Pending: pending, Count: len(pending)}, nil
}

// ListMappings lists the learned mappings of a scope.
func (s *Server) ListMappings(ctx context.Context, args ScopeArgs) (*ListMappingsResult, error) {
	mappings, err := s.resolver.Mappings(ctx, args.Scope)
	if err != nil {
		return nil, err
	}
	return &ListMappingsResult{Scope: args.Scope, Mappings: mappings}, nil
}

// ForgetMapping deletes a learned mapping.
func (s *Server) ForgetMapping(ctx context.Context, args ForgetMappingArgs) (*ForgetMappingResult, error) {
	if err := s.resolver.Forget(ctx, args.Scope, args.TranscriptName, s.operator(args.Operator)); err != nil {
		return nil, err
	}
	return &ForgetMappingResult{Deleted: true}, nil
}

// MappingHistory returns recent mapping events of a scope.
func (s *Server) MappingHistory(ctx context.Context, args MappingHistoryArgs) (*MappingHistoryResult, error) {
	events, err := s.resolver.History(ctx, args.Scope, args.Limit)
	if err != nil {
		return nil, err
	}
	return &MappingHistoryResult{Scope: args.Scope, Events: events}, nil
}

func (s *Server) operator(explicit string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	return attribution.DetectOperator()
}

// rosterFor returns the inline roster when one was supplied, otherwise the
// scope's roster from the roster source.
func (s *Server) rosterFor(scope string, inline []types.RosterEntry) ([]types.RosterEntry, error) {
	if len(inline) > 0 {
		return inline, nil
	}
	if strings.TrimSpace(scope) == "" {
		return nil, errors.New("scope is required")
	}
	if s.rosters == nil {
		return nil, errors.New("roster is required")
	}
	return s.rosters.Roster(scope)
}

func (s *Server) handleInitialize(_ context.Context, params interface{}) (interface{}, error) {
	var p MCPInitializeParams
	if params != nil {
		if err := s.unmarshalParams(params, &p); err != nil {
			return nil, err
		}
	}
	if p.ClientInfo.Name != "" {
		s.logger.Info("client connected", "client", p.ClientInfo.Name, "client_version", p.ClientInfo.Version)
	}
	return MCPInitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "rollcall",
			Version: s.version,
		},
	}, nil
}

func (s *Server) handleToolsList(_ context.Context, _ interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request and wraps the result in the
// MCP content envelope. Tool failures are reported in-band with IsError.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	var result interface{}
	var err error

	switch p.Name {
	case "resolve_speaker":
		var args ResolveSpeakerArgs
		if err = s.unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.ResolveSpeaker(ctx, args)
		}
	case "resolve_speakers":
		var args ResolveSpeakersArgs
		if err = s.unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.ResolveSpeakers(ctx, args)
		}
	case "confirm_speaker":
		var args ConfirmSpeakerArgs
		if err = s.unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.ConfirmSpeaker(ctx, args)
		}
	case "reject_speaker":
		var args RejectSpeakerArgs
		if err = s.unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.RejectSpeaker(ctx, args)
		}
	case "list_pending_reviews":
		var args ListPendingArgs
		if err = s.unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.ListPending(ctx, args)
		}
	case "list_mappings":
		var args ScopeArgs
		if err = s.unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.ListMappings(ctx, args)
		}
	case "forget_mapping":
		var args ForgetMappingArgs
		if err = s.unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.ForgetMapping(ctx, args)
		}
	case "mapping_history":
		var args MappingHistoryArgs
		if err = s.unmarshalParams(p.Arguments, &args); err == nil {
			result, err = s.MappingHistory(ctx, args)
		}
	default:
		return toolError(fmt.Sprintf("unknown tool: %s", p.Name)), nil
	}

	if err != nil {
		s.logger.Debug("tool call failed", "tool", p.Name, "error", err)
		return toolError(err.Error()), nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

func toolError(message string) *MCPToolCallResult {
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: message}},
		IsError: true,
	}
}

// unmarshalParams converts JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	})
}
