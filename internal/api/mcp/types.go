// Package mcp implements the Model Context Protocol (MCP) server for rollcall.
// It exposes speaker resolution and the review workflow as JSON-RPC 2.0 tools
// so that transcript-processing agents can resolve names without the HTTP API.
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/pkg/types"
)

// ResolveSpeakerArgs contains arguments for the resolve_speaker tool.
type ResolveSpeakerArgs struct {
	Scope              string              `json:"scope"`                         // Project scope (required)
	TranscriptName     string              `json:"transcript_name"`               // Name as it appears in the transcript (required)
	Context            string              `json:"context,omitempty"`             // Surrounding transcript excerpt
	Roster             []types.RosterEntry `json:"roster,omitempty"`              // Inline roster; the scope's roster file is used when empty
	ChatCandidates     []types.RosterEntry `json:"chat_candidates,omitempty"`     // Chat participants
	CalendarCandidates []types.RosterEntry `json:"calendar_candidates,omitempty"` // Calendar attendees
	Explain            bool                `json:"explain,omitempty"`             // Include the stage-by-stage trace
}

// ResolveSpeakerResult contains the result of resolve_speaker.
type ResolveSpeakerResult struct {
	Result *types.ResolutionResult `json:"result"`
	Trace  []engine.TraceEvent     `json:"trace,omitempty"`
}

// ResolveSpeakersArgs contains arguments for the resolve_speakers tool.
type ResolveSpeakersArgs struct {
	Scope              string              `json:"scope"`
	Names              []string            `json:"names"` // Transcript names (required)
	Context            string              `json:"context,omitempty"`
	Roster             []types.RosterEntry `json:"roster,omitempty"`
	ChatCandidates     []types.RosterEntry `json:"chat_candidates,omitempty"`
	CalendarCandidates []types.RosterEntry `json:"calendar_candidates,omitempty"`
}

// UnmarshalJSON accepts names either as a JSON array or as a JSON-encoded
// string; some MCP clients send array arguments in the latter form.
func (a *ResolveSpeakersArgs) UnmarshalJSON(data []byte) error {
	type Alias ResolveSpeakersArgs
	aux := &struct {
		Names json.RawMessage `json:"names,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.Names == nil {
		return nil
	}

	var names []string
	if err := json.Unmarshal(aux.Names, &names); err == nil {
		a.Names = names
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.Names, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		_ = json.Unmarshal([]byte(s), &names)
		a.Names = names
		return nil
	}
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			a.Names = append(a.Names, n)
		}
	}
	return nil
}

// ResolveSpeakersResult contains the per-name results of resolve_speakers, in
// request order.
type ResolveSpeakersResult struct {
	Scope   string               `json:"scope"`
	Results []engine.BatchResult `json:"results"`
}

// ConfirmSpeakerArgs contains arguments for the confirm_speaker tool.
type ConfirmSpeakerArgs struct {
	Scope          string `json:"scope"`
	TranscriptName string `json:"transcript_name"`
	ResolvedEmail  string `json:"resolved_email"`
	ResolvedName   string `json:"resolved_name,omitempty"`
	// Operator is recorded as the mapping author. Auto-detected if not provided.
	Operator string `json:"operator,omitempty"`
}

// RejectSpeakerArgs contains arguments for the reject_speaker tool.
type RejectSpeakerArgs struct {
	Scope          string `json:"scope"`
	TranscriptName string `json:"transcript_name"`
}

// RejectSpeakerResult reports whether a pending review was dismissed.
type RejectSpeakerResult struct {
	Rejected bool `json:"rejected"`
}

// ListPendingArgs contains arguments for the list_pending_reviews tool.
type ListPendingArgs struct {
	Scope string `json:"scope,omitempty"` // Empty lists every scope
}

// ListPendingResult lists open reviews, oldest first.
type ListPendingResult struct {
	Pending []types.PendingReview `json:"pending"`
	Count   int                   `json:"count"`
}

// ScopeArgs is used by tools that only take a scope.
type ScopeArgs struct {
	Scope string `json:"scope"`
}

// ListMappingsResult lists the learned mappings of a scope.
type ListMappingsResult struct {
	Scope    string                 `json:"scope"`
	Mappings []types.LearnedMapping `json:"mappings"`
}

// ForgetMappingArgs contains arguments for the forget_mapping tool.
type ForgetMappingArgs struct {
	Scope          string `json:"scope"`
	TranscriptName string `json:"transcript_name"`
	Operator       string `json:"operator,omitempty"`
}

// ForgetMappingResult reports a deleted mapping.
type ForgetMappingResult struct {
	Deleted bool `json:"deleted"`
}

// MappingHistoryArgs contains arguments for the mapping_history tool.
type MappingHistoryArgs struct {
	Scope string `json:"scope"`
	Limit int    `json:"limit,omitempty"` // default 50
}

// MappingHistoryResult lists mapping events, newest first.
type MappingHistoryResult struct {
	Scope  string               `json:"scope"`
	Events []types.MappingEvent `json:"events"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
