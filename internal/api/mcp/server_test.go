package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/rollcall/internal/engine"
	"github.com/scrypster/rollcall/internal/roster"
	"github.com/scrypster/rollcall/internal/storage/sqlite"
	"github.com/scrypster/rollcall/pkg/types"
)

var testRoster = []types.RosterEntry{
	{Name: "John Smith", Email: "john@x.com"},
	{Name: "Robert Jones", Email: "rjones@x.com", Aliases: []string{"Bob"}},
	{Name: "Jane Doe", Email: "jane@x.com", Handle: "@jdoe"},
}

type staticRosters map[string][]types.RosterEntry

func (s staticRosters) Roster(scope string) ([]types.RosterEntry, error) {
	entries, ok := s[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %q", roster.ErrUnknownScope, scope)
	}
	return entries, nil
}

func (s staticRosters) Scopes() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	return out
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := sqlite.NewMappingStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver, err := engine.NewIdentityResolver(store, nil, engine.DefaultConfig(), logger)
	require.NoError(t, err)

	return NewServer(resolver,
		WithRosters(staticRosters{"proj-1": testRoster}),
		WithVersion("test"),
		WithLogger(logger))
}

// call sends one JSON-RPC request and decodes the response envelope.
func call(t *testing.T, s *Server, method string, params interface{}) JSONRPCResponse {
	t.Helper()
	req, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	require.NoError(t, err)

	raw, err := s.HandleRequest(context.Background(), req)
	require.NoError(t, err)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp), string(raw))
	return resp
}

// callTool invokes a tool and decodes the text payload into out. It returns
// the raw tool result so callers can inspect IsError.
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}, out interface{}) MCPToolCallResult {
	t.Helper()
	resp := call(t, s, "tools/call", MCPToolCallParams{Name: name, Arguments: args})
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPToolCallResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Content, 1)

	if !result.IsError && out != nil {
		require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), out), result.Content[0].Text)
	}
	return result
}

func TestInitialize(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "initialize", MCPInitializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      MCPClientInfo{Name: "agent", Version: "1"},
	})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var result MCPInitializeResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "rollcall", result.ServerInfo.Name)
	assert.Equal(t, "test", result.ServerInfo.Version)
	assert.NotNil(t, result.Capabilities.Tools)
	assert.NotEmpty(t, s.SessionID())
}

func TestHandleRequest_ProtocolErrors(t *testing.T) {
	s := newTestServer(t)

	raw, err := s.HandleRequest(context.Background(), []byte("{not json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), fmt.Sprint(ErrCodeParseError))

	raw, err = s.HandleRequest(context.Background(), []byte(`{"jsonrpc":"1.0","method":"ping","id":1}`))
	require.NoError(t, err)
	assert.Contains(t, string(raw), fmt.Sprint(ErrCodeInvalidRequest))

	resp := call(t, s, "store_memory", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestInitializedNotificationHasNoResponse(t *testing.T) {
	s := newTestServer(t)

	raw, err := s.HandleRequest(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestToolsList(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "tools/list", nil)
	require.Nil(t, resp.Error)
	data, _ := json.Marshal(resp.Result)
	var result MCPToolsListResult
	require.NoError(t, json.Unmarshal(data, &result))

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"], tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"resolve_speaker", "resolve_speakers", "confirm_speaker", "reject_speaker",
		"list_pending_reviews", "list_mappings", "forget_mapping", "mapping_history",
	}, names)
}

func TestResolveSpeaker_UsesScopeRoster(t *testing.T) {
	s := newTestServer(t)

	var out ResolveSpeakerResult
	res := callTool(t, s, "resolve_speaker", map[string]interface{}{
		"scope": "proj-1", "transcript_name": "Bob", "explain": true,
	}, &out)
	require.False(t, res.IsError, res.Content[0].Text)

	require.NotNil(t, out.Result.ResolvedEmail)
	assert.Equal(t, "rjones@x.com", *out.Result.ResolvedEmail)
	assert.Equal(t, types.MatchExact, out.Result.Source)
	assert.False(t, out.Result.RequiresReview)
	assert.NotEmpty(t, out.Trace)
}

func TestResolveSpeaker_Errors(t *testing.T) {
	s := newTestServer(t)

	res := callTool(t, s, "resolve_speaker", map[string]interface{}{
		"scope": "unknown", "transcript_name": "Bob",
	}, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "unknown scope")

	res = callTool(t, s, "resolve_speaker", map[string]interface{}{"transcript_name": "Bob"}, nil)
	assert.True(t, res.IsError)

	res = callTool(t, s, "no_such_tool", nil, nil)
	assert.True(t, res.IsError)
}

func TestResolveSpeakers_AcceptsStringEncodedNames(t *testing.T) {
	s := newTestServer(t)

	var out ResolveSpeakersResult
	res := callTool(t, s, "resolve_speakers", map[string]interface{}{
		"scope": "proj-1", "names": `["jdoe", "John Smith"]`,
	}, &out)
	require.False(t, res.IsError, res.Content[0].Text)

	require.Len(t, out.Results, 2)
	assert.Equal(t, "jdoe", out.Results[0].TranscriptName)
	require.NotNil(t, out.Results[0].Result.ResolvedEmail)
	assert.Equal(t, "jane@x.com", *out.Results[0].Result.ResolvedEmail)
	require.NotNil(t, out.Results[1].Result.ResolvedEmail)
	assert.Equal(t, "john@x.com", *out.Results[1].Result.ResolvedEmail)

	res = callTool(t, s, "resolve_speakers", map[string]interface{}{"scope": "proj-1"}, nil)
	assert.True(t, res.IsError)
}

func TestResolveSpeakersArgs_CommaSeparatedNames(t *testing.T) {
	var args ResolveSpeakersArgs
	require.NoError(t, json.Unmarshal([]byte(`{"scope":"p","names":"Bob, Jane ,"}`), &args))
	assert.Equal(t, []string{"Bob", "Jane"}, args.Names)
}

func TestReviewWorkflow(t *testing.T) {
	s := newTestServer(t)

	var resolved ResolveSpeakerResult
	callTool(t, s, "resolve_speaker", map[string]interface{}{
		"scope": "proj-1", "transcript_name": "Speaker 2",
	}, &resolved)
	assert.True(t, resolved.Result.RequiresReview)

	var pending ListPendingResult
	callTool(t, s, "list_pending_reviews", map[string]interface{}{"scope": "proj-1"}, &pending)
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, "Speaker 2", pending.Pending[0].TranscriptName)

	var mapping types.LearnedMapping
	res := callTool(t, s, "confirm_speaker", map[string]interface{}{
		"scope": "proj-1", "transcript_name": "Speaker 2",
		"resolved_email": "jane@x.com", "resolved_name": "Jane Doe", "operator": "alice",
	}, &mapping)
	require.False(t, res.IsError, res.Content[0].Text)
	assert.Equal(t, "alice", mapping.CreatedBy)

	callTool(t, s, "list_pending_reviews", map[string]interface{}{}, &pending)
	assert.Zero(t, pending.Count, "confirming clears the pending review")

	callTool(t, s, "resolve_speaker", map[string]interface{}{
		"scope": "proj-1", "transcript_name": "speaker 2",
	}, &resolved)
	assert.Equal(t, types.MatchLearned, resolved.Result.Source)

	var mappings ListMappingsResult
	callTool(t, s, "list_mappings", map[string]interface{}{"scope": "proj-1"}, &mappings)
	assert.Len(t, mappings.Mappings, 1)

	var forgot ForgetMappingResult
	res = callTool(t, s, "forget_mapping", map[string]interface{}{
		"scope": "proj-1", "transcript_name": "Speaker 2", "operator": "bob",
	}, &forgot)
	require.False(t, res.IsError, res.Content[0].Text)
	assert.True(t, forgot.Deleted)

	res = callTool(t, s, "forget_mapping", map[string]interface{}{
		"scope": "proj-1", "transcript_name": "Speaker 2",
	}, nil)
	assert.True(t, res.IsError)

	var history MappingHistoryResult
	callTool(t, s, "mapping_history", map[string]interface{}{"scope": "proj-1", "limit": 10}, &history)
	require.Len(t, history.Events, 2)
	assert.Equal(t, types.MappingDeleted, history.Events[0].Action)
	assert.Equal(t, "bob", history.Events[0].Actor)
}

func TestRejectSpeaker(t *testing.T) {
	s := newTestServer(t)

	callTool(t, s, "resolve_speaker", map[string]interface{}{
		"scope": "proj-1", "transcript_name": "Speaker 9",
	}, &ResolveSpeakerResult{})

	var out RejectSpeakerResult
	callTool(t, s, "reject_speaker", map[string]interface{}{"scope": "proj-1", "transcript_name": "speaker 9"}, &out)
	assert.True(t, out.Rejected)

	callTool(t, s, "reject_speaker", map[string]interface{}{"scope": "proj-1", "transcript_name": "speaker 9"}, &out)
	assert.False(t, out.Rejected)

	res := callTool(t, s, "reject_speaker", map[string]interface{}{"scope": "proj-1"}, nil)
	assert.True(t, res.IsError)
}

func TestStdioTransport_ServesLines(t *testing.T) {
	s := newTestServer(t)

	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","method":"initialize","params":{},"id":1}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","method":"tools/list","id":2}`,
		`{"jsonrpc":"2.0","method":"ping","id":"three"}`,
	}, "\n"))
	var out bytes.Buffer

	require.NoError(t, NewStdioTransport(s, in, &out).Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "the notification gets no response")

	var last JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "three", last.ID)
	assert.Nil(t, last.Error)
}

func TestStdioTransport_StopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewStdioTransport(s, strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":1}`), io.Discard).Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInternalErrorResponse_KeepsID(t *testing.T) {
	raw := internalErrorResponse([]byte(`{"jsonrpc":"2.0","id":7}`), fmt.Errorf("boom"))

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.EqualValues(t, 7, resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}
