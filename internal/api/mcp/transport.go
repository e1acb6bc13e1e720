package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// maxLineBytes bounds one request line; inline rosters can be large.
const maxLineBytes = 4 * 1024 * 1024

// StdioTransport reads line-delimited JSON-RPC 2.0 requests from an io.Reader
// and writes one response line per request to an io.Writer.
//
// Nothing but response frames may be written to out. Logging goes through the
// server's logger, which must target stderr.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

// NewStdioTransport constructs a StdioTransport that reads from in and writes
// to out.
//
//	t := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)
//	t.Serve(ctx)
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: srv.logger,
	}
}

// Serve processes requests in arrival order until in is closed or ctx is
// cancelled.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Info("stdin closed, shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			t.logger.Error("handler error", "error", err)
			resp = internalErrorResponse(line, err)
		}
		if resp == nil {
			continue
		}

		if _, err := fmt.Fprintf(t.out, "%s\n", resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// internalErrorResponse builds a best-effort JSON-RPC error response carrying
// the request ID, so the client never waits on a missing frame.
func internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	data, err := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error: &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: handlerErr.Error(),
		},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
