package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/windriver/studio-mcp/internal/auth"
)

// stdio identity overrides. When unset the session runs in the default
// owner scope.
const (
	EnvUserID      = "STUDIO_USER_ID"
	EnvOrgID       = "STUDIO_ORG_ID"
	EnvEnvironment = "STUDIO_ENVIRONMENT"
)

// ServeStdio speaks the MCP protocol over stdin/stdout, one JSON-RPC message
// per line. It returns when stdin closes or ctx is cancelled.
func (h *Handler) ServeStdio(ctx context.Context) error {
	return h.serveStream(ctx, os.Stdin, os.Stdout)
}

func (h *Handler) serveStream(ctx context.Context, in io.Reader, out io.Writer) error {
	h.activeConns.Add(1)
	defer h.activeConns.Done()

	sessionID := uuid.New().String()
	session := &Session{
		ID:           sessionID,
		ConnectionID: "stdio",
		Principal: auth.Principal{
			UserID:      os.Getenv(EnvUserID),
			OrgID:       os.Getenv(EnvOrgID),
			Environment: os.Getenv(EnvEnvironment),
		},
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}

	h.sessionsMu.Lock()
	h.sessions[sessionID] = session
	h.sessionsMu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordSessionStart()
	}

	defer func() {
		h.sessionsMu.Lock()
		delete(h.sessions, sessionID)
		h.sessionsMu.Unlock()
		if h.metrics != nil {
			h.metrics.RecordSessionEnd(time.Since(session.CreatedAt))
		}
	}()

	var writeMu sync.Mutex
	writer := bufio.NewWriter(out)
	write := func(msg *MCPMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := writer.Write(data); err != nil {
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			return err
		}
		return writer.Flush()
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.shutdownCh:
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("stdin read: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}

			var msg MCPMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				resp := &MCPMessage{
					JSONRPC: "2.0",
					Error: &MCPError{
						Code:    CodeParseError,
						Message: fmt.Sprintf("parse error: %v", err),
					},
				}
				if werr := write(resp); werr != nil {
					return werr
				}
				continue
			}

			if h.metrics != nil {
				h.metrics.RecordMessageReceived(msg.Method)
			}

			session.LastActivity = time.Now()

			response, err := h.handleMessage(sessionID, &msg)
			if err != nil {
				response = &MCPMessage{
					JSONRPC: "2.0",
					ID:      msg.ID,
					Error:   toMCPError(err),
				}
			}
			if response != nil {
				if err := write(response); err != nil {
					return err
				}
				if h.metrics != nil {
					h.metrics.RecordMessageSent(msg.Method)
				}
			}
		}
	}
}
