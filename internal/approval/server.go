package approval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/logger"
	"github.com/mzxrai/memva-sub002/internal/services"
)

// maxLineBytes bounds a single incoming RPC line. Tool inputs are small;
// 4 MB is generous.
const maxLineBytes = 4 * 1024 * 1024

// Server answers approval_prompt calls for one session. It delegates to the
// permission poller, so a call blocks until a human decision is recorded in
// the store or the wait budget runs out.
type Server struct {
	sessionID string
	poller    *services.PermissionPoller
	maxWait   time.Duration

	in  io.Reader
	out io.Writer

	// writeMu serializes responses; approval calls resolve concurrently.
	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewServer creates a channel server bound to sessionID, reading requests
// from in and writing responses to out.
func NewServer(sessionID string, poller *services.PermissionPoller, maxWait time.Duration, in io.Reader, out io.Writer) *Server {
	if maxWait <= 0 {
		maxWait = models.DefaultRequestTimeout
	}
	return &Server{
		sessionID: sessionID,
		poller:    poller,
		maxWait:   maxWait,
		in:        in,
		out:       out,
	}
}

// Serve reads requests until EOF or ctx cancellation. Each tools/call is
// answered from its own goroutine because an approval can block for hours;
// the channel stays responsive to further requests meanwhile.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	// Scan blocks on the pipe; close the read side on shutdown so a signal
	// stops the server without waiting for the agent to hang up.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			if closer, ok := s.in.(io.Closer); ok {
				_ = closer.Close()
			}
		case <-readDone:
		}
	}()

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(nil, codeParseError, "parse error: "+err.Error())
			continue
		}
		s.dispatch(ctx, req)
	}
	s.wg.Wait()

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("approval channel read failed: %w", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req request) {
	switch req.Method {
	case "initialize":
		s.writeResult(req.ID, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo": map[string]interface{}{
				"name":    "memva-approval",
				"version": "1.0.0",
			},
		})
	case "notifications/initialized":
		// Notification, no response.
	case "ping":
		s.writeResult(req.ID, map[string]interface{}{})
	case "tools/list":
		s.writeResult(req.ID, map[string]interface{}{
			"tools": []toolInfo{{
				Name:        ToolApprovalPrompt,
				Description: "Ask the session owner for permission to run a tool",
				InputSchema: approvalPromptSchema,
			}},
		})
	case "tools/call":
		if req.ID == nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.writeResult(req.ID, s.handleToolCall(ctx, req.Params))
		}()
	default:
		if req.ID == nil {
			return
		}
		s.writeError(req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}
}

// handleToolCall resolves an approval_prompt call to a decision. Every
// failure path, from bad arguments to a broken store, becomes a deny
// decision; the agent never sees a raw error through this channel.
func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) toolResult {
	var call callParams
	if err := json.Unmarshal(params, &call); err != nil {
		return decisionResult(services.Decision{
			Behavior: models.DecisionDeny,
			Message:  "invalid tools/call params: " + err.Error(),
		})
	}
	if call.Name != ToolApprovalPrompt {
		return decisionResult(services.Decision{
			Behavior: models.DecisionDeny,
			Message:  "unknown tool: " + call.Name,
		})
	}

	var args ApprovalArguments
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return decisionResult(services.Decision{
				Behavior: models.DecisionDeny,
				Message:  "invalid approval_prompt arguments: " + err.Error(),
			})
		}
	}
	if args.ToolName == "" {
		return decisionResult(services.Decision{
			Behavior: models.DecisionDeny,
			Message:  "tool_name is required",
		})
	}

	logger.InfoWithFields("Approval requested", map[string]interface{}{
		"session_id": s.sessionID, "tool_name": args.ToolName, "tool_use_id": args.ToolUseID,
	})

	decision := s.poller.RequestAndAwait(ctx, s.sessionID, args.ToolName, args.Input, args.ToolUseID, s.maxWait)
	return decisionResult(decision)
}

// decisionResult encodes a decision as the JSON text payload of a tool
// result.
func decisionResult(decision services.Decision) toolResult {
	text, err := json.Marshal(decision)
	if err != nil {
		text = []byte(`{"behavior":"deny","message":"failed to encode decision"}`)
	}
	return toolResult{
		Content: []toolContent{{Type: "text", Text: string(text)}},
	}
}

func (s *Server) writeResult(id *json.RawMessage, result interface{}) {
	s.write(response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id *json.RawMessage, code int, message string) {
	s.write(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (s *Server) write(resp response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	payload, err := json.Marshal(resp)
	if err != nil {
		logger.Errorf("Approval channel failed to encode response: %v", err)
		return
	}
	payload = append(payload, '\n')
	if _, err := s.out.Write(payload); err != nil {
		logger.Errorf("Approval channel failed to write response: %v", err)
	}
}
