// Package approval implements the approval channel: a stdio JSON-RPC
// server, run as a separate process from the main application, that the
// agent calls to request permission for a sensitive action. The channel
// holds no state beyond a database handle and the session it is bound to;
// the permission store mediates everything between it and the dashboard.
//
// The wire format is newline-delimited JSON-RPC 2.0 messages: requests
// arrive one per line on stdin, responses leave one per line on stdout.
// The channel exposes exactly one tool, approval_prompt, reachable through
// the initialize / tools/list / tools/call methods.
package approval

import "encoding/json"

// ToolApprovalPrompt is the single tool exposed by the channel.
const ToolApprovalPrompt = "approval_prompt"

// protocolVersion identifies the tool-channel revision reported by
// initialize.
const protocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes used by the channel. Anything that happens
// inside approval_prompt itself is never surfaced as an RPC error; it is
// converted to a deny decision instead.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
)

// request is an incoming JSON-RPC message. A nil ID marks a notification,
// which gets no response.
type request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// response is an outgoing JSON-RPC message.
type response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  interface{}      `json:"result,omitempty"`
	Error   *rpcError        `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// callParams are the params of a tools/call request.
type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ApprovalArguments are the arguments of an approval_prompt call.
type ApprovalArguments struct {
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// toolContent is one content block of a tool result. The decision travels
// as JSON text inside a text block.
type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// toolResult is the result of a tools/call request.
type toolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// toolInfo describes a tool in a tools/list result.
type toolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

// approvalPromptSchema is the input schema advertised for approval_prompt.
var approvalPromptSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"tool_name": map[string]interface{}{
			"type":        "string",
			"description": "Name of the tool the agent wants to run",
		},
		"input": map[string]interface{}{
			"type":        "object",
			"description": "Input the tool would receive",
		},
		"tool_use_id": map[string]interface{}{
			"type":        "string",
			"description": "Correlation key for the tool call, if known",
		},
	},
	"required": []string{"tool_name"},
}
