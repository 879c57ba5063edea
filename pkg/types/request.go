// Package types defines the wire structures for completion requests and
// responses flowing through the gateway. The request shape follows the
// OpenAI chat completion format, which every configured provider accepts
// after adapter-level translation.
package types

import (
	"errors"

	"github.com/goccy/go-json"
)

// CompletionRequest is the unified inbound request format.
// Unknown fields are preserved in Extra and forwarded unchanged.
type CompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	N           int             `json:"n,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	User        string          `json:"user,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`

	// Extra holds provider-specific parameters passed through unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

var completionRequestKnownFields = map[string]struct{}{
	"model":       {},
	"messages":    {},
	"stream":      {},
	"max_tokens":  {},
	"temperature": {},
	"top_p":       {},
	"n":           {},
	"stop":        {},
	"user":        {},
	"tools":       {},
	"tool_choice": {},
}

// Validate checks the request for structural errors before dispatch.
func (r *CompletionRequest) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("messages is required")
	}
	for i := range r.Messages {
		if r.Messages[i].Role == "" {
			return errors.New("message role is required")
		}
	}
	return nil
}

// MarshalJSON merges Extra fields without overriding explicitly set fields.
func (r CompletionRequest) MarshalJSON() ([]byte, error) {
	type Alias CompletionRequest

	base, err := json.Marshal(Alias(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(base, &payload); err != nil {
		return nil, err
	}

	for key, value := range r.Extra {
		if _, exists := payload[key]; !exists {
			payload[key] = value
		}
	}

	return json.Marshal(payload)
}

// UnmarshalJSON captures unknown fields into Extra for passthrough.
func (r *CompletionRequest) UnmarshalJSON(data []byte) error {
	type Alias CompletionRequest

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	var parsed Alias
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}

	*r = CompletionRequest(parsed)
	for key := range completionRequestKnownFields {
		delete(payload, key)
	}

	if len(payload) == 0 {
		r.Extra = nil
	} else {
		r.Extra = payload
	}

	return nil
}

// ChatMessage represents a single message in the conversation.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ContentText returns the message content as plain text when it is a
// JSON string; structured content returns its raw serialization.
func (m ChatMessage) ContentText() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	return string(m.Content)
}

// Tool represents a function that the model can call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall represents a tool invocation in an assistant message.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the name and serialized arguments of a call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
