package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCorruptBody reports a stored version body that cannot be decoded.
	ErrCorruptBody = errors.New("stored prompt body is corrupt")
	// ErrInvalidBody rejects a body offered for publishing.
	ErrInvalidBody = errors.New("invalid prompt body")
)

const (
	ResponseFormatText       = "text"
	ResponseFormatJSONSchema = "json_schema"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat is either plain text or a JSON schema the provider must
// answer with. The zero value means text.
type ResponseFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict *bool           `json:"strict,omitempty"`
}

// Structured reports whether the caller asked for JSON output.
func (f ResponseFormat) Structured() bool {
	return f.Type == ResponseFormatJSONSchema
}

// SchemaName returns Name or a stable fallback; several vendors require one.
func (f ResponseFormat) SchemaName() string {
	if strings.TrimSpace(f.Name) != "" {
		return f.Name
	}
	return "response"
}

func (f *ResponseFormat) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       string          `json:"type"`
		Name       string          `json:"name"`
		Schema     json.RawMessage `json:"schema"`
		Strict     *bool           `json:"strict"`
		JSONSchema *struct {
			Name   string          `json:"name"`
			Schema json.RawMessage `json:"schema"`
			Strict *bool           `json:"strict"`
		} `json:"json_schema"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := ResponseFormat{
		Type:   strings.ToLower(strings.TrimSpace(raw.Type)),
		Name:   raw.Name,
		Schema: raw.Schema,
		Strict: raw.Strict,
	}
	// Accept the nested chat-completions shape as well as the flat one.
	if raw.JSONSchema != nil {
		if out.Name == "" {
			out.Name = raw.JSONSchema.Name
		}
		if isJSONNull(out.Schema) {
			out.Schema = raw.JSONSchema.Schema
		}
		if out.Strict == nil {
			out.Strict = raw.JSONSchema.Strict
		}
	}

	switch out.Type {
	case "", ResponseFormatText:
		out.Type = ResponseFormatText
		out.Schema = nil
	case ResponseFormatJSONSchema:
		if isJSONNull(out.Schema) {
			return fmt.Errorf("json_schema response format requires a schema")
		}
		var probe map[string]any
		if err := json.Unmarshal(out.Schema, &probe); err != nil {
			return fmt.Errorf("json_schema schema must be an object: %w", err)
		}
	default:
		return fmt.Errorf("unsupported response format type %q", raw.Type)
	}

	*f = out
	return nil
}

// Body is the decoded content of a prompt version.
type Body struct {
	Messages         []Message       `json:"messages"`
	ResponseFormat   ResponseFormat  `json:"responseFormat"`
	ProviderSettings json.RawMessage `json:"providerSettings,omitempty"`
	ProxyMode        bool            `json:"proxyMode,omitempty"`
}

// ParseBody decodes a stored version body. Any decode failure is reported as
// ErrCorruptBody: bodies are written by the publish path, so a bad one means
// the row was damaged after the fact.
func ParseBody(raw json.RawMessage) (Body, error) {
	body, err := decodeBody(raw)
	if err != nil {
		return Body{}, fmt.Errorf("%w: %v", ErrCorruptBody, err)
	}
	return body, nil
}

func decodeBody(raw json.RawMessage) (Body, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Body{}, errors.New("empty body")
	}

	var body Body
	if err := json.Unmarshal(raw, &body); err != nil {
		return Body{}, err
	}
	if body.ResponseFormat.Type == "" {
		body.ResponseFormat.Type = ResponseFormatText
	}
	if isJSONNull(body.ProviderSettings) {
		body.ProviderSettings = nil
	}
	return body, nil
}

// ValidateBody checks a body before it is published. Unlike ParseBody it
// also rejects bodies that could never execute.
func ValidateBody(raw json.RawMessage) (Body, error) {
	body, err := decodeBody(raw)
	if err != nil {
		return Body{}, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if len(body.Messages) == 0 {
		return Body{}, fmt.Errorf("%w: at least one message is required", ErrInvalidBody)
	}
	for i, message := range body.Messages {
		switch message.Role {
		case "system", "user", "assistant", "developer":
		default:
			return Body{}, fmt.Errorf("%w: message %d has unsupported role %q", ErrInvalidBody, i, message.Role)
		}
	}
	if len(body.ProviderSettings) > 0 {
		var settings map[string]any
		if err := json.Unmarshal(body.ProviderSettings, &settings); err != nil {
			return Body{}, fmt.Errorf("%w: providerSettings must be an object", ErrInvalidBody)
		}
	}
	return body, nil
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
