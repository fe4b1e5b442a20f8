package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 1024
)

type AnthropicConfig struct {
	APIKey     string
	Endpoint   Endpoint
	HTTPClient *http.Client
}

// AnthropicProvider calls the Messages API. Structured output is requested
// by forcing a single tool whose input schema is the response schema.
type AnthropicProvider struct {
	apiKey   string
	endpoint Endpoint
	client   *http.Client
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if strings.TrimSpace(cfg.Endpoint.BaseURL) == "" {
		cfg.Endpoint.BaseURL = DefaultAnthropicBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(0, nil)
	}
	return &AnthropicProvider{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: cfg.Endpoint,
		client:   cfg.HTTPClient,
	}
}

func (*AnthropicProvider) Name() string {
	return "anthropic"
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicTextBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicRequest struct {
	Model         string               `json:"model"`
	MaxTokens     int                  `json:"max_tokens"`
	System        []anthropicTextBlock `json:"system,omitempty"`
	Messages      []anthropicMessage   `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	TopK          *int                 `json:"top_k,omitempty"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Thinking      *anthropicThinking   `json:"thinking,omitempty"`
	Tools         []anthropicTool      `json:"tools,omitempty"`
	ToolChoice    *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

func (p *AnthropicProvider) Execute(ctx context.Context, req *Request) (*Result, error) {
	settings, err := decodeSettings[AnthropicSettings](p.Name(), req.Settings)
	if err != nil {
		return nil, err
	}
	payload := buildAnthropicRequest(req, settings)

	headers := http.Header{}
	headers.Set("x-api-key", p.apiKey)
	headers.Set("anthropic-version", anthropicVersion)

	var resp anthropicResponse
	raw, err := postJSON(ctx, p.client, p.Name(), p.endpoint.resolve(req.ProxyMode)+"/v1/messages", headers, payload, &resp, anthropicErrorMessage)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	toolInput := ""
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			if payload.ToolChoice != nil && block.Name == payload.ToolChoice.Name {
				toolInput = string(block.Input)
			}
		}
	}
	content := text.String()
	if toolInput != "" {
		content = toolInput
	}

	usage := &Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}
	usage.addExtra("cache_creation_input_tokens", resp.Usage.CacheCreationInputTokens)
	usage.addExtra("cache_read_input_tokens", resp.Usage.CacheReadInputTokens)

	return &Result{
		Content: content,
		Model:   resp.Model,
		Usage:   usage,
		Raw:     raw,
	}, nil
}

func (*AnthropicProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return anthropicPricing.estimate(model, inputTokens, outputTokens)
}

func buildAnthropicRequest(req *Request, settings AnthropicSettings) anthropicRequest {
	payload := anthropicRequest{
		Model:         req.Model,
		MaxTokens:     settings.MaxTokens,
		Messages:      make([]anthropicMessage, 0, len(req.Messages)),
		Temperature:   settings.Temperature,
		TopP:          settings.TopP,
		TopK:          settings.TopK,
		StopSequences: settings.StopSequences,
	}
	if payload.MaxTokens == 0 {
		payload.MaxTokens = anthropicMaxTokens
	}

	for _, message := range req.Messages {
		switch strings.ToLower(message.Role) {
		case "system", "developer":
			payload.System = append(payload.System, anthropicTextBlock{Type: "text", Text: message.Content})
		case "assistant":
			payload.Messages = append(payload.Messages, anthropicMessage{Role: "assistant", Content: message.Content})
		default:
			payload.Messages = append(payload.Messages, anthropicMessage{Role: "user", Content: message.Content})
		}
	}
	// Marking the last system block caches the whole system prefix.
	if settings.CacheSystem && len(payload.System) > 0 {
		payload.System[len(payload.System)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	}

	if settings.ThinkingBudget > 0 {
		payload.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: settings.ThinkingBudget}
		if payload.MaxTokens <= settings.ThinkingBudget {
			payload.MaxTokens = settings.ThinkingBudget + anthropicMaxTokens
		}
		// Extended thinking only runs at the default sampling settings.
		payload.Temperature = nil
		payload.TopK = nil
	}

	if req.ResponseFormat.Structured() {
		name := req.ResponseFormat.SchemaName()
		if payload.Thinking == nil {
			payload.Tools = []anthropicTool{{
				Name:        name,
				Description: "Respond with a JSON object matching this schema.",
				InputSchema: req.ResponseFormat.Schema,
			}}
			payload.ToolChoice = &anthropicToolChoice{Type: "tool", Name: name}
		} else {
			// Forced tool use is rejected while thinking, so ask in prose.
			payload.System = append(payload.System, anthropicTextBlock{
				Type: "text",
				Text: "Respond only with a JSON object matching this JSON schema, without any other text:\n" + string(req.ResponseFormat.Schema),
			})
		}
	}
	return payload
}

func anthropicErrorMessage(body []byte) string {
	var payload struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}
