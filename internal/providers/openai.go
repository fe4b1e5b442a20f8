package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

type OpenAIConfig struct {
	APIKey       string
	Organization string
	Endpoint     Endpoint
	HTTPClient   *http.Client
}

// OpenAIProvider talks to the chat completions API, or to any gateway that
// speaks the same protocol.
type OpenAIProvider struct {
	direct *openai.Client
	proxy  *openai.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if strings.TrimSpace(cfg.Endpoint.BaseURL) == "" {
		cfg.Endpoint.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(0, nil)
	}

	provider := &OpenAIProvider{direct: newOpenAIClient(cfg, cfg.Endpoint.resolve(false))}
	if strings.TrimSpace(cfg.Endpoint.ProxyBaseURL) != "" {
		provider.proxy = newOpenAIClient(cfg, cfg.Endpoint.resolve(true))
	}
	return provider
}

func newOpenAIClient(cfg OpenAIConfig, baseURL string) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.OrgID = cfg.Organization
	clientConfig.HTTPClient = cfg.HTTPClient
	return openai.NewClientWithConfig(clientConfig)
}

func (*OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Execute(ctx context.Context, req *Request) (*Result, error) {
	settings, err := decodeSettings[OpenAISettings](p.Name(), req.Settings)
	if err != nil {
		return nil, err
	}
	chatReq, err := buildOpenAIRequest(req, settings)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}

	client := p.direct
	if req.ProxyMode && p.proxy != nil {
		client = p.proxy
	}

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Message: "openai returned no choices"}
	}

	content, err := openAIChoiceContent(resp.Choices[0].Message)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}

	usage := &Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if details := resp.Usage.PromptTokensDetails; details != nil {
		usage.addExtra("cached_tokens", details.CachedTokens)
	}
	if details := resp.Usage.CompletionTokensDetails; details != nil {
		usage.addExtra("reasoning_tokens", details.ReasoningTokens)
	}

	raw, _ := json.Marshal(resp)
	return &Result{
		Content: content,
		Model:   resp.Model,
		Usage:   usage,
		Raw:     raw,
	}, nil
}

func (*OpenAIProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return openAIPricing.estimate(model, inputTokens, outputTokens)
}

func buildOpenAIRequest(req *Request, settings OpenAISettings) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, message := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:           req.Model,
		Messages:        messages,
		Stop:            settings.Stop,
		Seed:            settings.Seed,
		User:            settings.User,
		ReasoningEffort: strings.ToLower(settings.ReasoningEffort),
	}
	if settings.Temperature != nil {
		chatReq.Temperature = *settings.Temperature
	}
	if settings.TopP != nil {
		chatReq.TopP = *settings.TopP
	}
	switch {
	case settings.MaxCompletionTokens != nil:
		chatReq.MaxCompletionTokens = *settings.MaxCompletionTokens
	case settings.MaxTokens != nil:
		chatReq.MaxCompletionTokens = *settings.MaxTokens
	}
	if settings.ParallelToolCalls != nil {
		chatReq.ParallelToolCalls = *settings.ParallelToolCalls
	}

	if len(settings.Tools) > 0 {
		var tools []openai.Tool
		if err := json.Unmarshal(settings.Tools, &tools); err != nil {
			return chatReq, fmt.Errorf("invalid openai tools: %w", err)
		}
		chatReq.Tools = tools
	}
	if len(settings.ToolChoice) > 0 {
		var choice any
		if err := json.Unmarshal(settings.ToolChoice, &choice); err != nil {
			return chatReq, fmt.Errorf("invalid openai toolChoice: %w", err)
		}
		chatReq.ToolChoice = choice
	}

	if req.ResponseFormat.Structured() {
		strict := true
		if req.ResponseFormat.Strict != nil {
			strict = *req.ResponseFormat.Strict
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.ResponseFormat.SchemaName(),
				Schema: req.ResponseFormat.Schema,
				Strict: strict,
			},
		}
	}
	return chatReq, nil
}

// openAIChoiceContent returns the message text, or the tool calls as JSON
// when the model answered with tools only.
func openAIChoiceContent(message openai.ChatCompletionMessage) (string, error) {
	switch {
	case message.Content != "":
		return message.Content, nil
	case len(message.ToolCalls) > 0:
		encoded, err := json.Marshal(message.ToolCalls)
		if err != nil {
			return "", fmt.Errorf("encode openai tool calls: %w", err)
		}
		return string(encoded), nil
	default:
		return message.Refusal, nil
	}
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		message := ""
		if reqErr.Err != nil {
			message = reqErr.Err.Error()
		}
		if message == "" {
			message = fmt.Sprintf("openai returned %d %s", reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode))
		}
		return &ProviderError{
			Provider:   "openai",
			StatusCode: reqErr.HTTPStatusCode,
			Message:    message,
			Err:        err,
		}
	}
	return &ProviderError{Provider: "openai", Message: transportMessage("openai", err), Err: err}
}
