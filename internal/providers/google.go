package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	DefaultGoogleBaseURL = "https://generativelanguage.googleapis.com"
	googleOAuthScope     = "https://www.googleapis.com/auth/generative-language"
)

type GoogleConfig struct {
	APIKey     string
	Endpoint   Endpoint
	HTTPClient *http.Client
	// TokenSource is used when APIKey is empty. When both are empty the
	// provider falls back to application default credentials.
	TokenSource oauth2.TokenSource
}

// GoogleProvider calls the Gemini generateContent REST API.
type GoogleProvider struct {
	apiKey   string
	endpoint Endpoint
	client   *http.Client

	tokenMu     sync.Mutex
	tokenSource oauth2.TokenSource
}

func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	if strings.TrimSpace(cfg.Endpoint.BaseURL) == "" {
		cfg.Endpoint.BaseURL = DefaultGoogleBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(0, nil)
	}
	return &GoogleProvider{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		endpoint:    cfg.Endpoint,
		client:      cfg.HTTPClient,
		tokenSource: cfg.TokenSource,
	}
}

func (*GoogleProvider) Name() string {
	return "google"
}

type geminiPart struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiThinkingConfig struct {
	ThinkingBudget  *int `json:"thinkingBudget,omitempty"`
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature        *float32              `json:"temperature,omitempty"`
	TopP               *float32              `json:"topP,omitempty"`
	TopK               *int                  `json:"topK,omitempty"`
	MaxOutputTokens    *int                  `json:"maxOutputTokens,omitempty"`
	StopSequences      []string              `json:"stopSequences,omitempty"`
	ResponseMimeType   string                `json:"responseMimeType,omitempty"`
	ResponseJSONSchema json.RawMessage       `json:"responseJsonSchema,omitempty"`
	ThinkingConfig     *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	CachedContent     string                  `json:"cachedContent,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount        int `json:"promptTokenCount"`
		CandidatesTokenCount    int `json:"candidatesTokenCount"`
		TotalTokenCount         int `json:"totalTokenCount"`
		ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
		CachedContentTokenCount int `json:"cachedContentTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *GoogleProvider) Execute(ctx context.Context, req *Request) (*Result, error) {
	settings, err := decodeSettings[GoogleSettings](p.Name(), req.Settings)
	if err != nil {
		return nil, err
	}

	payload := buildGeminiRequest(req, settings)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.endpoint.resolve(req.ProxyMode), url.PathEscape(req.Model))

	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var resp geminiResponse
	raw, err := postJSON(ctx, p.client, p.Name(), endpoint, headers, payload, &resp, geminiErrorMessage)
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		message := "gemini returned no candidates"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			message = "gemini blocked the prompt: " + resp.PromptFeedback.BlockReason
		}
		return nil, &ProviderError{Provider: p.Name(), StatusCode: http.StatusOK, Message: message}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}

	usage := &Usage{
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      resp.UsageMetadata.TotalTokenCount,
	}
	usage.addExtra("thoughts_tokens", resp.UsageMetadata.ThoughtsTokenCount)
	usage.addExtra("cached_tokens", resp.UsageMetadata.CachedContentTokenCount)

	model := resp.ModelVersion
	if model == "" {
		model = req.Model
	}
	return &Result{
		Content: text.String(),
		Model:   model,
		Usage:   usage,
		Raw:     raw,
	}, nil
}

func (*GoogleProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return googlePricing.estimate(model, inputTokens, outputTokens)
}

func (p *GoogleProvider) authHeaders(ctx context.Context) (http.Header, error) {
	headers := http.Header{}
	if p.apiKey != "" {
		headers.Set("x-goog-api-key", p.apiKey)
		return headers, nil
	}

	source, err := p.credentials(ctx)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: fmt.Sprintf("google credentials: %v", err), Err: err}
	}
	token, err := source.Token()
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: fmt.Sprintf("google token: %v", err), Err: err}
	}
	token.SetAuthHeader(&http.Request{Header: headers})
	return headers, nil
}

func (p *GoogleProvider) credentials(ctx context.Context) (oauth2.TokenSource, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.tokenSource != nil {
		return p.tokenSource, nil
	}
	// The token source outlives this request, so it must not inherit its
	// cancellation.
	source, err := google.DefaultTokenSource(context.WithoutCancel(ctx), googleOAuthScope)
	if err != nil {
		return nil, err
	}
	p.tokenSource = oauth2.ReuseTokenSource(nil, source)
	return p.tokenSource, nil
}

func buildGeminiRequest(req *Request, settings GoogleSettings) geminiRequest {
	payload := geminiRequest{
		Contents:      make([]geminiContent, 0, len(req.Messages)),
		CachedContent: strings.TrimSpace(settings.CachedContent),
	}

	var system []geminiPart
	for _, message := range req.Messages {
		switch strings.ToLower(message.Role) {
		case "system", "developer":
			system = append(system, geminiPart{Text: message.Content})
		case "assistant":
			payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: message.Content}}})
		default:
			payload.Contents = append(payload.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: message.Content}}})
		}
	}
	if len(system) > 0 {
		payload.SystemInstruction = &geminiContent{Parts: system}
	}

	config := &geminiGenerationConfig{
		Temperature:     settings.Temperature,
		TopP:            settings.TopP,
		TopK:            settings.TopK,
		MaxOutputTokens: settings.MaxOutputTokens,
		StopSequences:   settings.StopSequences,
	}
	if settings.ThinkingBudget != nil || settings.IncludeThoughts {
		config.ThinkingConfig = &geminiThinkingConfig{
			ThinkingBudget:  settings.ThinkingBudget,
			IncludeThoughts: settings.IncludeThoughts,
		}
	}
	if req.ResponseFormat.Structured() {
		config.ResponseMimeType = "application/json"
		config.ResponseJSONSchema = req.ResponseFormat.Schema
	}
	if !config.empty() {
		payload.GenerationConfig = config
	}
	return payload
}

func (c *geminiGenerationConfig) empty() bool {
	return c.Temperature == nil &&
		c.TopP == nil &&
		c.TopK == nil &&
		c.MaxOutputTokens == nil &&
		len(c.StopSequences) == 0 &&
		c.ResponseMimeType == "" &&
		c.ThinkingConfig == nil
}

func geminiErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}
