// Package providers translates a normalized chat request into each vendor's
// wire format and back.
package providers

import (
	"context"
	"encoding/json"

	"github.com/ongoingai/promptops/internal/prompt"
)

type (
	Message        = prompt.Message
	ResponseFormat = prompt.ResponseFormat
)

// Request is the provider-neutral shape handed to a Provider after template
// rendering. Settings is decoded only by the provider that receives it.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat ResponseFormat  `json:"response_format"`
	Settings       json.RawMessage `json:"provider_settings,omitempty"`
	ProxyMode      bool            `json:"proxy_mode,omitempty"`
}

type Usage struct {
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	Extra            map[string]int `json:"extra,omitempty"`
}

func (u *Usage) addExtra(key string, value int) {
	if value <= 0 {
		return
	}
	if u.Extra == nil {
		u.Extra = make(map[string]int)
	}
	u.Extra[key] = value
}

func (u *Usage) fillTotal() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// Result is the raw provider answer. Content is the text the model returned;
// structured output is still a string here.
type Result struct {
	Content    string          `json:"content"`
	Model      string          `json:"model"`
	Usage      *Usage          `json:"usage,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

type Provider interface {
	Name() string
	Execute(ctx context.Context, req *Request) (*Result, error)
	EstimateCost(model string, inputTokens, outputTokens int) float64
}
