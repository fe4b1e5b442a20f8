package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// OpenAISettings are the providerSettings keys understood by the openai
// provider. Unknown keys are ignored.
type OpenAISettings struct {
	Temperature         *float32        `json:"temperature"`
	TopP                *float32        `json:"topP"`
	MaxTokens           *int            `json:"maxTokens"`
	MaxCompletionTokens *int            `json:"maxCompletionTokens"`
	ReasoningEffort     string          `json:"reasoningEffort"`
	Seed                *int            `json:"seed"`
	User                string          `json:"user"`
	Stop                []string        `json:"stop"`
	Tools               json.RawMessage `json:"tools"`
	ToolChoice          json.RawMessage `json:"toolChoice"`
	ParallelToolCalls   *bool           `json:"parallelToolCalls"`
}

type GoogleSettings struct {
	Temperature     *float32 `json:"temperature"`
	TopP            *float32 `json:"topP"`
	TopK            *int     `json:"topK"`
	MaxOutputTokens *int     `json:"maxOutputTokens"`
	ThinkingBudget  *int     `json:"thinkingBudget"`
	IncludeThoughts bool     `json:"includeThoughts"`
	CachedContent   string   `json:"cachedContent"`
	StopSequences   []string `json:"stopSequences"`
}

type AnthropicSettings struct {
	MaxTokens      int      `json:"maxTokens"`
	Temperature    *float64 `json:"temperature"`
	TopP           *float64 `json:"topP"`
	TopK           *int     `json:"topK"`
	ThinkingBudget int      `json:"thinkingBudget"`
	CacheSystem    bool     `json:"cacheSystemPrompt"`
	StopSequences  []string `json:"stopSequences"`
}

type BedrockSettings struct {
	MaxTokens      *int32   `json:"maxTokens"`
	Temperature    *float32 `json:"temperature"`
	TopP           *float32 `json:"topP"`
	StopSequences  []string `json:"stopSequences"`
	ThinkingBudget int      `json:"thinkingBudget"`
}

var reasoningEfforts = map[string]bool{
	"minimal": true,
	"low":     true,
	"medium":  true,
	"high":    true,
}

func (s OpenAISettings) validate() error {
	if s.ReasoningEffort != "" && !reasoningEfforts[strings.ToLower(s.ReasoningEffort)] {
		return fmt.Errorf("reasoningEffort must be one of minimal, low, medium, high")
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

func (s GoogleSettings) validate() error {
	// -1 asks Gemini for a dynamic budget.
	if s.ThinkingBudget != nil && *s.ThinkingBudget < -1 {
		return fmt.Errorf("thinkingBudget must be -1 or greater")
	}
	return nil
}

const anthropicMinThinkingBudget = 1024

func (s AnthropicSettings) validate() error {
	if s.ThinkingBudget != 0 && s.ThinkingBudget < anthropicMinThinkingBudget {
		return fmt.Errorf("thinkingBudget must be at least %d", anthropicMinThinkingBudget)
	}
	if s.MaxTokens < 0 {
		return fmt.Errorf("maxTokens must be positive")
	}
	return nil
}

func (s BedrockSettings) validate() error {
	if s.MaxTokens != nil && *s.MaxTokens <= 0 {
		return fmt.Errorf("maxTokens must be positive")
	}
	if s.ThinkingBudget < 0 {
		return fmt.Errorf("thinkingBudget must not be negative")
	}
	return nil
}

type settingsValidator interface {
	validate() error
}

// decodeSettings decodes the opaque settings bag for one provider. An empty
// or null bag yields the zero value.
func decodeSettings[T settingsValidator](provider string, raw json.RawMessage) (T, error) {
	var settings T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return settings, nil
	}
	if err := json.Unmarshal(trimmed, &settings); err != nil {
		return settings, &ProviderError{
			Provider: provider,
			Message:  fmt.Sprintf("invalid %s provider settings: %v", provider, err),
			Err:      err,
		}
	}
	if err := settings.validate(); err != nil {
		return settings, &ProviderError{
			Provider: provider,
			Message:  fmt.Sprintf("invalid %s provider settings: %v", provider, err),
			Err:      err,
		}
	}
	return settings, nil
}
