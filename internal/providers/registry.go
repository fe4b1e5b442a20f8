package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ongoingai/promptops/internal/template"
)

// ExecutionRequest is what the orchestrator knows before rendering: the
// stored message templates plus the caller's variables.
type ExecutionRequest struct {
	Model          string
	Messages       []Message
	Variables      map[string]any
	ResponseFormat ResponseFormat
	Settings       json.RawMessage
	ProxyMode      bool
}

// Dispatcher routes requests to registered providers by name.
type Dispatcher struct {
	providers map[string]Provider
	now       func() time.Time
}

func NewDispatcher(providers ...Provider) *Dispatcher {
	dispatcher := &Dispatcher{
		providers: make(map[string]Provider, len(providers)),
		now:       time.Now,
	}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		dispatcher.providers[strings.ToLower(provider.Name())] = provider
	}
	return dispatcher
}

func (d *Dispatcher) Get(name string) (Provider, bool) {
	provider, ok := d.providers[strings.ToLower(strings.TrimSpace(name))]
	return provider, ok
}

func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.providers))
	for name := range d.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EstimateCost prices usage with the named provider's tables. Unknown
// providers and models cost zero.
func (d *Dispatcher) EstimateCost(providerName, model string, usage *Usage) float64 {
	if usage == nil {
		return 0
	}
	provider, ok := d.Get(providerName)
	if !ok {
		return 0
	}
	return provider.EstimateCost(model, usage.PromptTokens, usage.CompletionTokens)
}

// Execute renders the message templates, then calls the provider. The
// returned Request is the exact rendered input and is non-nil whenever
// rendering happened, even if the call failed.
func (d *Dispatcher) Execute(ctx context.Context, providerName string, in ExecutionRequest) (*Result, *Request, error) {
	req := &Request{
		Model:          in.Model,
		Messages:       renderMessages(in.Messages, in.Variables),
		ResponseFormat: in.ResponseFormat,
		Settings:       in.Settings,
		ProxyMode:      in.ProxyMode,
	}

	provider, ok := d.Get(providerName)
	if !ok {
		return nil, req, &ProviderError{
			Provider: providerName,
			Message:  fmt.Sprintf("unsupported provider %q", providerName),
		}
	}

	started := d.now()
	result, err := provider.Execute(ctx, req)
	elapsed := d.now().Sub(started).Milliseconds()
	if err != nil {
		return nil, req, AsProviderError(provider.Name(), err)
	}
	if result == nil {
		return nil, req, &ProviderError{Provider: provider.Name(), Message: provider.Name() + " returned no result"}
	}
	result.DurationMS = elapsed
	if result.Model == "" {
		result.Model = req.Model
	}
	if result.Usage != nil {
		result.Usage.fillTotal()
	}
	return result, req, nil
}

func renderMessages(messages []Message, vars map[string]any) []Message {
	out := make([]Message, len(messages))
	for i, message := range messages {
		out[i] = message
		if template.HasPlaceholders(message.Content) {
			out[i].Content = template.Render(message.Content, vars)
		}
	}
	return out
}
