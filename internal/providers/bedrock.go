package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

// ConverseAPI is the subset of the Bedrock runtime client the provider uses.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type BedrockConfig struct {
	Region     string
	Endpoint   Endpoint
	HTTPClient *http.Client
	// Client overrides the runtime client built from the default AWS
	// credential chain.
	Client ConverseAPI
}

// BedrockProvider calls the Bedrock Converse API. Model names are Bedrock
// model or inference profile ids.
type BedrockProvider struct {
	direct ConverseAPI
	proxy  ConverseAPI
}

func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Client != nil {
		return &BedrockProvider{direct: cfg.Client}, nil
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(0, nil)
	}

	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithHTTPClient(cfg.HTTPClient)}
	if region := strings.TrimSpace(cfg.Region); region != "" {
		options = append(options, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	provider := &BedrockProvider{
		direct: bedrockruntime.NewFromConfig(awsCfg, withBaseEndpoint(cfg.Endpoint.BaseURL)),
	}
	if proxyURL := strings.TrimSpace(cfg.Endpoint.ProxyBaseURL); proxyURL != "" {
		provider.proxy = bedrockruntime.NewFromConfig(awsCfg, withBaseEndpoint(proxyURL))
	}
	return provider, nil
}

func withBaseEndpoint(baseURL string) func(*bedrockruntime.Options) {
	return func(o *bedrockruntime.Options) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			o.BaseEndpoint = aws.String(strings.TrimRight(baseURL, "/"))
		}
	}
}

func (*BedrockProvider) Name() string {
	return "bedrock"
}

func (p *BedrockProvider) Execute(ctx context.Context, req *Request) (*Result, error) {
	settings, err := decodeSettings[BedrockSettings](p.Name(), req.Settings)
	if err != nil {
		return nil, err
	}
	input, err := buildConverseInput(req, settings)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}

	client := p.direct
	if req.ProxyMode && p.proxy != nil {
		client = p.proxy
	}

	output, err := client.Converse(ctx, input)
	if err != nil {
		return nil, bedrockError(err)
	}

	content, err := converseContent(output, input.ToolConfig != nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
	}

	usage := &Usage{}
	if output.Usage != nil {
		usage.PromptTokens = int(aws.ToInt32(output.Usage.InputTokens))
		usage.CompletionTokens = int(aws.ToInt32(output.Usage.OutputTokens))
		usage.TotalTokens = int(aws.ToInt32(output.Usage.TotalTokens))
	}
	raw, _ := json.Marshal(map[string]any{
		"stop_reason": string(output.StopReason),
		"usage":       usage,
	})
	return &Result{
		Content: content,
		Model:   req.Model,
		Usage:   usage,
		Raw:     raw,
	}, nil
}

func (*BedrockProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return bedrockPricing.estimate(bedrockModelName(model), inputTokens, outputTokens)
}

func buildConverseInput(req *Request, settings BedrockSettings) (*bedrockruntime.ConverseInput, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
	}

	for _, message := range req.Messages {
		switch strings.ToLower(message.Role) {
		case "system", "developer":
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: message.Content})
		case "assistant":
			input.Messages = append(input.Messages, converseMessage(types.ConversationRoleAssistant, message.Content))
		default:
			input.Messages = append(input.Messages, converseMessage(types.ConversationRoleUser, message.Content))
		}
	}

	if settings.MaxTokens != nil || settings.Temperature != nil || settings.TopP != nil || len(settings.StopSequences) > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens:     settings.MaxTokens,
			Temperature:   settings.Temperature,
			TopP:          settings.TopP,
			StopSequences: settings.StopSequences,
		}
	}

	if settings.ThinkingBudget > 0 {
		input.AdditionalModelRequestFields = document.NewLazyDocument(map[string]any{
			"thinking": map[string]any{
				"type":          "enabled",
				"budget_tokens": settings.ThinkingBudget,
			},
		})
	}

	if req.ResponseFormat.Structured() {
		var schema map[string]any
		if err := json.Unmarshal(req.ResponseFormat.Schema, &schema); err != nil {
			return nil, fmt.Errorf("decode response schema: %w", err)
		}
		name := req.ResponseFormat.SchemaName()
		input.ToolConfig = &types.ToolConfiguration{
			Tools: []types.Tool{
				&types.ToolMemberToolSpec{Value: types.ToolSpecification{
					Name:        aws.String(name),
					Description: aws.String("Respond with a JSON object matching this schema."),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
				}},
			},
			ToolChoice: &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{Name: aws.String(name)}},
		}
	}
	return input, nil
}

func converseMessage(role types.ConversationRole, text string) types.Message {
	return types.Message{
		Role:    role,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
	}
}

func converseContent(output *bedrockruntime.ConverseOutput, wantTool bool) (string, error) {
	message, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock returned no message")
	}

	var text strings.Builder
	for _, block := range message.Value.Content {
		switch typed := block.(type) {
		case *types.ContentBlockMemberText:
			text.WriteString(typed.Value)
		case *types.ContentBlockMemberToolUse:
			if !wantTool || typed.Value.Input == nil {
				continue
			}
			encoded, err := typed.Value.Input.MarshalSmithyDocument()
			if err != nil {
				return "", fmt.Errorf("decode bedrock tool input: %w", err)
			}
			return string(encoded), nil
		}
	}
	return text.String(), nil
}

func bedrockError(err error) error {
	providerErr := &ProviderError{Provider: "bedrock", Err: err}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		providerErr.StatusCode = respErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		providerErr.Message = apiErr.ErrorMessage()
		if providerErr.Message == "" {
			providerErr.Message = apiErr.ErrorCode()
		}
		return providerErr
	}
	providerErr.Message = transportMessage("bedrock", err)
	return providerErr
}
