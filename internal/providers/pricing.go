package providers

import "strings"

// modelPricing is USD per 1K tokens.
type modelPricing struct {
	inputPer1K  float64
	outputPer1K float64
}

type pricingRule struct {
	prefix string
	rates  modelPricing
}

// pricingTable matches an exact model name first, then the first prefix
// rule. Prefix rules are ordered most specific first.
type pricingTable struct {
	exact  map[string]modelPricing
	prefix []pricingRule
}

func (t pricingTable) lookup(model string) (modelPricing, bool) {
	model = strings.TrimSpace(strings.ToLower(model))
	if model == "" {
		return modelPricing{}, false
	}
	// Bedrock ids carry a vendor and region prefix such as
	// "us.anthropic.claude-3-5-haiku-20241022-v1:0".
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

	if rates, ok := t.exact[model]; ok {
		return rates, true
	}
	for _, rule := range t.prefix {
		if strings.HasPrefix(model, rule.prefix) {
			return rule.rates, true
		}
	}
	return modelPricing{}, false
}

func (t pricingTable) estimate(model string, inputTokens, outputTokens int) float64 {
	rates, ok := t.lookup(model)
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1000)*rates.inputPer1K + (float64(outputTokens)/1000)*rates.outputPer1K
}

var openAIPricing = pricingTable{
	exact: map[string]modelPricing{
		"gpt-4o":       {inputPer1K: 0.0025, outputPer1K: 0.01},
		"gpt-4o-mini":  {inputPer1K: 0.00015, outputPer1K: 0.0006},
		"gpt-4.1":      {inputPer1K: 0.002, outputPer1K: 0.008},
		"gpt-4.1-mini": {inputPer1K: 0.0004, outputPer1K: 0.0016},
		"gpt-4.1-nano": {inputPer1K: 0.0001, outputPer1K: 0.0004},
		"o3":           {inputPer1K: 0.002, outputPer1K: 0.008},
		"o4-mini":      {inputPer1K: 0.0011, outputPer1K: 0.0044},
		"gpt-5":        {inputPer1K: 0.00125, outputPer1K: 0.01},
		"gpt-5-mini":   {inputPer1K: 0.00025, outputPer1K: 0.002},
	},
	prefix: []pricingRule{
		{prefix: "gpt-4o-mini-", rates: modelPricing{inputPer1K: 0.00015, outputPer1K: 0.0006}},
		{prefix: "gpt-4o-", rates: modelPricing{inputPer1K: 0.0025, outputPer1K: 0.01}},
		{prefix: "gpt-4.1-mini-", rates: modelPricing{inputPer1K: 0.0004, outputPer1K: 0.0016}},
		{prefix: "gpt-4.1-nano-", rates: modelPricing{inputPer1K: 0.0001, outputPer1K: 0.0004}},
		{prefix: "gpt-4.1-", rates: modelPricing{inputPer1K: 0.002, outputPer1K: 0.008}},
		{prefix: "gpt-5-mini-", rates: modelPricing{inputPer1K: 0.00025, outputPer1K: 0.002}},
		{prefix: "gpt-5-", rates: modelPricing{inputPer1K: 0.00125, outputPer1K: 0.01}},
		{prefix: "o4-mini-", rates: modelPricing{inputPer1K: 0.0011, outputPer1K: 0.0044}},
		{prefix: "o3-", rates: modelPricing{inputPer1K: 0.002, outputPer1K: 0.008}},
	},
}

var googlePricing = pricingTable{
	exact: map[string]modelPricing{
		"gemini-2.5-pro":        {inputPer1K: 0.00125, outputPer1K: 0.01},
		"gemini-2.5-flash":      {inputPer1K: 0.0003, outputPer1K: 0.0025},
		"gemini-2.5-flash-lite": {inputPer1K: 0.0001, outputPer1K: 0.0004},
		"gemini-2.0-flash":      {inputPer1K: 0.0001, outputPer1K: 0.0004},
		"gemini-1.5-pro":        {inputPer1K: 0.00125, outputPer1K: 0.005},
		"gemini-1.5-flash":      {inputPer1K: 0.000075, outputPer1K: 0.0003},
	},
	prefix: []pricingRule{
		{prefix: "gemini-2.5-flash-lite", rates: modelPricing{inputPer1K: 0.0001, outputPer1K: 0.0004}},
		{prefix: "gemini-2.5-flash", rates: modelPricing{inputPer1K: 0.0003, outputPer1K: 0.0025}},
		{prefix: "gemini-2.5-pro", rates: modelPricing{inputPer1K: 0.00125, outputPer1K: 0.01}},
		{prefix: "gemini-2.0-flash", rates: modelPricing{inputPer1K: 0.0001, outputPer1K: 0.0004}},
		{prefix: "gemini-1.5-flash", rates: modelPricing{inputPer1K: 0.000075, outputPer1K: 0.0003}},
		{prefix: "gemini-1.5-pro", rates: modelPricing{inputPer1K: 0.00125, outputPer1K: 0.005}},
	},
}

var anthropicPricing = pricingTable{
	exact: map[string]modelPricing{
		"claude-opus-4-1":           {inputPer1K: 0.015, outputPer1K: 0.075},
		"claude-sonnet-4-20250514":  {inputPer1K: 0.003, outputPer1K: 0.015},
		"claude-haiku-4-5-20251001": {inputPer1K: 0.001, outputPer1K: 0.005},
		"claude-3-5-haiku-20241022": {inputPer1K: 0.0008, outputPer1K: 0.004},
	},
	prefix: []pricingRule{
		{prefix: "claude-opus-4-1-", rates: modelPricing{inputPer1K: 0.015, outputPer1K: 0.075}},
		{prefix: "claude-opus-4-", rates: modelPricing{inputPer1K: 0.015, outputPer1K: 0.075}},
		{prefix: "claude-sonnet-4-", rates: modelPricing{inputPer1K: 0.003, outputPer1K: 0.015}},
		{prefix: "claude-haiku-4-5-", rates: modelPricing{inputPer1K: 0.001, outputPer1K: 0.005}},
		{prefix: "claude-3-7-sonnet-", rates: modelPricing{inputPer1K: 0.003, outputPer1K: 0.015}},
		{prefix: "claude-3-5-sonnet-", rates: modelPricing{inputPer1K: 0.003, outputPer1K: 0.015}},
		{prefix: "claude-3-5-haiku-", rates: modelPricing{inputPer1K: 0.0008, outputPer1K: 0.004}},
		{prefix: "claude-3-haiku-", rates: modelPricing{inputPer1K: 0.00025, outputPer1K: 0.00125}},
	},
}

// bedrockPricing covers the Anthropic and Amazon models most often routed
// through Converse. Ids are normalized by stripping the region and vendor
// prefix before lookup.
var bedrockPricing = pricingTable{
	prefix: []pricingRule{
		{prefix: "claude-sonnet-4-", rates: modelPricing{inputPer1K: 0.003, outputPer1K: 0.015}},
		{prefix: "claude-3-7-sonnet-", rates: modelPricing{inputPer1K: 0.003, outputPer1K: 0.015}},
		{prefix: "claude-3-5-sonnet-", rates: modelPricing{inputPer1K: 0.003, outputPer1K: 0.015}},
		{prefix: "claude-3-5-haiku-", rates: modelPricing{inputPer1K: 0.0008, outputPer1K: 0.004}},
		{prefix: "claude-3-haiku-", rates: modelPricing{inputPer1K: 0.00025, outputPer1K: 0.00125}},
		{prefix: "nova-pro-", rates: modelPricing{inputPer1K: 0.0008, outputPer1K: 0.0032}},
		{prefix: "nova-lite-", rates: modelPricing{inputPer1K: 0.00006, outputPer1K: 0.00024}},
		{prefix: "nova-micro-", rates: modelPricing{inputPer1K: 0.000035, outputPer1K: 0.00014}},
	},
}

// bedrockModelName strips "us." style inference profile and "anthropic."
// vendor prefixes from a Bedrock model id.
func bedrockModelName(modelID string) string {
	name := strings.ToLower(strings.TrimSpace(modelID))
	for _, region := range []string{"us.", "eu.", "apac.", "global."} {
		name = strings.TrimPrefix(name, region)
	}
	if idx := strings.Index(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
