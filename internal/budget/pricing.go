package budget

import (
	"devscan/internal/config"
)

// charsPerToken approximates tokenizer density for source code.
const charsPerToken = 4

// boundCharsPerToken is the density assumed when a count must not fall
// short. Symbol-heavy and minified code tokenizes well below charsPerToken.
const boundCharsPerToken = 3

// estimatedOutputRatio is the expected completion size relative to the input.
const estimatedOutputRatio = 0.3

// Usage is the token usage reported for one analysis call.
type Usage struct {
	InputTokens       int64
	OutputTokens      int64
	CachedInputTokens int64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Pricing holds per-million-token prices in dollars.
type Pricing struct {
	InputPerMillion       float64
	OutputPerMillion      float64
	CachedInputPerMillion float64
}

// PricingFromConfig converts the configured prices.
func PricingFromConfig(c config.PricingConfig) Pricing {
	return Pricing{
		InputPerMillion:       c.InputPerMillion,
		OutputPerMillion:      c.OutputPerMillion,
		CachedInputPerMillion: c.CachedInputPerMillion,
	}
}

// Cost returns the dollar cost of u. Cached input tokens are billed at the
// cached rate and excluded from the regular input count.
func (p Pricing) Cost(u Usage) float64 {
	cached := u.CachedInputTokens
	if cached > u.InputTokens {
		cached = u.InputTokens
	}
	fresh := u.InputTokens - cached
	return (float64(fresh)*p.InputPerMillion +
		float64(cached)*p.CachedInputPerMillion +
		float64(u.OutputTokens)*p.OutputPerMillion) / 1e6
}

// EstimateTokens approximates the token count of text with n characters.
func EstimateTokens(chars int) int64 {
	if chars <= 0 {
		return 0
	}
	return int64((chars + charsPerToken - 1) / charsPerToken)
}

// BoundTokens is a conservative token count for text with n characters,
// used for reservations against a spending ceiling.
func BoundTokens(chars int) int64 {
	if chars <= 0 {
		return 0
	}
	return int64((chars + boundCharsPerToken - 1) / boundCharsPerToken)
}

// EstimateFileCost is the typical cost of analyzing a file of the given size,
// used for reporting projected spend.
func (p Pricing) EstimateFileCost(chars int) float64 {
	in := EstimateTokens(chars)
	out := int64(float64(in) * estimatedOutputRatio)
	return p.Cost(Usage{InputTokens: in, OutputTokens: out})
}

// UpperBound is the cost of a call with the given input size whose
// completion is capped at maxOutputTokens.
func (p Pricing) UpperBound(inputTokens, maxOutputTokens int64) float64 {
	return p.Cost(Usage{InputTokens: inputTokens, OutputTokens: maxOutputTokens})
}
