package domain

import (
	"math"
	"unicode/utf8"
)

// perMessageOverhead approximates the role and separator tokens of chat formats.
const perMessageOverhead = 4

// HeuristicEstimator counts ceil(runes / 4) tokens.
type HeuristicEstimator struct{}

// Count implements TokenEstimator.
func (HeuristicEstimator) Count(_ string, text string) int {
	return EstimateTokens(text)
}

// EstimateTokens is the token heuristic applied to every streamed delta.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// EstimateOptions bounds the pre-flight estimate.
type EstimateOptions struct {
	DefaultMaxTokens int
	Margin           float64
}

// EstimateSessionTokens is prompt tokens plus the completion budget, scaled by the safety margin.
func EstimateSessionTokens(estimator TokenEstimator, req *CompletionRequest, opts EstimateOptions) int {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += estimator.Count(req.Model, msg.Content) + perMessageOverhead
	}

	completion := req.MaxTokens
	if completion <= 0 {
		completion = opts.DefaultMaxTokens
	}

	margin := opts.Margin
	if margin < 1 {
		margin = 1
	}

	return int(math.Ceil(float64(prompt+completion) * margin))
}
