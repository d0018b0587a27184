package research

import (
	"strings"
	"unicode"

	"github.com/corvid-labs/orchestrator/pkg/config"
)

// TokenBudget computes adaptive ceilings per spec §4.9: from the model's
// advertised context window minus a prompt margin, clamped to
// [minTokens, maxTokens].
type TokenBudget struct {
	MinTokens        int
	MaxTokens        int
	TokensPerSubquery int
	TokensPerDoc     int
}

// NewTokenBudget builds a TokenBudget from PipelineConfig.
func NewTokenBudget(cfg config.PipelineConfig) TokenBudget {
	return TokenBudget{
		MinTokens:         cfg.SynthesisMinTokens,
		MaxTokens:         cfg.SynthesisMaxTokens,
		TokensPerSubquery: cfg.TokensPerSubquery,
		TokensPerDoc:      cfg.TokensPerDoc,
	}
}

// promptMarginRatio reserves this fraction of the context window for the
// prompt itself, leaving the remainder as a completion ceiling.
const promptMarginRatio = 0.4

// ForCall computes the ceiling for a single non-synthesis LLM call, given
// the model's advertised context window.
func (b TokenBudget) ForCall(contextWindow int) int {
	return b.clamp(int(float64(contextWindow) * (1 - promptMarginRatio)))
}

// ForSynthesis computes synthesis's ceiling, which additionally scales
// with sub-query and attached-document counts.
func (b TokenBudget) ForSynthesis(contextWindow, subQueryCount, docCount int) int {
	base := int(float64(contextWindow) * (1 - promptMarginRatio))
	base += b.TokensPerSubquery * subQueryCount
	base += b.TokensPerDoc * docCount
	return b.clamp(base)
}

func (b TokenBudget) clamp(v int) int {
	if v < b.MinTokens {
		return b.MinTokens
	}
	if b.MaxTokens > 0 && v > b.MaxTokens {
		return b.MaxTokens
	}
	return v
}

// IsTruncated implements the spec §4.9 truncation detector: the response's
// last non-whitespace rune isn't sentence-terminal, and usage's completion
// token count is at or above 95% of the requested ceiling.
func IsTruncated(text string, completionTokens, requestedCeiling int) bool {
	if requestedCeiling <= 0 {
		return false
	}
	if float64(completionTokens) < 0.95*float64(requestedCeiling) {
		return false
	}
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if trimmed == "" {
		return true
	}
	last := []rune(trimmed)
	r := last[len(last)-1]
	switch r {
	case '.', '!', '?', '"', '\'', ')', ']':
		return false
	default:
		return true
	}
}
