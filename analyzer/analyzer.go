// Package analyzer extracts routing features from request text.
//
// Analysis is pure and total: identical input always yields identical
// features, and every input (including empty text) resolves to a feature
// set. Rules and breakpoints are data, so deployments can tune detection
// without code changes.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/c12/router/contracts"
)

// CodeThreshold is the code score at or above which text is treated as code.
const CodeThreshold = 0.5

// Analyzer scores text against a rule table and buckets complexity.
type Analyzer struct {
	rules     []Rule
	breaks    Breakpoints
	threshold float64
}

// New builds an analyzer from a rule table. Rules are compiled up front so
// Analyze itself never fails.
func New(rules []Rule, breaks Breakpoints, threshold float64) (*Analyzer, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("at least one rule is required")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("code threshold must be in (0, 1], got %v", threshold)
	}
	if err := breaks.Validate(); err != nil {
		return nil, fmt.Errorf("invalid breakpoints: %w", err)
	}

	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		if r.re == nil {
			if err := r.compile(); err != nil {
				return nil, err
			}
		}
		compiled[i] = r
	}
	return &Analyzer{rules: compiled, breaks: breaks, threshold: threshold}, nil
}

// Default returns an analyzer with the built-in rule table and breakpoints.
func Default() *Analyzer {
	return &Analyzer{
		rules:     DefaultRules(),
		breaks:    DefaultBreakpoints,
		threshold: CodeThreshold,
	}
}

// Analyze extracts features from text. Empty or whitespace-only input yields
// the zero feature set with Complexity Low.
func (a *Analyzer) Analyze(text string) contracts.QueryFeatures {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return contracts.QueryFeatures{Complexity: contracts.ComplexityLow}
	}

	score := 0.0
	for i := range a.rules {
		if a.rules[i].matches(text) {
			score += a.rules[i].Weight
		}
	}
	if score > 1 {
		score = 1
	}

	return contracts.QueryFeatures{
		CodeScore:  score,
		IsCode:     score >= a.threshold,
		Complexity: a.complexity(tokens),
		TokenCount: len(tokens),
	}
}

func (r *Rule) matches(text string) bool {
	if r.Kind == KindSubstring {
		return strings.Contains(text, r.Pattern)
	}
	return r.re != nil && r.re.MatchString(text)
}

func (a *Analyzer) complexity(tokens []string) contracts.Complexity {
	n := len(tokens)
	switch {
	case n < a.breaks.MediumTokens:
		return contracts.ComplexityLow
	case n >= a.breaks.HighTokens:
		return contracts.ComplexityHigh
	case n >= a.breaks.HighUniqueMinTokens && uniqueRatio(tokens) >= a.breaks.HighUniqueRatio:
		return contracts.ComplexityHigh
	default:
		return contracts.ComplexityMedium
	}
}

// uniqueRatio measures lexical diversity: distinct lowercased tokens over
// total tokens.
func uniqueRatio(tokens []string) float64 {
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[strings.ToLower(t)] = struct{}{}
	}
	return float64(len(seen)) / float64(len(tokens))
}
