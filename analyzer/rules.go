package analyzer

import (
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Rule kinds select how a pattern is matched against request text.
const (
	KindKeyword   = "keyword"   // case-insensitive whole-word match
	KindSubstring = "substring" // case-sensitive substring match
	KindRegexp    = "regexp"    // regular expression as written
)

// Rule contributes a fixed weight to the code score when its pattern matches.
// Each rule fires at most once per text regardless of occurrence count.
type Rule struct {
	Pattern string  `toml:"pattern"`
	Weight  float64 `toml:"weight"`
	Kind    string  `toml:"kind"`

	re *regexp.Regexp
}

func (r *Rule) compile() error {
	if r.Pattern == "" {
		return fmt.Errorf("rule has empty pattern")
	}
	if r.Weight < 0 {
		return fmt.Errorf("rule %q has negative weight %v", r.Pattern, r.Weight)
	}
	switch r.Kind {
	case KindKeyword:
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(r.Pattern) + `\b`)
		if err != nil {
			return fmt.Errorf("keyword rule %q: %w", r.Pattern, err)
		}
		r.re = re
	case KindSubstring:
		// matched with strings.Contains, nothing to compile
	case KindRegexp:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("regexp rule %q: %w", r.Pattern, err)
		}
		r.re = re
	default:
		return fmt.Errorf("rule %q has unknown kind %q", r.Pattern, r.Kind)
	}
	return nil
}

// Breakpoints map token statistics to a complexity bucket.
type Breakpoints struct {
	MediumTokens        int     `toml:"medium_tokens"`          // token count where Medium starts
	HighTokens          int     `toml:"high_tokens"`            // token count where High starts
	HighUniqueRatio     float64 `toml:"high_unique_ratio"`      // diversity gate for early High
	HighUniqueMinTokens int     `toml:"high_unique_min_tokens"` // minimum tokens for the diversity gate
}

// DefaultBreakpoints: short questions are Low, long prompts are High, and
// mid-length prompts with high lexical diversity are promoted early.
var DefaultBreakpoints = Breakpoints{
	MediumTokens:        12,
	HighTokens:          40,
	HighUniqueRatio:     0.8,
	HighUniqueMinTokens: 20,
}

// Validate checks that the breakpoints form a usable ladder.
func (b Breakpoints) Validate() error {
	if b.MediumTokens <= 0 {
		return fmt.Errorf("medium_tokens must be positive, got %d", b.MediumTokens)
	}
	if b.HighTokens <= b.MediumTokens {
		return fmt.Errorf("high_tokens %d must exceed medium_tokens %d", b.HighTokens, b.MediumTokens)
	}
	if b.HighUniqueRatio <= 0 || b.HighUniqueRatio > 1 {
		return fmt.Errorf("high_unique_ratio must be in (0, 1], got %v", b.HighUniqueRatio)
	}
	if b.HighUniqueMinTokens < b.MediumTokens {
		return fmt.Errorf("high_unique_min_tokens %d must be at least medium_tokens %d",
			b.HighUniqueMinTokens, b.MediumTokens)
	}
	return nil
}

// defaultTable is the built-in code-detection table. Keyword rules catch
// language vocabulary, substring rules catch syntax that word boundaries
// cannot express, and regexp rules catch phrasing like "write a function".
var defaultTable = []Rule{
	{Pattern: "def", Kind: KindKeyword, Weight: 0.3, re: regexp.MustCompile(`(?i)\bdef\b`)},
	{Pattern: "func", Kind: KindKeyword, Weight: 0.3, re: regexp.MustCompile(`(?i)\bfunc\b`)},
	{Pattern: "function", Kind: KindKeyword, Weight: 0.25, re: regexp.MustCompile(`(?i)\bfunction\b`)},
	{Pattern: "class", Kind: KindKeyword, Weight: 0.2, re: regexp.MustCompile(`(?i)\bclass\b`)},
	{Pattern: "import", Kind: KindKeyword, Weight: 0.25, re: regexp.MustCompile(`(?i)\bimport\b`)},
	{Pattern: "return", Kind: KindKeyword, Weight: 0.2, re: regexp.MustCompile(`(?i)\breturn\b`)},
	{Pattern: "print", Kind: KindKeyword, Weight: 0.15, re: regexp.MustCompile(`(?i)\bprint\b`)},
	{Pattern: "python", Kind: KindKeyword, Weight: 0.2, re: regexp.MustCompile(`(?i)\bpython\b`)},
	{Pattern: "javascript", Kind: KindKeyword, Weight: 0.2, re: regexp.MustCompile(`(?i)\bjavascript\b`)},
	{Pattern: "compile", Kind: KindKeyword, Weight: 0.15, re: regexp.MustCompile(`(?i)\bcompile\b`)},
	{Pattern: "debug", Kind: KindKeyword, Weight: 0.15, re: regexp.MustCompile(`(?i)\bdebug\b`)},
	{Pattern: "```", Kind: KindSubstring, Weight: 0.5},
	{Pattern: "():", Kind: KindSubstring, Weight: 0.25},
	{Pattern: "=>", Kind: KindSubstring, Weight: 0.2},
	{Pattern: "#include", Kind: KindSubstring, Weight: 0.3},
	{Pattern: "end-of-line semicolon", Kind: KindRegexp, Weight: 0.2, re: regexp.MustCompile(`(?m);\s*$`)},
	{Pattern: "indented block", Kind: KindRegexp, Weight: 0.15, re: regexp.MustCompile(`(?m)^(    |\t)\S`)},
	{Pattern: "assignment", Kind: KindRegexp, Weight: 0.1, re: regexp.MustCompile(`\b\w+\s*=\s*\S`)},
	{Pattern: "braced block", Kind: KindRegexp, Weight: 0.15, re: regexp.MustCompile(`(?m)(\{[^}]*\}|\{\s*$)`)},
	{Pattern: "write-code request", Kind: KindRegexp, Weight: 0.35,
		re: regexp.MustCompile(`(?i)\b(write|create|implement|generate|fix)\b.{0,40}\b(function|script|program|class|code|regex)\b`)},
}

// DefaultRules returns a copy of the built-in rule table.
func DefaultRules() []Rule {
	rules := make([]Rule, len(defaultTable))
	copy(rules, defaultTable)
	return rules
}

// ruleFile is the TOML shape of an external rule table.
//
//	code_threshold = 0.5
//
//	[breakpoints]
//	medium_tokens = 12
//	high_tokens = 40
//
//	[[rules]]
//	pattern = "def"
//	kind = "keyword"
//	weight = 0.3
type ruleFile struct {
	CodeThreshold float64     `toml:"code_threshold"`
	Breakpoints   Breakpoints `toml:"breakpoints"`
	Rules         []Rule      `toml:"rules"`
}

// LoadRules builds an analyzer from a TOML rule table. Omitted threshold or
// breakpoints fall back to the defaults; an empty rule list is an error.
func LoadRules(path string) (*Analyzer, error) {
	var rf ruleFile
	if _, err := toml.DecodeFile(path, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rule table %s: %w", path, err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("rule table %s defines no rules", path)
	}
	if rf.CodeThreshold == 0 {
		rf.CodeThreshold = CodeThreshold
	}
	if rf.Breakpoints == (Breakpoints{}) {
		rf.Breakpoints = DefaultBreakpoints
	}
	return New(rf.Rules, rf.Breakpoints, rf.CodeThreshold)
}
