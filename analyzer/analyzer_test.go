package analyzer

import (
	"math"
	"strings"
	"testing"

	"github.com/c12/router/contracts"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAnalyze_CodeDetection(t *testing.T) {
	a := Default()

	tests := []struct {
		name      string
		text      string
		wantScore float64
		wantCode  bool
	}{
		{
			name:      "python snippet",
			text:      "def foo(): pass",
			wantScore: 0.55,
			wantCode:  true,
		},
		{
			name:      "code request in prose",
			text:      "Write a Python function to sort a list",
			wantScore: 0.8,
			wantCode:  true,
		},
		{
			name:      "plain question",
			text:      "What is machine learning?",
			wantScore: 0,
			wantCode:  false,
		},
		{
			name:      "keyword outside code context",
			text:      "Explain the class system in feudal Japan",
			wantScore: 0.2,
			wantCode:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Analyze(tt.text)
			if !almostEqual(got.CodeScore, tt.wantScore) {
				t.Errorf("CodeScore = %v, want %v", got.CodeScore, tt.wantScore)
			}
			if got.IsCode != tt.wantCode {
				t.Errorf("IsCode = %v, want %v", got.IsCode, tt.wantCode)
			}
		})
	}
}

func TestAnalyze_ScoreClamp(t *testing.T) {
	a := Default()

	// Fenced python block fires enough rules to sum past 1.
	text := "```python\ndef greet(name): return print(name)\n```"
	got := a.Analyze(text)
	if got.CodeScore != 1 {
		t.Errorf("CodeScore = %v, want clamped to 1", got.CodeScore)
	}
	if !got.IsCode {
		t.Error("IsCode = false on a fenced code block")
	}
}

func TestAnalyze_EmptyText(t *testing.T) {
	a := Default()

	for _, text := range []string{"", "   ", " \n\t "} {
		got := a.Analyze(text)
		want := contracts.QueryFeatures{Complexity: contracts.ComplexityLow}
		if got != want {
			t.Errorf("Analyze(%q) = %+v, want %+v", text, got, want)
		}
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := Default()

	text := "Write a Python function to parse JSON and return a dict"
	first := a.Analyze(text)
	for i := 0; i < 5; i++ {
		if got := a.Analyze(text); got != first {
			t.Fatalf("run %d: Analyze = %+v, want %+v", i, got, first)
		}
	}
}

func TestAnalyze_Complexity(t *testing.T) {
	a := Default()

	short := "one two three four five six seven eight nine ten eleven"
	medium := short + " twelve"
	long := strings.TrimSpace(strings.Repeat("word ", 40))
	repetitive := strings.TrimSpace(strings.Repeat("lorem ipsum ", 12))
	diverse := "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi rho sigma tau upsilon"

	tests := []struct {
		name string
		text string
		want contracts.Complexity
	}{
		{"below medium breakpoint", short, contracts.ComplexityLow},
		{"at medium breakpoint", medium, contracts.ComplexityMedium},
		{"at high breakpoint", long, contracts.ComplexityHigh},
		{"long but repetitive", repetitive, contracts.ComplexityMedium},
		{"mid-length but diverse", diverse, contracts.ComplexityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Analyze(tt.text)
			if got.Complexity != tt.want {
				t.Errorf("Complexity = %v (%d tokens), want %v",
					got.Complexity, got.TokenCount, tt.want)
			}
		})
	}
}

func TestAnalyze_TokenCount(t *testing.T) {
	a := Default()

	got := a.Analyze("  spaced\tout \n tokens here  ")
	if got.TokenCount != 4 {
		t.Errorf("TokenCount = %d, want 4", got.TokenCount)
	}
}

func TestAnalyze_ThresholdBoundary(t *testing.T) {
	rules := []Rule{{Pattern: "magic", Kind: KindKeyword, Weight: 0.5}}

	at, err := New(rules, DefaultBreakpoints, 0.5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := at.Analyze("magic"); !got.IsCode {
		t.Errorf("IsCode = false at score == threshold, want true (score %v)", got.CodeScore)
	}

	above, err := New(rules, DefaultBreakpoints, 0.6)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := above.Analyze("magic"); got.IsCode {
		t.Errorf("IsCode = true below threshold, want false (score %v)", got.CodeScore)
	}
}

func TestAnalyze_RuleFiresOncePerText(t *testing.T) {
	rules := []Rule{{Pattern: "magic", Kind: KindKeyword, Weight: 0.3}}
	a, err := New(rules, DefaultBreakpoints, 0.5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got := a.Analyze("magic magic magic magic")
	if !almostEqual(got.CodeScore, 0.3) {
		t.Errorf("CodeScore = %v for repeated pattern, want 0.3", got.CodeScore)
	}
}

func TestNew_Validation(t *testing.T) {
	valid := []Rule{{Pattern: "x", Kind: KindKeyword, Weight: 0.1}}

	tests := []struct {
		name      string
		rules     []Rule
		breaks    Breakpoints
		threshold float64
	}{
		{"no rules", nil, DefaultBreakpoints, 0.5},
		{"zero threshold", valid, DefaultBreakpoints, 0},
		{"threshold above one", valid, DefaultBreakpoints, 1.5},
		{"bad breakpoints", valid, Breakpoints{MediumTokens: 0, HighTokens: 5}, 0.5},
		{"inverted breakpoints", valid, Breakpoints{
			MediumTokens: 20, HighTokens: 10, HighUniqueRatio: 0.8, HighUniqueMinTokens: 20,
		}, 0.5},
		{"unknown kind", []Rule{{Pattern: "x", Kind: "glob", Weight: 0.1}}, DefaultBreakpoints, 0.5},
		{"empty pattern", []Rule{{Pattern: "", Kind: KindKeyword, Weight: 0.1}}, DefaultBreakpoints, 0.5},
		{"negative weight", []Rule{{Pattern: "x", Kind: KindKeyword, Weight: -0.1}}, DefaultBreakpoints, 0.5},
		{"invalid regexp", []Rule{{Pattern: "(", Kind: KindRegexp, Weight: 0.1}}, DefaultBreakpoints, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.rules, tt.breaks, tt.threshold); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}
