package compare

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mykhaliev/answer-checker/model"
)

// ============================================================================
// COMPARISON ENGINE
// ============================================================================

// Engine judges actual answers against expected ones. The zero value is not
// usable; construct with NewEngine so the semantic provider configuration is
// pinned for the lifetime of the run.
type Engine struct {
	semanticCfg model.SemanticConfig
}

func NewEngine(semanticCfg model.SemanticConfig) *Engine {
	return &Engine{semanticCfg: semanticCfg}
}

// Compare dispatches on the test's comparison method. An empty actual
// answer fails in every mode before any comparison work happens.
func (e *Engine) Compare(ctx context.Context, tc *model.TestCase, actual string) model.ComparisonResult {
	if strings.TrimSpace(actual) == "" {
		return model.ComparisonResult{
			IsMatch: false,
			Score:   0.0,
			Method:  tc.ComparisonMethod,
			Details: "no answer received",
		}
	}

	switch tc.ComparisonMethod {
	case model.CompareExact:
		return compareExact(tc.ExpectedAnswer, actual)
	case model.CompareSubstring:
		return compareSubstring(tc.RequiredWords, actual)
	case model.CompareSemantic:
		return e.compareSemantic(ctx, tc.ExpectedAnswer, actual, tc.SemanticThreshold)
	default:
		return model.ComparisonResult{
			IsMatch:      false,
			Method:       tc.ComparisonMethod,
			ErrorMessage: fmt.Sprintf("unknown comparison method: %s", tc.ComparisonMethod),
		}
	}
}

// compareExact matches after trimming leading and trailing whitespace only;
// interior whitespace and case are significant.
func compareExact(expected, actual string) model.ComparisonResult {
	match := strings.TrimSpace(expected) == strings.TrimSpace(actual)
	result := model.ComparisonResult{
		IsMatch: match,
		Method:  model.CompareExact,
	}
	if match {
		result.Score = 1.0
		result.Details = "exact match"
	} else {
		result.Details = "answers differ"
	}
	return result
}

// compareSubstring requires every word to appear as a literal,
// case-sensitive substring. Score reports the fraction found, but passing
// requires all of them.
func compareSubstring(requiredWords []string, actual string) model.ComparisonResult {
	if len(requiredWords) == 0 {
		return model.ComparisonResult{
			IsMatch: true,
			Score:   1.0,
			Method:  model.CompareSubstring,
			Details: "no required words declared",
		}
	}

	var missing []string
	found := 0
	for _, word := range requiredWords {
		if strings.Contains(actual, word) {
			found++
		} else {
			missing = append(missing, word)
		}
	}

	score := float64(found) / float64(len(requiredWords))
	result := model.ComparisonResult{
		IsMatch: len(missing) == 0,
		Score:   score,
		Method:  model.CompareSubstring,
	}
	if result.IsMatch {
		result.Details = fmt.Sprintf("all %d required words found", len(requiredWords))
	} else {
		result.Details = fmt.Sprintf("missing required words: %s", strings.Join(missing, ", "))
	}
	return result
}

func (e *Engine) compareSemantic(ctx context.Context, expected, actual string, threshold float64) model.ComparisonResult {
	provider := resolveProvider(ctx, e.semanticCfg)

	expectedVec, err := provider.Embed(ctx, expected)
	if err != nil {
		return semanticError(fmt.Errorf("failed to embed expected answer: %w", err))
	}
	actualVec, err := provider.Embed(ctx, actual)
	if err != nil {
		return semanticError(fmt.Errorf("failed to embed actual answer: %w", err))
	}

	score := CosineSimilarity(expectedVec, actualVec)
	details := fmt.Sprintf("similarity %.4f vs threshold %.2f (provider: %s)", score, threshold, provider.Name())
	if _, lexical := provider.(*lexicalProvider); lexical {
		details += ", fallback used"
	}
	return model.ComparisonResult{
		IsMatch: score >= threshold,
		Score:   score,
		Method:  model.CompareSemantic,
		Details: details,
	}
}

func semanticError(err error) model.ComparisonResult {
	return model.ComparisonResult{
		IsMatch:      false,
		Method:       model.CompareSemantic,
		ErrorMessage: err.Error(),
	}
}

// CosineSimilarity clamps to [0,1]; negative cosine means "nothing alike"
// for similarity purposes.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos < 0 {
		return 0.0
	}
	if cos > 1 {
		return 1.0
	}
	return cos
}
