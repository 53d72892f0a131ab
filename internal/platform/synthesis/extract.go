package synthesis

import (
	"unicode/utf8"

	"github.com/womenshealth/planner/internal/domain/plan"
	"github.com/womenshealth/planner/internal/platform/prompt"
)

// Recommendation types.
const (
	TypeDiet        = "alimentação"
	TypeSupplements = "suplementação"
	TypeLifestyle   = "estilo de vida"
)

// MaxDescriptionLen bounds a recommendation description, in characters.
const MaxDescriptionLen = 500

const ellipsis = "..."

var recommendationSections = []struct {
	typ     string
	heading prompt.Heading
}{
	{TypeDiet, prompt.HeadingDiet},
	{TypeSupplements, prompt.HeadingSupplements},
	{TypeLifestyle, prompt.HeadingLifestyle},
}

// ExtractRecommendations returns one recommendation per category whose
// heading is present with a non-empty body, in category order. A missing
// heading is not an error; the category is simply absent.
func ExtractRecommendations(text string) []plan.Recommendation {
	_, sections := prompt.SplitSections(text)
	out := make([]plan.Recommendation, 0, len(recommendationSections))
	for _, rs := range recommendationSections {
		body, ok := prompt.Find(sections, rs.heading)
		if !ok || body == "" {
			continue
		}
		out = append(out, plan.Recommendation{Type: rs.typ, Description: truncate(body, MaxDescriptionLen)})
	}
	return out
}

// truncate cuts s to max characters, the last three being the ellipsis.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-len(ellipsis)]) + ellipsis
}

// EstimateTokens approximates token usage as ceil(characters / 4).
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
