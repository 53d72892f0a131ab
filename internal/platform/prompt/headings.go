package prompt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// HeadingsVersion changes whenever the section headings below change. The
// final-plan template embeds the same list through the headings func, so the
// prompt and the parsers always agree on the literals.
const HeadingsVersion = "2024-06-pt-BR.1"

// Heading is a numbered, upper-case section title in a synthesized plan.
type Heading struct {
	Number int
	Title  string
}

func (h Heading) String() string {
	return fmt.Sprintf("%d. %s", h.Number, h.Title)
}

var (
	HeadingClinicalSummary     = Heading{1, "RESUMO CLÍNICO"}
	HeadingTherapeuticApproach = Heading{2, "ABORDAGEM TERAPÊUTICA"}
	HeadingDiet                = Heading{3, "RECOMENDAÇÕES ALIMENTARES"}
	HeadingSupplements         = Heading{4, "SUPLEMENTAÇÃO RECOMENDADA"}
	HeadingLifestyle           = Heading{5, "PRÁTICAS DE ESTILO DE VIDA"}
	HeadingTimeline            = Heading{6, "CRONOGRAMA DE IMPLEMENTAÇÃO"}
	HeadingFollowUp            = Heading{7, "METAS E ACOMPANHAMENTO"}
)

// PlanHeadings lists the seven sections requested from the model, in order.
var PlanHeadings = []Heading{
	HeadingClinicalSummary,
	HeadingTherapeuticApproach,
	HeadingDiet,
	HeadingSupplements,
	HeadingLifestyle,
	HeadingTimeline,
	HeadingFollowUp,
}

var headingRe = regexp.MustCompile(`^(\d{1,2})\.\s+(.+)$`)

// ParseHeading recognizes a line of the form "<n>. <UPPER TEXT>". Markdown
// decoration the model tends to add ("## ", "**...**") and a trailing colon
// are ignored. Lines whose text has lower-case letters are not headings, which
// keeps numbered list items inside a section from splitting it.
func ParseHeading(line string) (Heading, bool) {
	s := strings.TrimSpace(line)
	s = strings.TrimSpace(strings.TrimLeft(s, "#"))
	s = strings.TrimSpace(strings.Trim(s, "*"))
	m := headingRe.FindStringSubmatch(s)
	if m == nil {
		return Heading{}, false
	}
	title := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(m[2]), ":*"))
	if !isUpperText(title) {
		return Heading{}, false
	}
	n, _ := strconv.Atoi(m[1])
	return Heading{Number: n, Title: title}, true
}

func isUpperText(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if unicode.IsLower(r) {
				return false
			}
			hasLetter = true
		}
	}
	return hasLetter
}

// Section is a heading and the text up to the next heading.
type Section struct {
	Heading Heading
	Body    string
}

// IsPlanHeading reports whether h is one of PlanHeadings.
func IsPlanHeading(h Heading) bool {
	for _, ph := range PlanHeadings {
		if ph == h {
			return true
		}
	}
	return false
}

// startsSection reports whether h closes the current section. Plan headings
// always do. Inside a plan section, numbered upper-case sub-titles such as
// "1. CAFÉ DA MANHÃ" stay in the body unless their number lies past the plan
// headings; other sections end at any higher number.
func startsSection(current *Section, h Heading) bool {
	if current == nil || IsPlanHeading(h) {
		return true
	}
	if IsPlanHeading(current.Heading) {
		return h.Number > len(PlanHeadings)
	}
	return h.Number > current.Heading.Number
}

// SplitSections tokenizes text into the preamble before the first heading and
// the headed sections that follow. Bodies are trimmed of surrounding blank
// lines.
func SplitSections(text string) (string, []Section) {
	var (
		preamble []string
		sections []Section
		body     []string
		current  *Section
	)
	flush := func() {
		if current != nil {
			current.Body = strings.Trim(strings.Join(body, "\n"), "\n \t\r")
			sections = append(sections, *current)
		}
		body = body[:0]
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if h, ok := ParseHeading(line); ok && startsSection(current, h) {
			flush()
			current = &Section{Heading: h}
			continue
		}
		if current == nil {
			preamble = append(preamble, line)
		} else {
			body = append(body, line)
		}
	}
	flush()
	return strings.TrimSpace(strings.Join(preamble, "\n")), sections
}

// Find returns the body of the first section matching h.
func Find(sections []Section, h Heading) (string, bool) {
	for _, s := range sections {
		if s.Heading == h {
			return s.Body, true
		}
	}
	return "", false
}
