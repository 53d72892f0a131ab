package planpdf

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// LineKind classifies one line of a section body.
type LineKind int

const (
	LineBlank LineKind = iota
	LineSubHeading
	LineText
)

func (k LineKind) String() string {
	switch k {
	case LineBlank:
		return "blank"
	case LineSubHeading:
		return "subheading"
	default:
		return "text"
	}
}

var (
	bulletRe   = regexp.MustCompile(`^[-–•*]\s*\p{Lu}`)
	numberedRe = regexp.MustCompile(`^\d{1,2}[.)]\s*\p{Lu}`)
)

// ClassifyLine is a heuristic over free-form model output. A line is a
// sub-heading when it starts with a bullet or dash followed by a capital
// letter, with a numbered marker followed by a capital letter, or when it is
// 4 to 49 characters long and entirely upper-case.
func ClassifyLine(line string) LineKind {
	s := strings.TrimSpace(line)
	if s == "" {
		return LineBlank
	}
	if bulletRe.MatchString(s) || numberedRe.MatchString(s) {
		return LineSubHeading
	}
	if n := utf8.RuneCountInString(s); n >= 4 && n < 50 && isAllUpper(s) {
		return LineSubHeading
	}
	return LineText
}

func isAllUpper(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters > 0
}

// Block is a laid-out unit of a section body.
type Block struct {
	Kind LineKind
	Text string
}

// Blocks groups body lines: consecutive text lines join into one paragraph
// separated by single spaces, a blank line ends the paragraph and each
// sub-heading is its own block.
func Blocks(body string) []Block {
	var (
		out  []Block
		para []string
	)
	flush := func() {
		if len(para) > 0 {
			out = append(out, Block{Kind: LineText, Text: strings.Join(para, " ")})
			para = para[:0]
		}
	}
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		switch ClassifyLine(line) {
		case LineBlank:
			flush()
		case LineSubHeading:
			flush()
			out = append(out, Block{Kind: LineSubHeading, Text: strings.TrimSpace(line)})
		default:
			para = append(para, strings.TrimSpace(line))
		}
	}
	flush()
	return out
}
