package planpdf

import "strings"

// glyphFallbacks spells out symbols models often emit that cp1252 lacks.
var glyphFallbacks = map[rune]string{
	'≥': ">=",
	'≤': "<=",
	'≠': "!=",
	'≈': "~",
	'→': "->",
	'←': "<-",
	'↔': "<->",
	'⇒': "=>",
	'↑': "^",
	'−': "-",
	'‐': "-",
	'‑': "-",
	'✓': "-",
	'✔': "-",
	'✗': "x",
	'₂': "2",
	'₃': "3",
}

// encoder turns UTF-8 text into the cp1252 bytes the core fonts draw. Runes
// outside the code page use a fallback spelling when one exists and are
// dropped otherwise, so widths and glyphs always come from the font table.
type encoder struct {
	tr    func(string) string
	cache map[rune]string
}

func newEncoder(tr func(string) string) *encoder {
	return &encoder{tr: tr, cache: make(map[rune]string)}
}

func (e *encoder) encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x80 {
			b.WriteByte(byte(r))
			continue
		}
		b.WriteString(e.glyph(r))
	}
	return b.String()
}

func (e *encoder) glyph(r rune) string {
	if g, ok := e.cache[r]; ok {
		return g
	}
	// the translator writes '.' for runes missing from the code page
	g := e.tr(string(r))
	if g == "." {
		g = glyphFallbacks[r]
	}
	e.cache[r] = g
	return g
}
