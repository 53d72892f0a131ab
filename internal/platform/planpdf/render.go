// Package planpdf lays out a completed plan as a paginated A4 document.
package planpdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/womenshealth/planner/internal/domain/plan"
	"github.com/womenshealth/planner/internal/platform/planformat"
	"github.com/womenshealth/planner/internal/platform/prompt"
)

var (
	ErrPlanNotCompleted = errors.New("plan is not completed")
	ErrEmptyContent     = errors.New("plan has no content to render")
)

const (
	DefaultWordmark = "Saúde da Mulher"
	DefaultSubtitle = "Plano de Saúde Integrativo Personalizado"
	DefaultTagline  = "Cuidado integrativo e personalizado para a saúde da mulher"
)

const (
	margin         = 50.0
	headerHeight   = 80.0
	footerHeight   = 40.0
	bottomMargin   = footerHeight + 30.0
	sectionReserve = 150.0
	lineHeight     = 14.0
	boxPadding     = 10.0
	boxRowHeight   = 15.0
	symptomsInBox  = 3
)

type rgb struct{ r, g, b int }

var (
	colorBrand = rgb{136, 48, 99}
	colorTint  = rgb{248, 236, 242}
	colorText  = rgb{45, 45, 45}
	colorMuted = rgb{120, 120, 120}
	colorWhite = rgb{255, 255, 255}
)

// Branding holds the fixed texts drawn on every document.
type Branding struct {
	Wordmark string
	Subtitle string
	Tagline  string
}

func (b Branding) withDefaults() Branding {
	if b.Wordmark == "" {
		b.Wordmark = DefaultWordmark
	}
	if b.Subtitle == "" {
		b.Subtitle = DefaultSubtitle
	}
	if b.Tagline == "" {
		b.Tagline = DefaultTagline
	}
	return b
}

type Renderer struct {
	brand    Branding
	now      func() time.Time
	compress bool
}

func NewRenderer(brand Branding) *Renderer {
	return &Renderer{brand: brand.withDefaults(), now: time.Now, compress: true}
}

// Render produces the PDF bytes for a completed plan. Nothing is returned
// unless the whole document was laid out without error.
func (r *Renderer) Render(p *plan.Plan) ([]byte, error) {
	if p == nil || p.Status != plan.StatusCompleted || p.FinalPlan == nil {
		return nil, ErrPlanNotCompleted
	}
	content := strings.TrimSpace(p.FinalPlan.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, bottomMargin)
	pdf.SetTitle(p.Title, true)
	pdf.SetAuthor(r.brand.Wordmark, true)
	pdf.SetCreator(r.brand.Wordmark, true)

	d := &document{pdf: pdf, tr: newEncoder(pdf.UnicodeTranslatorFromDescriptor("")).encode}
	d.pageW, d.pageH = pdf.GetPageSize()

	pdf.AddPage()
	r.header(d, p)
	r.patientBox(d, p)

	preamble, sections := prompt.SplitSections(content)
	if preamble != "" {
		d.body(preamble)
		pdf.Ln(10)
	}
	for _, s := range sections {
		d.section(s)
	}
	r.footers(d)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type document struct {
	pdf          *fpdf.Fpdf
	tr           func(string) string
	pageW, pageH float64
}

func (d *document) contentWidth() float64 { return d.pageW - 2*margin }

func (d *document) fill(c rgb) { d.pdf.SetFillColor(c.r, c.g, c.b) }
func (d *document) textColor(c rgb) { d.pdf.SetTextColor(c.r, c.g, c.b) }

func (d *document) cell(w, h float64, text, align string) {
	d.pdf.CellFormat(w, h, d.tr(text), "", 0, align, false, 0, "")
}

func (r *Renderer) header(d *document, p *plan.Plan) {
	pdf := d.pdf
	d.fill(colorBrand)
	pdf.Rect(0, 0, d.pageW, headerHeight, "F")

	d.textColor(colorWhite)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetXY(margin, 16)
	d.cell(d.contentWidth(), 28, r.brand.Wordmark, "L")

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetXY(margin, 46)
	d.cell(d.contentWidth(), 16, r.brand.Subtitle, "L")
	pdf.SetXY(margin, 46)
	d.cell(d.contentWidth(), 16, "Gerado em "+r.generatedAt(p).Format("02/01/2006"), "R")

	pdf.SetXY(margin, headerHeight+20)
	d.textColor(colorText)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 20, d.tr(p.Title), "", "L", false)
	pdf.Ln(8)
}

func (r *Renderer) generatedAt(p *plan.Plan) time.Time {
	if p.GenerationCompletedAt != nil {
		return *p.GenerationCompletedAt
	}
	return r.now()
}

func (r *Renderer) patientBox(d *document, p *plan.Plan) {
	pdf := d.pdf
	vars := planformat.Format(p)
	x, y := margin, pdf.GetY()
	w := d.contentWidth()
	inner := w - 2*boxPadding
	col := inner / 2

	pdf.SetFont("Helvetica", "", 10)
	symptoms := "Sintomas principais: " + TopSymptoms(p.Symptoms, symptomsInBox)
	symLines := pdf.SplitLines([]byte(d.tr(symptoms)), inner)
	h := 2*boxPadding + boxRowHeight*float64(3+len(symLines))

	d.fill(colorTint)
	pdf.SetDrawColor(colorBrand.r, colorBrand.g, colorBrand.b)
	pdf.SetLineWidth(0.8)
	pdf.Rect(x, y, w, h, "FD")

	rowY := y + boxPadding
	d.textColor(colorBrand)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(x+boxPadding, rowY)
	d.cell(inner, boxRowHeight, "DADOS DA PACIENTE", "L")
	rowY += boxRowHeight

	d.textColor(colorText)
	pdf.SetFont("Helvetica", "", 10)
	rows := [][2]string{
		{"Nome: " + vars[planformat.KeyPatientName], "Altura: " + vars[planformat.KeyPatientHeight]},
		{"Idade: " + vars[planformat.KeyPatientAge], "Peso: " + vars[planformat.KeyPatientWeight]},
	}
	for _, row := range rows {
		pdf.SetXY(x+boxPadding, rowY)
		d.cell(col, boxRowHeight, row[0], "L")
		pdf.SetXY(x+boxPadding+col, rowY)
		d.cell(col, boxRowHeight, row[1], "L")
		rowY += boxRowHeight
	}
	for _, line := range symLines {
		pdf.SetXY(x+boxPadding, rowY)
		// lines are already encoded
		pdf.CellFormat(inner, boxRowHeight, string(line), "", 0, "L", false, 0, "")
		rowY += boxRowHeight
	}
	pdf.SetXY(margin, y+h+20)
}

// TopSymptoms joins the n highest-priority symptom descriptions with "; ".
func TopSymptoms(symptoms []plan.Symptom, n int) string {
	sorted := planformat.SortedSymptoms(symptoms)
	var parts []string
	for _, s := range sorted {
		if len(parts) == n {
			break
		}
		if desc := strings.TrimSpace(s.Description); desc != "" {
			parts = append(parts, desc)
		}
	}
	if len(parts) == 0 {
		return planformat.NotInformed
	}
	return strings.Join(parts, "; ")
}

func (d *document) section(s prompt.Section) {
	pdf := d.pdf
	if needsBreak(d.pageH, pdf.GetY()) {
		pdf.AddPage()
	}
	y := pdf.GetY()
	d.fill(colorTint)
	pdf.Rect(margin, y, d.contentWidth(), 24, "F")
	d.fill(colorBrand)
	pdf.Rect(margin, y, 4, 24, "F")

	d.textColor(colorBrand)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetXY(margin+12, y)
	d.cell(d.contentWidth()-12, 24, s.Heading.String(), "L")
	pdf.SetXY(margin, y+24+8)

	d.body(s.Body)
	pdf.Ln(10)
}

// needsBreak reports whether fewer than sectionReserve points remain between
// y and the page bottom.
func needsBreak(pageH, y float64) bool {
	return pageH-y < sectionReserve
}

func (d *document) body(text string) {
	pdf := d.pdf
	for _, b := range Blocks(text) {
		pdf.SetX(margin)
		switch b.Kind {
		case LineSubHeading:
			d.textColor(colorBrand)
			pdf.SetFont("Helvetica", "B", 11)
			pdf.MultiCell(0, lineHeight+1, d.tr(b.Text), "", "L", false)
			pdf.Ln(2)
		default:
			d.textColor(colorText)
			pdf.SetFont("Helvetica", "", 10.5)
			pdf.MultiCell(0, lineHeight, d.tr(b.Text), "", "J", false)
			pdf.Ln(6)
		}
	}
}

// footers runs once every page exists so the page total is known.
func (r *Renderer) footers(d *document) {
	pdf := d.pdf
	total := pdf.PageCount()
	pdf.SetAutoPageBreak(false, 0)
	for i := 1; i <= total; i++ {
		pdf.SetPage(i)
		y := d.pageH - footerHeight
		d.fill(colorBrand)
		pdf.Rect(0, y, d.pageW, 4, "F")

		d.textColor(colorMuted)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.SetXY(margin, y+14)
		d.cell(d.contentWidth(), 12, r.brand.Tagline, "C")
		pdf.SetXY(margin, y+14)
		d.cell(d.contentWidth(), 12, fmt.Sprintf("Página %d de %d", i, total), "R")
	}
}
