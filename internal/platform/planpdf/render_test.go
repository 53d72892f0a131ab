package planpdf

import (
	"bytes"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/womenshealth/planner/internal/domain/plan"
	"github.com/womenshealth/planner/internal/platform/prompt"
)

func completedPlan(content string) *plan.Plan {
	age := 34
	height := 165.0
	done := time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC)
	return &plan.Plan{
		Title:   "Plano integrativo - Ana",
		Patient: plan.Patient{Name: "Ana Souza", Age: &age, Height: &height},
		Symptoms: []plan.Symptom{
			{Description: "Insônia", Priority: 3},
			{Description: "Cólicas intensas", Priority: 1},
			{Description: "Fadiga", Priority: 2},
			{Description: "Acne", Priority: 4},
		},
		Status:                plan.StatusCompleted,
		FinalPlan:             &plan.FinalPlan{Content: content},
		GenerationCompletedAt: &done,
	}
}

func longContent(paragraphs int) string {
	var b strings.Builder
	b.WriteString("Plano elaborado a partir dos dados da consulta.\n\n")
	para := strings.Repeat("Manter rotina regular de sono, refeições em horários fixos e hidratação adequada ao longo do dia. ", 6)
	for _, h := range prompt.PlanHeadings {
		b.WriteString(h.String() + "\n")
		b.WriteString("ORIENTAÇÕES GERAIS\n")
		for i := 0; i < paragraphs; i++ {
			b.WriteString(para + "\n\n")
		}
		b.WriteString("- Magnésio glicinato 300mg à noite\n\n")
	}
	return b.String()
}

func testRenderer() *Renderer {
	r := NewRenderer(Branding{})
	r.compress = false
	return r
}

func TestRender_RejectsIncompletePlans(t *testing.T) {
	r := testRenderer()
	for _, status := range []string{plan.StatusDraft, plan.StatusGenerating, plan.StatusError} {
		p := completedPlan("1. RESUMO CLÍNICO\ntexto")
		p.Status = status
		out, err := r.Render(p)
		if !errors.Is(err, ErrPlanNotCompleted) {
			t.Errorf("%s: expected ErrPlanNotCompleted, got %v", status, err)
		}
		if out != nil {
			t.Errorf("%s: expected no bytes", status)
		}
	}

	p := completedPlan("x")
	p.FinalPlan = nil
	if _, err := r.Render(p); !errors.Is(err, ErrPlanNotCompleted) {
		t.Errorf("expected ErrPlanNotCompleted without final plan, got %v", err)
	}
	if _, err := r.Render(nil); !errors.Is(err, ErrPlanNotCompleted) {
		t.Errorf("expected ErrPlanNotCompleted for nil plan, got %v", err)
	}
}

func TestRender_RejectsEmptyContent(t *testing.T) {
	out, err := testRenderer().Render(completedPlan("  \n\t "))
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if out != nil {
		t.Error("expected no bytes")
	}
}

func TestRender_ProducesPDF(t *testing.T) {
	out, err := NewRenderer(Branding{}).Render(completedPlan(longContent(1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) || !bytes.Contains(out, []byte("%%EOF")) {
		t.Error("expected a complete PDF document")
	}
}

func TestRender_SymbolsOutsideCodePage(t *testing.T) {
	p := completedPlan("1. RESUMO CLÍNICO\nDor ≥ 7 → piora à noite 🙂\n\n3. RECOMENDAÇÕES ALIMENTARES\n- Ômega-3 ≤ 2 g/dia ✓")
	p.Symptoms = []plan.Symptom{{Description: "Dor ≥ 7 → piora", Priority: 1}}

	out, err := testRenderer().Render(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Dor >= 7 -> piora", "2 g/dia -"} {
		if !bytes.Contains(out, []byte(want)) {
			t.Errorf("missing %q", want)
		}
	}
}

// Accented characters are written in cp1252, so the label is matched loosely.
var pageLabel = regexp.MustCompile(`P.gina (\d+) de (\d+)`)

func TestRender_FooterOnEveryPage(t *testing.T) {
	out, err := testRenderer().Render(completedPlan(longContent(4)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matches := pageLabel.FindAllSubmatch(out, -1)
	if len(matches) == 0 {
		t.Fatal("expected page labels")
	}
	total, err := strconv.Atoi(string(matches[0][2]))
	if err != nil {
		t.Fatalf("bad page total: %v", err)
	}
	if total < 2 {
		t.Fatalf("long content should span several pages, got %d", total)
	}
	if len(matches) != total {
		t.Fatalf("expected %d page labels, got %d", total, len(matches))
	}
	for i, m := range matches {
		if string(m[1]) != strconv.Itoa(i+1) || string(m[2]) != strconv.Itoa(total) {
			t.Errorf("page %d: got label %q", i+1, m[0])
		}
	}
	if n := bytes.Count(out, []byte("Cuidado integrativo e personalizado")); n != total {
		t.Errorf("expected tagline on %d pages, got %d", total, n)
	}
}

func TestRender_HeaderAndPatientBox(t *testing.T) {
	r := NewRenderer(Branding{Wordmark: "Clinica Teste", Subtitle: "Plano Personalizado", Tagline: "Rodape fixo"})
	r.compress = false
	out, err := r.Render(completedPlan("1. RESUMO CLÍNICO\nPaciente com ciclos irregulares."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"Clinica Teste",
		"Plano Personalizado",
		"Gerado em 10/06/2024",
		"Rodape fixo",
		"Ana Souza",
		"34 anos",
	} {
		if !bytes.Contains(out, []byte(want)) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestEncoder(t *testing.T) {
	enc := newEncoder(fpdf.New("P", "pt", "A4", "").UnicodeTranslatorFromDescriptor(""))
	tests := []struct {
		in, want string
	}{
		{"Não informado", "N\xe3o informado"},
		{"Dor ≥ 7 → piora", "Dor >= 7 -> piora"},
		{"CO₂ ≈ normal", "CO2 ~ normal"},
		{"sono 🙂 bom", "sono  bom"},
		{"• item", "\x95 item"},
		{"ascii only.", "ascii only."},
	}
	for _, tt := range tests {
		if got := enc.encode(tt.in); got != tt.want {
			t.Errorf("encode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNeedsBreak(t *testing.T) {
	const pageH = 841.89
	tests := []struct {
		y    float64
		want bool
	}{
		{100, false},
		{pageH - 151, false},
		{pageH - 150, false},
		{pageH - 149, true},
		{pageH - 40, true},
	}
	for _, tt := range tests {
		if got := needsBreak(pageH, tt.y); got != tt.want {
			t.Errorf("needsBreak(%v) = %v, want %v", tt.y, got, tt.want)
		}
	}
}

func TestTopSymptoms(t *testing.T) {
	p := completedPlan("x")
	tests := []struct {
		symptoms []plan.Symptom
		n        int
		want     string
	}{
		{p.Symptoms, 3, "Cólicas intensas; Fadiga; Insônia"},
		{p.Symptoms, 1, "Cólicas intensas"},
		{nil, 3, "Não informado"},
		{[]plan.Symptom{{Description: "  ", Priority: 1}, {Description: "Fadiga", Priority: 2}}, 3, "Fadiga"},
	}
	for _, tt := range tests {
		if got := TopSymptoms(tt.symptoms, tt.n); got != tt.want {
			t.Errorf("TopSymptoms(n=%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestBranding_Defaults(t *testing.T) {
	b := Branding{Tagline: "custom"}.withDefaults()
	if b.Wordmark != DefaultWordmark || b.Subtitle != DefaultSubtitle {
		t.Errorf("expected default wordmark and subtitle, got %+v", b)
	}
	if b.Tagline != "custom" {
		t.Errorf("expected custom tagline kept, got %q", b.Tagline)
	}
}
