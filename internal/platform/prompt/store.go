// Package prompt holds the versioned prompt templates and the section
// headings shared by the prompt, the recommendation extractor and the PDF
// renderer.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Name identifies a template in the store.
type Name string

const (
	ExamAnalysis Name = "exam_analysis"
	TCMAnalysis  Name = "tcm_analysis"
	IFMAnalysis  Name = "ifm_analysis"
	FinalPlan    Name = "final_plan"
)

var requiredTemplates = []Name{ExamAnalysis, TCMAnalysis, IFMAnalysis, FinalPlan}

//go:embed templates.yaml
var defaultTemplates []byte

type templateFile struct {
	Version   string          `yaml:"version"`
	System    string          `yaml:"system"`
	Templates map[Name]string `yaml:"templates"`
}

// Store renders named templates. It is immutable after construction and safe
// for concurrent use.
type Store struct {
	version   string
	system    string
	templates map[Name]*template.Template
}

// Load parses the embedded template set.
func Load() (*Store, error) {
	return Parse(defaultTemplates)
}

// Parse builds a store from YAML. Every template must be present and the
// file version must match HeadingsVersion.
func Parse(data []byte) (*Store, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	if f.Version != HeadingsVersion {
		return nil, fmt.Errorf("template version %q does not match headings version %q", f.Version, HeadingsVersion)
	}

	funcs := template.FuncMap{"headings": renderHeadings}
	s := &Store{version: f.Version, system: strings.TrimSpace(f.System), templates: make(map[Name]*template.Template)}
	for _, name := range requiredTemplates {
		text, ok := f.Templates[name]
		if !ok || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("template %q is missing", name)
		}
		t, err := template.New(string(name)).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse template %q: %w", name, err)
		}
		s.templates[name] = t
	}
	return s, nil
}

func (s *Store) Version() string { return s.version }

// System is the system instruction sent with every call.
func (s *Store) System() string { return s.system }

// Render fills the named template. A variable the template references but
// vars lacks is an error.
func (s *Store) Render(name Name, vars map[string]string) (string, error) {
	t, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func renderHeadings() string {
	lines := make([]string, len(PlanHeadings))
	for i, h := range PlanHeadings {
		lines[i] = h.String()
	}
	return strings.Join(lines, "\n")
}
