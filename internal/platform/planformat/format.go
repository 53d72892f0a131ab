// Package planformat flattens a plan into the string variables the prompt
// templates interpolate.
package planformat

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/womenshealth/planner/internal/domain/plan"
)

// NotInformed replaces every missing value.
const NotInformed = "Não informado"

// Variable names shared with the prompt templates.
const (
	KeyPatientName      = "patient_name"
	KeyPatientAge       = "patient_age"
	KeyPatientHeight    = "patient_height"
	KeyPatientWeight    = "patient_weight"
	KeySymptoms         = "symptoms"
	KeyMenstrualHistory = "menstrual_history"
	KeyHealthHistory    = "health_history"
	KeyLifestyle        = "lifestyle"
	KeyExams            = "exams"
	KeyTCMObservations  = "tcm_observations"
	KeyIFMMatrix        = "ifm_matrix"
	KeyTimeline         = "timeline"
)

// Vars maps template variable names to values.
type Vars map[string]string

// Format never fails. Exams, TCM observations and the IFM matrix are the
// empty string when nothing was recorded; every other key degrades to
// NotInformed.
func Format(p *plan.Plan) Vars {
	return Vars{
		KeyPatientName:      orNotInformed(p.Patient.Name),
		KeyPatientAge:       intWithUnit(p.Patient.Age, "anos"),
		KeyPatientHeight:    floatWithUnit(p.Patient.Height, "cm"),
		KeyPatientWeight:    floatWithUnit(p.Patient.Weight, "kg"),
		KeySymptoms:         formatSymptoms(p.Symptoms),
		KeyMenstrualHistory: formatMenstrual(p.MenstrualHistory),
		KeyHealthHistory:    formatHealth(p.HealthHistory),
		KeyLifestyle:        formatLifestyle(p.Lifestyle),
		KeyExams:            formatExams(p.Exams),
		KeyTCMObservations:  formatTCM(p.TCMObservations),
		KeyIFMMatrix:        formatIFM(p.IFMMatrix),
		KeyTimeline:         formatTimeline(p.Timeline),
	}
}

// SortedSymptoms returns the symptoms ordered by ascending priority, keeping
// input order for ties.
func SortedSymptoms(symptoms []plan.Symptom) []plan.Symptom {
	out := make([]plan.Symptom, len(symptoms))
	copy(out, symptoms)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func formatSymptoms(symptoms []plan.Symptom) string {
	if len(symptoms) == 0 {
		return NotInformed
	}
	lines := make([]string, 0, len(symptoms))
	for i, s := range SortedSymptoms(symptoms) {
		lines = append(lines, fmt.Sprintf("%d. %s (prioridade %d)", i+1, strings.TrimSpace(s.Description), s.Priority))
	}
	return strings.Join(lines, "\n")
}

func formatMenstrual(m plan.MenstrualHistory) string {
	return labeled(
		field{"Idade da menarca", intWithUnit(m.MenarcheAge, "anos")},
		field{"Duração do ciclo", intWithUnit(m.CycleLength, "dias")},
		field{"Duração da menstruação", intWithUnit(m.PeriodDuration, "dias")},
		field{"Última menstruação", m.LastPeriod},
		field{"Regularidade", m.Regularity},
		field{"Fluxo", m.Flow},
		field{"Sintomas pré-menstruais", m.PMSSymptoms},
		field{"Método contraceptivo", m.Contraceptive},
		field{"Observações", m.Notes},
	)
}

func formatHealth(h plan.HealthHistory) string {
	return labeled(
		field{"Condições de saúde", h.Conditions},
		field{"Cirurgias", h.Surgeries},
		field{"Medicamentos em uso", h.Medications},
		field{"Alergias", h.Allergies},
		field{"Histórico familiar", h.FamilyHistory},
		field{"Observações", h.Notes},
	)
}

func formatLifestyle(l plan.Lifestyle) string {
	return labeled(
		field{"Alimentação", l.Diet},
		field{"Atividade física", l.PhysicalActivity},
		field{"Sono", l.Sleep},
		field{"Estresse", l.Stress},
		field{"Álcool", l.Alcohol},
		field{"Tabagismo", l.Smoking},
		field{"Ingestão de água", l.WaterIntake},
		field{"Observações", l.Notes},
	)
}

func formatExams(exams []plan.Exam) string {
	var lines []string
	for _, e := range exams {
		name := strings.TrimSpace(e.Name)
		if name == "" && strings.TrimSpace(e.Results) == "" {
			continue
		}
		line := "- " + orNotInformed(name)
		if d := strings.TrimSpace(e.Date); d != "" {
			line += " (" + d + ")"
		}
		if r := strings.TrimSpace(e.Results); r != "" {
			line += ": " + r
		} else if e.FileKey != "" {
			line += ": resultado em arquivo anexo"
		} else {
			line += ": resultados não informados"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatTCM(o plan.TCMObservations) string {
	if o.IsEmpty() {
		return ""
	}
	return labeled(
		field{"Língua", o.Tongue},
		field{"Pulso", o.Pulse},
		field{"Padrão energético", o.EnergyPattern},
		field{"Observações", o.Notes},
	)
}

func formatIFM(m plan.IFMMatrix) string {
	if m.IsEmpty() {
		return ""
	}
	return labeled(
		field{"Assimilação", m.Assimilation},
		field{"Defesa e reparo", m.DefenseRepair},
		field{"Energia", m.Energy},
		field{"Biotransformação e eliminação", m.Biotransformation},
		field{"Transporte", m.Transport},
		field{"Comunicação", m.Communication},
		field{"Integridade estrutural", m.StructuralIntegrity},
	)
}

func formatTimeline(events []plan.TimelineEvent) string {
	if len(events) == 0 {
		return NotInformed
	}
	sorted := make([]plan.TimelineEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	lines := make([]string, 0, len(sorted))
	for _, ev := range sorted {
		lines = append(lines, fmt.Sprintf("%s — [%s] %s",
			ev.Date.Format("2006-01-02"), orNotInformed(ev.Type), strings.TrimSpace(ev.Description)))
	}
	return strings.Join(lines, "\n")
}

type field struct {
	label string
	value string
}

func labeled(fields ...field) string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = f.label + ": " + orNotInformed(f.value)
	}
	return strings.Join(lines, "\n")
}

func orNotInformed(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return NotInformed
	}
	return s
}

func intWithUnit(v *int, unit string) string {
	if v == nil {
		return NotInformed
	}
	return strconv.Itoa(*v) + " " + unit
}

func floatWithUnit(v *float64, unit string) string {
	if v == nil {
		return NotInformed
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + " " + unit
}
