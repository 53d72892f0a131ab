package plan

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusDraft      = "draft"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Plan maps to the plan table. Sub-records are stored as JSONB columns.
type Plan struct {
	ID                    uuid.UUID        `db:"id" json:"id"`
	Title                 string           `db:"title" json:"title"`
	Patient               Patient          `db:"patient" json:"patient"`
	MenstrualHistory      MenstrualHistory `db:"menstrual_history" json:"menstrual_history"`
	Symptoms              []Symptom        `db:"symptoms" json:"symptoms"`
	HealthHistory         HealthHistory    `db:"health_history" json:"health_history"`
	Lifestyle             Lifestyle        `db:"lifestyle" json:"lifestyle"`
	Exams                 []Exam           `db:"exams" json:"exams"`
	TCMObservations       TCMObservations  `db:"tcm_observations" json:"tcm_observations"`
	Timeline              []TimelineEvent  `db:"timeline" json:"timeline"`
	IFMMatrix             IFMMatrix        `db:"ifm_matrix" json:"ifm_matrix"`
	Status                string           `db:"status" json:"status"`
	FinalPlan             *FinalPlan       `db:"final_plan" json:"final_plan,omitempty"`
	GenerationStartedAt   *time.Time       `db:"generation_started_at" json:"generation_started_at,omitempty"`
	GenerationCompletedAt *time.Time       `db:"generation_completed_at" json:"generation_completed_at,omitempty"`
	GenerationError       *string          `db:"generation_error" json:"generation_error,omitempty"`
	CreatedBy             string           `db:"created_by" json:"created_by"`
	CompanyID             uuid.UUID        `db:"company_id" json:"company_id"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

type Patient struct {
	Name   string   `json:"name,omitempty"`
	Age    *int     `json:"age,omitempty"`
	Height *float64 `json:"height,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
}

type MenstrualHistory struct {
	MenarcheAge    *int   `json:"menarche_age,omitempty"`
	CycleLength    *int   `json:"cycle_length,omitempty"`
	PeriodDuration *int   `json:"period_duration,omitempty"`
	LastPeriod     string `json:"last_period,omitempty"`
	Regularity     string `json:"regularity,omitempty"`
	Flow           string `json:"flow,omitempty"`
	PMSSymptoms    string `json:"pms_symptoms,omitempty"`
	Contraceptive  string `json:"contraceptive,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type Symptom struct {
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

type HealthHistory struct {
	Conditions    string `json:"conditions,omitempty"`
	Surgeries     string `json:"surgeries,omitempty"`
	Medications   string `json:"medications,omitempty"`
	Allergies     string `json:"allergies,omitempty"`
	FamilyHistory string `json:"family_history,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type Lifestyle struct {
	Diet             string `json:"diet,omitempty"`
	PhysicalActivity string `json:"physical_activity,omitempty"`
	Sleep            string `json:"sleep,omitempty"`
	Stress           string `json:"stress,omitempty"`
	Alcohol          string `json:"alcohol,omitempty"`
	Smoking          string `json:"smoking,omitempty"`
	WaterIntake      string `json:"water_intake,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// Exam is a lab or imaging exam. FileKey references an object in the blob
// store; FileURL is a presigned URL filled in on read and never persisted.
type Exam struct {
	Name    string `json:"name"`
	Date    string `json:"date,omitempty"`
	Results string `json:"results,omitempty"`
	FileKey string `json:"file_key,omitempty"`
	FileURL string `json:"file_url,omitempty"`
}

type TCMObservations struct {
	Tongue        string `json:"tongue,omitempty"`
	Pulse         string `json:"pulse,omitempty"`
	EnergyPattern string `json:"energy_pattern,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// IsEmpty reports whether no observation was recorded.
func (o TCMObservations) IsEmpty() bool {
	return blank(o.Tongue, o.Pulse, o.EnergyPattern, o.Notes)
}

type TimelineEvent struct {
	Date        time.Time `json:"date"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
}

// IFMMatrix holds one free-text note per functional-medicine system.
type IFMMatrix struct {
	Assimilation        string `json:"assimilation,omitempty"`
	DefenseRepair       string `json:"defense_repair,omitempty"`
	Energy              string `json:"energy,omitempty"`
	Biotransformation   string `json:"biotransformation,omitempty"`
	Transport           string `json:"transport,omitempty"`
	Communication       string `json:"communication,omitempty"`
	StructuralIntegrity string `json:"structural_integrity,omitempty"`
}

// IsEmpty reports whether every system note is blank.
func (m IFMMatrix) IsEmpty() bool {
	return blank(m.Assimilation, m.DefenseRepair, m.Energy, m.Biotransformation,
		m.Transport, m.Communication, m.StructuralIntegrity)
}

type FinalPlan struct {
	Content         string           `json:"content"`
	Recommendations []Recommendation `json:"recommendations"`
	TokenUsage      int              `json:"token_usage"`
}

type Recommendation struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// IsEditable reports whether intake data may still change.
func (p *Plan) IsEditable() bool {
	return p.Status == StatusDraft || p.Status == StatusError
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
