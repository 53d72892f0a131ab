package main

import (
	"github.com/womenshealth/planner/internal/platform/openapi"
)

func obj(required []string, props map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str() map[string]interface{} { return map[string]interface{}{"type": "string"} }
func strf(format string) map[string]interface{} { return map[string]interface{}{"type": "string", "format": format} }
func integer() map[string]interface{} { return map[string]interface{}{"type": "integer"} }
func number() map[string]interface{} { return map[string]interface{}{"type": "number"} }

func schemaRef(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func arrayOf(item map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": item}
}

func textFields(names ...string) map[string]interface{} {
	props := make(map[string]interface{}, len(names))
	for _, n := range names {
		props[n] = str()
	}
	return props
}

func listOf(item string) map[string]interface{} {
	return obj([]string{"data", "total"}, map[string]interface{}{
		"data":     arrayOf(schemaRef(item)),
		"total":    integer(),
		"limit":    integer(),
		"offset":   integer(),
		"page":     integer(),
		"pages":    integer(),
		"has_more": map[string]interface{}{"type": "boolean"},
	})
}

// newAPIDoc declares the component schemas shared by the domain handlers'
// operations.
func newAPIDoc() *openapi.Generator {
	g := openapi.NewGenerator("Integrative Women's Health Plan API", version, "/api/v1")

	g.Schema("Patient", obj(nil, map[string]interface{}{
		"name": str(), "age": integer(), "height": number(), "weight": number(),
	}))
	menstrual := textFields("last_period", "regularity", "flow", "pms_symptoms", "contraceptive", "notes")
	menstrual["menarche_age"], menstrual["cycle_length"], menstrual["period_duration"] = integer(), integer(), integer()
	g.Schema("MenstrualHistory", obj(nil, menstrual))
	g.Schema("Symptom", obj([]string{"description", "priority"}, map[string]interface{}{
		"description": str(), "priority": map[string]interface{}{"type": "integer", "minimum": 1},
	}))
	g.Schema("HealthHistory", obj(nil, textFields("conditions", "surgeries", "medications", "allergies", "family_history", "notes")))
	g.Schema("Lifestyle", obj(nil, textFields("diet", "physical_activity", "sleep", "stress", "alcohol", "smoking", "water_intake", "notes")))
	g.Schema("Exam", obj([]string{"name"}, map[string]interface{}{
		"name": str(), "date": str(), "results": str(), "file_key": str(), "file_url": strf("uri"),
	}))
	g.Schema("TCMObservations", obj(nil, textFields("tongue", "pulse", "energy_pattern", "notes")))
	g.Schema("TimelineEvent", obj([]string{"date", "description"}, map[string]interface{}{
		"date": strf("date-time"), "type": str(), "description": str(),
	}))
	g.Schema("IFMMatrix", obj(nil, textFields("assimilation", "defense_repair", "energy", "biotransformation",
		"transport", "communication", "structural_integrity")))
	g.Schema("Recommendation", obj([]string{"type", "description"}, map[string]interface{}{
		"type":        map[string]interface{}{"type": "string", "enum": []string{"alimentação", "suplementação", "estilo de vida"}},
		"description": map[string]interface{}{"type": "string", "maxLength": 500},
	}))
	g.Schema("FinalPlan", obj([]string{"content", "recommendations", "token_usage"}, map[string]interface{}{
		"content":         str(),
		"recommendations": arrayOf(schemaRef("Recommendation")),
		"token_usage":     integer(),
	}))

	input := map[string]interface{}{
		"title":             str(),
		"patient":           schemaRef("Patient"),
		"menstrual_history": schemaRef("MenstrualHistory"),
		"symptoms":          arrayOf(schemaRef("Symptom")),
		"health_history":    schemaRef("HealthHistory"),
		"lifestyle":         schemaRef("Lifestyle"),
		"exams":             arrayOf(schemaRef("Exam")),
		"tcm_observations":  schemaRef("TCMObservations"),
		"timeline":          arrayOf(schemaRef("TimelineEvent")),
		"ifm_matrix":        schemaRef("IFMMatrix"),
	}
	g.Schema("PlanInput", obj([]string{"title"}, input))

	full := make(map[string]interface{}, len(input)+10)
	for k, v := range input {
		full[k] = v
	}
	full["id"] = strf("uuid")
	full["status"] = map[string]interface{}{"type": "string", "enum": []string{"draft", "generating", "completed", "error"}}
	full["final_plan"] = schemaRef("FinalPlan")
	full["generation_started_at"] = strf("date-time")
	full["generation_completed_at"] = strf("date-time")
	full["generation_error"] = str()
	full["created_by"] = str()
	full["company_id"] = strf("uuid")
	full["created_at"] = strf("date-time")
	full["updated_at"] = strf("date-time")
	g.Schema("Plan", obj([]string{"id", "title", "status", "company_id"}, full))
	g.Schema("PlanList", listOf("Plan"))
	g.Schema("FileURL", obj([]string{"url", "expires_in"}, map[string]interface{}{
		"url": strf("uri"), "expires_in": integer(),
	}))

	g.Schema("CompanyInput", obj([]string{"name"}, map[string]interface{}{
		"name": str(), "active": map[string]interface{}{"type": "boolean"}, "token_limit": integer(),
	}))
	g.Schema("Company", obj([]string{"id", "name", "active", "token_limit", "tokens_used"}, map[string]interface{}{
		"id": strf("uuid"), "name": str(), "active": map[string]interface{}{"type": "boolean"},
		"token_limit": integer(), "tokens_used": integer(),
		"created_at": strf("date-time"), "updated_at": strf("date-time"),
	}))
	g.Schema("CompanyList", listOf("Company"))
	g.Schema("Usage", obj(nil, map[string]interface{}{
		"company_id": strf("uuid"), "active": map[string]interface{}{"type": "boolean"},
		"token_limit": integer(), "tokens_used": integer(), "remaining": integer(), "percent_used": number(),
	}))
	return g
}
