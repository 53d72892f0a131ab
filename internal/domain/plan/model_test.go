package plan

import "testing"

func TestPlan_IsEditable(t *testing.T) {
	for status, want := range map[string]bool{
		StatusDraft:      true,
		StatusError:      true,
		StatusGenerating: false,
		StatusCompleted:  false,
	} {
		p := &Plan{Status: status}
		if got := p.IsEditable(); got != want {
			t.Errorf("IsEditable(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestIsEmpty(t *testing.T) {
	if !(TCMObservations{Tongue: "  "}).IsEmpty() {
		t.Error("whitespace-only observation should be empty")
	}
	if (TCMObservations{Pulse: "rápido"}).IsEmpty() {
		t.Error("expected observation to be non-empty")
	}
	if !(IFMMatrix{}).IsEmpty() {
		t.Error("zero matrix should be empty")
	}
	if (IFMMatrix{StructuralIntegrity: "escoliose"}).IsEmpty() {
		t.Error("expected matrix to be non-empty")
	}
}
