package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/womenshealth/planner/internal/platform/prompt"
)

// Mock is an in-process Client. Handler decides the answer for each call;
// every request is recorded.
type Mock struct {
	Handler func(req Request) (*Response, error)

	mu    sync.Mutex
	calls []Request
}

func (m *Mock) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Handler == nil {
		return &Response{Content: "ok", Model: "mock"}, nil
	}
	return m.Handler(req)
}

// Calls returns a copy of the recorded requests.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the recorded requests with the given label.
func (m *Mock) CallsFor(label string) []Request {
	var out []Request
	for _, c := range m.Calls() {
		if c.Label == label {
			out = append(out, c)
		}
	}
	return out
}

// NewStub answers analyses with a short sentence and the final plan with a
// canned document that carries every section heading. Used when
// LLM_PROVIDER=mock in development.
func NewStub() *Mock {
	return &Mock{Handler: func(req Request) (*Response, error) {
		if req.Label != string(prompt.FinalPlan) {
			return &Response{Content: fmt.Sprintf("Análise simulada (%s).", req.Label), Model: "mock"}, nil
		}
		var b strings.Builder
		for _, h := range prompt.PlanHeadings {
			fmt.Fprintf(&b, "%s\n%s\n\n", h, "Conteúdo simulado para desenvolvimento local.")
		}
		return &Response{Content: strings.TrimSpace(b.String()), Model: "mock"}, nil
	}}
}
