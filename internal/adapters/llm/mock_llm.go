package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

// MockLLM is a deterministic advisor for local runs and tests: on a new question it
// asks for revenue and expenses, then summarizes whatever the tools returned.
type MockLLM struct{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) Step(_ context.Context, req domain.StepRequest) (*domain.StepResult, error) {
	if len(req.History) == 0 {
		return nil, fmt.Errorf("mock llm: empty history")
	}

	last := req.History[len(req.History)-1]
	if len(last.ToolResults) == 0 {
		if !hasTool(req.Tools, "get_financial_data") {
			return &domain.StepResult{Text: fmt.Sprintf("You asked: %q. I have no data source to answer that.", last.Text)}, nil
		}
		return &domain.StepResult{ToolCalls: []domain.ToolCall{
			{ID: fmt.Sprintf("call_%d_revenue", len(req.History)), Name: "get_financial_data", Arguments: []byte(`{"type":"revenue"}`)},
			{ID: fmt.Sprintf("call_%d_expenses", len(req.History)), Name: "get_financial_data", Arguments: []byte(`{"type":"expenses"}`)},
		}}, nil
	}

	var b strings.Builder
	b.WriteString("## Financial summary\n\n")
	for _, res := range last.ToolResults {
		kind := res.CallID[strings.LastIndex(res.CallID, "_")+1:]
		out := gjson.Parse(res.Output)

		if e := out.Get("error"); e.Exists() {
			fmt.Fprintf(&b, "- **%s**: unavailable (%s)\n", kind, e.String())
			continue
		}
		if !out.IsObject() {
			fmt.Fprintf(&b, "- **%s**: %s\n", kind, out.Raw)
			continue
		}

		fmt.Fprintf(&b, "- **%s**:", kind)
		for _, period := range []string{"march", "april", "forecast"} {
			if v := out.Get(period); v.Exists() {
				fmt.Fprintf(&b, " %s %s;", period, thousands(v.Int()))
			}
		}
		b.WriteString("\n")
	}
	return &domain.StepResult{Text: strings.TrimSpace(b.String())}, nil
}

func hasTool(specs []domain.ToolSpec, name string) bool {
	for _, s := range specs {
		if s.Name == name {
			return true
		}
	}
	return false
}

func thousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
