package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/finadvisor/internal/adapters/llm"
	"github.com/PabloGalante/finadvisor/internal/app/tools"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

func TestMockLLMRequestsDataThenSummarizes(t *testing.T) {
	ctx := context.Background()
	m := llm.NewMockLLM()
	dispatcher := tools.NewDispatcher(tools.NewFinancialDataTool(nil))

	history := []domain.Exchange{{Role: domain.RoleUser, Text: "How are we doing?"}}

	first, err := m.Step(ctx, domain.StepRequest{History: history, Tools: dispatcher.Specs()})
	require.NoError(t, err)
	require.Empty(t, first.Text)
	require.Len(t, first.ToolCalls, 2)

	results := dispatcher.Dispatch(ctx, tools.ToolContext{}, first.ToolCalls)
	history = append(history,
		domain.Exchange{Role: domain.RoleAssistant, ToolCalls: first.ToolCalls},
		domain.Exchange{Role: domain.RoleUser, ToolResults: results},
	)

	second, err := m.Step(ctx, domain.StepRequest{History: history, Tools: dispatcher.Specs()})
	require.NoError(t, err)
	require.Empty(t, second.ToolCalls)
	require.Contains(t, second.Text, "## Financial summary")
	require.Contains(t, second.Text, "**revenue**: march 50,000; april 60,000; forecast 55,000;")
	require.Contains(t, second.Text, "**expenses**: march 20,000; april 25,000; forecast 23,000;")
}

func TestMockLLMWithoutTools(t *testing.T) {
	out, err := llm.NewMockLLM().Step(context.Background(), domain.StepRequest{
		History: []domain.Exchange{{Role: domain.RoleUser, Text: "hi"}},
	})
	require.NoError(t, err)
	require.Contains(t, out.Text, `"hi"`)

	_, err = llm.NewMockLLM().Step(context.Background(), domain.StepRequest{})
	require.Error(t, err)
}

func TestAdvisorAssistant(t *testing.T) {
	a := llm.AdvisorAssistant("")
	require.Equal(t, "Financial Advisor", a.Name)
	require.Equal(t, llm.DefaultModel, a.Model)
	require.Contains(t, a.Instructions, "markdown")

	require.Equal(t, "gpt-4o", llm.AdvisorAssistant("gpt-4o").Model)
}
