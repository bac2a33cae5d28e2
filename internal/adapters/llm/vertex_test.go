package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/PabloGalante/finadvisor/internal/app/tools"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

func TestToFunctionDeclarations(t *testing.T) {
	specs := tools.NewDispatcher(tools.NewFinancialDataTool(nil)).Specs()

	decls, err := toFunctionDeclarations(specs)
	require.NoError(t, err)
	require.Len(t, decls, 1)

	params := decls[0].Parameters
	require.Equal(t, genai.TypeObject, params.Type)
	require.Equal(t, []string{"type", "period"}, params.PropertyOrdering)
	require.Equal(t, []string{"type"}, params.Required)
	require.Equal(t, genai.TypeString, params.Properties["type"].Type)
	require.Equal(t, []string{"revenue", "expenses"}, params.Properties["type"].Enum)
	require.Equal(t, []string{"march", "april", "forecast"}, params.Properties["period"].Enum)
}

func TestToGenaiContents(t *testing.T) {
	history := []domain.Exchange{
		{Role: domain.RoleUser, Text: "Revenue?"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "get_financial_data", Arguments: json.RawMessage(`{"type":"revenue"}`)}}},
		{Role: domain.RoleUser, ToolResults: []domain.ToolResult{{CallID: "c1", Name: "get_financial_data", Output: `{"march":50000}`}}},
		{Role: domain.RoleAssistant, Text: "It was 50,000."},
	}

	contents, err := toGenaiContents(history)
	require.NoError(t, err)
	require.Len(t, contents, 4)

	require.Equal(t, string(genai.RoleModel), contents[1].Role)
	require.Equal(t, "revenue", contents[1].Parts[0].FunctionCall.Args["type"])

	resp := contents[2].Parts[0].FunctionResponse
	require.Equal(t, "get_financial_data", resp.Name)
	require.Equal(t, map[string]any{"march": float64(50000)}, resp.Response["output"])

	require.Equal(t, string(genai.RoleModel), contents[3].Role)

	_, err = toGenaiContents([]domain.Exchange{{ToolCalls: []domain.ToolCall{{Name: "x", Arguments: json.RawMessage(`[`)}}}})
	require.Error(t, err)
}

func TestFromGenaiResponse(t *testing.T) {
	calls := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{
			{FunctionCall: &genai.FunctionCall{Name: "get_financial_data", Args: map[string]any{"type": "expenses"}}},
		}},
	}}}

	out, err := fromGenaiResponse(calls)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	require.NotEmpty(t, out.ToolCalls[0].ID)
	require.JSONEq(t, `{"type":"expenses"}`, string(out.ToolCalls[0].Arguments))

	text := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromText("## Summary", genai.RoleModel),
	}}}
	out, err = fromGenaiResponse(text)
	require.NoError(t, err)
	require.Equal(t, "## Summary", out.Text)

	_, err = fromGenaiResponse(&genai.GenerateContentResponse{})
	require.Error(t, err)
}
