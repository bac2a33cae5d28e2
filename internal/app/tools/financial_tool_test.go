package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/finadvisor/internal/app/tools"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

func call(t *testing.T, args string) (any, error) {
	t.Helper()
	tool := tools.NewFinancialDataTool(nil)
	return tool.Call(context.Background(), tools.ToolContext{}, json.RawMessage(args))
}

func TestFinancialData_FullSeries(t *testing.T) {
	v, err := call(t, `{"type":"revenue"}`)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"march": 50000, "april": 60000, "forecast": 55000}, v)
}

func TestFinancialData_SinglePeriod(t *testing.T) {
	v, err := call(t, `{"type":"revenue","period":"march"}`)
	require.NoError(t, err)
	require.Equal(t, int64(50000), v)

	v, err = call(t, `{"type":"expenses","period":"forecast"}`)
	require.NoError(t, err)
	require.Equal(t, int64(23000), v)
}

func TestFinancialData_NullPeriodMeansWholeSeries(t *testing.T) {
	v, err := call(t, `{"type":"expenses","period":null}`)
	require.NoError(t, err)
	require.Len(t, v, 3)
}

func TestFinancialData_InvalidType(t *testing.T) {
	_, err := call(t, `{"type":"bogus"}`)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrInvalidArgument), "got %v", err)
	require.Equal(t, "invalid data type: bogus", err.Error())
}

func TestFinancialData_UnknownPeriod(t *testing.T) {
	_, err := call(t, `{"type":"revenue","period":"may"}`)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestFinancialData_MalformedArguments(t *testing.T) {
	for _, args := range []string{`not json`, `[1,2]`, `{}`, `{"type":7}`, `{"type":"revenue","period":3}`} {
		_, err := call(t, args)
		require.ErrorIs(t, err, domain.ErrInvalidArgument, "args %s", args)
	}
}

func TestFinancialData_LookupReturnsCopy(t *testing.T) {
	tool := tools.NewFinancialDataTool(nil)
	v, err := tool.Lookup("revenue", "")
	require.NoError(t, err)
	v.(map[string]int64)["march"] = 1

	again, err := tool.Lookup("revenue", "march")
	require.NoError(t, err)
	require.Equal(t, int64(50000), again)
}

func TestFinancialData_SchemaShape(t *testing.T) {
	spec := tools.NewFinancialDataTool(nil).Spec()
	require.Equal(t, "get_financial_data", spec.Name)

	s, err := tools.ParseSchema(spec.Parameters)
	require.NoError(t, err)
	require.Equal(t, "object", s.Type)
	require.Equal(t, []string{"type"}, s.Required)

	kind, ok := s.Properties.Get("type")
	require.True(t, ok)
	require.ElementsMatch(t, []any{"revenue", "expenses"}, kind.Enum)

	period, ok := s.Properties.Get("period")
	require.True(t, ok)
	require.ElementsMatch(t, []any{"march", "april", "forecast"}, period.Enum)
}
