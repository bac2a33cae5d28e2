package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

const FinancialDataToolName = "get_financial_data"

// FinancialDataInput documents the arguments of get_financial_data.
type FinancialDataInput struct {
	Type   string `json:"type" jsonschema:"enum=revenue,enum=expenses" jsonschema_description:"Type of financial data to retrieve"`
	Period string `json:"period,omitempty" jsonschema:"enum=march,enum=april,enum=forecast" jsonschema_description:"Specific time period for the data"`
}

var FinancialDataSchema = GenerateSchema[FinancialDataInput]()

// FinancialTable maps a data type to its recorded values per period.
type FinancialTable map[string]map[string]int64

// DefaultFinancialTable returns the figures the advisor reasons about.
func DefaultFinancialTable() FinancialTable {
	return FinancialTable{
		"revenue": {
			"march":    50000,
			"april":    60000,
			"forecast": 55000,
		},
		"expenses": {
			"march":    20000,
			"april":    25000,
			"forecast": 23000,
		},
	}
}

// FinancialDataTool answers get_financial_data from a fixed table.
// It is read-only and safe for concurrent calls.
type FinancialDataTool struct {
	table FinancialTable
}

func NewFinancialDataTool(table FinancialTable) *FinancialDataTool {
	if table == nil {
		table = DefaultFinancialTable()
	}
	return &FinancialDataTool{table: table}
}

func (t *FinancialDataTool) Name() string {
	return FinancialDataToolName
}

func (t *FinancialDataTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        FinancialDataToolName,
		Description: "Retrieve financial data for analysis",
		Parameters:  FinancialDataSchema,
	}
}

// Call expects an input with this shape:
//
//	{"type": "revenue", "period": "march"}
//
// period is optional; without it the whole series for type is returned.
func (t *FinancialDataTool) Call(ctx context.Context, tctx ToolContext, args json.RawMessage) (any, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !gjson.ValidBytes(args) || !gjson.ParseBytes(args).IsObject() {
		return nil, invalidArgument("arguments must be a JSON object")
	}

	kind := gjson.GetBytes(args, "type")
	if kind.Type != gjson.String {
		return nil, invalidArgument("type is required")
	}

	var period string
	if p := gjson.GetBytes(args, "period"); p.Exists() && p.Type != gjson.Null {
		if p.Type != gjson.String {
			return nil, invalidArgument("period must be a string")
		}
		period = p.String()
	}

	return t.Lookup(kind.String(), period)
}

// Lookup returns a single value when period is set, or the whole series otherwise.
func (t *FinancialDataTool) Lookup(kind, period string) (any, error) {
	series, ok := t.table[kind]
	if !ok {
		return nil, invalidArgument(fmt.Sprintf("invalid data type: %s", kind))
	}

	if period == "" {
		out := make(map[string]int64, len(series))
		for k, v := range series {
			out[k] = v
		}
		return out, nil
	}

	v, ok := series[period]
	if !ok {
		return nil, notFound(fmt.Sprintf("data not available for period: %s", period))
	}
	return v, nil
}
