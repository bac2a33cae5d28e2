package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/PabloGalante/finadvisor/internal/domain"
	"github.com/PabloGalante/finadvisor/internal/observability"
)

// Dispatcher routes named function calls to registered tools.
// Tools never see each other's failures: every call produces its own result.
type Dispatcher struct {
	tools map[string]Tool
	order []string
}

func NewDispatcher(ts ...Tool) *Dispatcher {
	d := &Dispatcher{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		if _, dup := d.tools[t.Name()]; !dup {
			d.order = append(d.order, t.Name())
		}
		d.tools[t.Name()] = t
	}
	return d
}

// Specs lists the registered tools in registration order.
func (d *Dispatcher) Specs() []domain.ToolSpec {
	out := make([]domain.ToolSpec, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tools[name].Spec())
	}
	return out
}

// Invoke runs one tool and returns its value or a *Error.
func (d *Dispatcher) Invoke(ctx context.Context, tctx ToolContext, name string, args json.RawMessage) (out any, err error) {
	t, ok := d.tools[name]
	if !ok {
		return nil, notFound(fmt.Sprintf("unknown function: %s", name))
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%s panicked: %v", name, r)
		}
	}()

	return t.Call(ctx, tctx, args)
}

// Dispatch services every pending call independently and returns one result per call,
// in the same order. Failures become error payloads the model can read.
func (d *Dispatcher) Dispatch(ctx context.Context, tctx ToolContext, calls []domain.ToolCall) []domain.ToolResult {
	log := observability.LoggerFromContext(ctx).With(
		"thread_id", tctx.ThreadID,
		"run_id", tctx.RunID,
	)

	results := make([]domain.ToolResult, 0, len(calls))
	for _, call := range calls {
		callCtx := tctx
		callCtx.CallID = call.ID

		var output string
		v, err := d.Invoke(ctx, callCtx, call.Name, call.Arguments)
		if err == nil {
			raw, merr := json.Marshal(v)
			if merr != nil {
				err = fmt.Errorf("encoding %s result: %w", call.Name, merr)
			} else {
				output = string(raw)
			}
		}

		if err != nil {
			log.Warn("tool call failed", "function", call.Name, "call_id", call.ID, "error", err)
			observability.ToolCalls.WithLabelValues(call.Name, "error").Inc()
			output = ErrorPayload(err)
		} else {
			log.Info("tool call served", "function", call.Name, "call_id", call.ID)
			observability.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
		}

		results = append(results, domain.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Output: output,
		})
	}
	return results
}

// ErrorPayload renders err as {"error": "...", "code": "..."}.
func ErrorPayload(err error) string {
	out, _ := sjson.Set("", "error", err.Error())
	out, _ = sjson.Set(out, "code", ErrorCode(err))
	return out
}

// ErrorCode classifies err for the error payload.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
