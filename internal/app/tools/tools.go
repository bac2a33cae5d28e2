package tools

import (
	"context"
	"encoding/json"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

// ToolContext brings metadata of the call to the tool
type ToolContext struct {
	UserID   domain.UserID
	ThreadID domain.ThreadID
	RunID    domain.RunID
	CallID   string
}

// Tool represents a function the remote run can ask us to compute.
// args is the raw JSON object sent by the model; the result must be JSON-serializable.
type Tool interface {
	Name() string
	Spec() domain.ToolSpec
	Call(ctx context.Context, tctx ToolContext, args json.RawMessage) (any, error)
}

// Error is a tool failure that is reported back to the model instead of aborting the run.
// Kind is one of the domain sentinels so callers can classify it with errors.Is.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

func invalidArgument(msg string) error { return &Error{Kind: domain.ErrInvalidArgument, Msg: msg} }
func notFound(msg string) error        { return &Error{Kind: domain.ErrNotFound, Msg: msg} }
