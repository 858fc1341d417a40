// Package runner executes the unit of work behind one audit category, either
// an external analysis script or a sequence of cloud API calls.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-audit-server/audit"
	"golang.org/x/oauth2"
)

// ProgressFunc receives a percentage (0..100) of the current run and a step label.
type ProgressFunc func(progress int, step string)

type Request struct {
	Category    audit.Category
	ProjectID   string
	TokenSource oauth2.TokenSource
	Progress    ProgressFunc
}

func (r Request) report(progress int, step string) {
	if r.Progress != nil {
		r.Progress(progress, step)
	}
}

// Runner runs one concrete category. Returned errors should be *Failure.
type Runner interface {
	Run(ctx context.Context, req Request) (*audit.Result, error)
}

// Failure is a classified run failure. Message is safe to show to users;
// Err keeps the diagnostic detail for logs only.
type Failure struct {
	Type    audit.ErrorType
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Message, f.Err)
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func scriptFailure(msg string, err error) *Failure {
	return &Failure{Type: audit.ErrorTypeScript, Message: msg, Err: err}
}

func apiFailure(msg string, err error) *Failure {
	return &Failure{Type: audit.ErrorTypeProviderAPI, Message: msg, Err: err}
}

// AsFailure classifies err. Context errors map to timeout and cancelled,
// anything unclassified to internal_error.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Type: audit.ErrorTypeTimeout, Message: "audit timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Failure{Type: audit.ErrorTypeCancelled, Message: "audit was cancelled", Err: err}
	}
	return &Failure{Type: audit.ErrorTypeInternal, Message: "internal error while running audit", Err: err}
}

// Dispatcher routes each category to the runner that implements it.
type Dispatcher struct {
	scripts Runner
	api     Runner
}

var _ Runner = (*Dispatcher)(nil)

func NewDispatcher(scripts, api Runner) *Dispatcher {
	return &Dispatcher{scripts: scripts, api: api}
}

func (d *Dispatcher) Run(ctx context.Context, req Request) (*audit.Result, error) {
	switch req.Category {
	case audit.CategoryStorage, audit.CategoryCompute:
		return d.api.Run(ctx, req)
	case audit.CategoryNetwork, audit.CategoryIAM:
		return d.scripts.Run(ctx, req)
	case audit.CategoryAll:
		return nil, &Failure{Type: audit.ErrorTypeInternal, Message: "category all must be expanded before dispatch"}
	}
	return nil, &Failure{Type: audit.ErrorTypeInternal, Message: fmt.Sprintf("no runner for category %q", req.Category)}
}
