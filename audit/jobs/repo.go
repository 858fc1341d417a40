// Package jobs stores audit jobs. The orchestrator is the only writer.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-audit-server/audit"
	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
)

var (
	ErrNotFound = fmt.Errorf("job %w", apperrors.ErrNotFound)
	// ErrTerminal is returned when a write targets a job that already finished
	ErrTerminal = errors.New("job already finished")
)

type Repo interface {
	Create(ctx context.Context, job *audit.Job) error
	Get(ctx context.Context, id string) (*audit.Job, error)
	// Update replaces a running job. A job in a terminal state is never overwritten.
	Update(ctx context.Context, job *audit.Job) error
	// DeleteFinishedBefore removes terminal jobs completed before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
