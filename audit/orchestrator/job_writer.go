package orchestrator

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-audit-server/audit"
	"github.com/jrsteele09/go-audit-server/audit/runner"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// jobWriter owns the working copy of a job. Progress callbacks of a parallel
// fan-out arrive from several goroutines and are serialised here, store write
// included, so the stored progress never goes backwards.
type jobWriter struct {
	mu    sync.Mutex
	o     *Orchestrator
	job   *audit.Job
	parts []int // progress per fanned-out category
	done  bool
}

// progress folds a category's progress into the job's overall progress.
// Overall progress never decreases and stays below 100 until completion.
func (w *jobWriter) progress(index, pct int, step string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	w.parts[index] = max(w.parts[index], min(max(pct, 0), 100))
	total := 0
	for _, p := range w.parts {
		total += p
	}
	overall := min(total/len(w.parts), maxRunningPercent)
	w.job.Progress = max(w.job.Progress, overall)
	if step != "" {
		w.job.CurrentStep = step
	}
	snapshot := w.job.Clone()

	ctx, cancel := storeCtx()
	defer cancel()
	if err := w.o.repo.Update(ctx, snapshot); err != nil {
		log.Err(err).Str("job_id", snapshot.ID).Msg("Failed to record audit progress")
		return
	}
	w.o.publish(snapshot.ID, snapshot, false)
}

func (w *jobWriter) complete(result *audit.Result) {
	w.finish(func(job *audit.Job) {
		job.Status = audit.StatusCompleted
		job.Progress = 100
		job.CurrentStep = "Audit complete"
		job.Result = result
	})
}

func (w *jobWriter) fail(f *runner.Failure) {
	w.finish(func(job *audit.Job) {
		job.Status = audit.StatusError
		job.CurrentStep = "Audit failed"
		job.Error = f.Message
		job.ErrorType = f.Type
	})
	log.Warn().Err(f).Str("job_id", w.job.ID).Str("category", w.job.Category.String()).
		Str("error_type", string(f.Type)).Msg("Audit job failed")
}

// finish writes the terminal state, retrying transient store errors.
func (w *jobWriter) finish(apply func(job *audit.Job)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	now := w.o.nowTime()
	apply(w.job)
	w.job.CompletedAt = &now
	final := w.job.Clone()

	var err error
	for attempt := 0; attempt < finalWriteRetries; attempt++ {
		ctx, cancel := storeCtx()
		err = w.o.repo.Update(ctx, final)
		cancel()
		if err == nil || errors.Is(err, ErrFinished) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	if err != nil {
		log.Err(err).Str("job_id", final.ID).Msg("Failed to record final audit job state")
	}

	w.o.publish(final.ID, final, true)

	w.o.metrics.running.Dec()
	w.o.metrics.finished.WithLabelValues(final.Category.String(), string(final.Status), string(final.ErrorType)).Inc()
	w.o.metrics.duration.WithLabelValues(final.Category.String(), string(final.Status)).
		Observe(final.CompletedAt.Sub(final.StartedAt).Seconds())

	if final.Status == audit.StatusCompleted {
		log.Info().Str("job_id", final.ID).Str("category", final.Category.String()).
			Str("project_id", final.ProjectID).Msg("Audit job completed")
	}
}
