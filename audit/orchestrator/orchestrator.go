// Package orchestrator accepts audit run requests and supervises their
// asynchronous execution. Job state has a single writer, the execution
// goroutine of the job, and any number of readers through Status.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-audit-server/audit"
	"github.com/jrsteele09/go-audit-server/audit/jobs"
	"github.com/jrsteele09/go-audit-server/audit/runner"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	defaultJobTimeout = 10 * time.Minute
	defaultRetention  = time.Hour
	storeTimeout      = 5 * time.Second
	finalWriteRetries = 3
	maxRunningPercent = 99
)

var (
	ErrMissingProject  = errors.New("projectId is required")
	ErrInvalidCategory = errors.New("invalid audit category")
	ErrShuttingDown    = errors.New("audit orchestrator is shutting down")
	// ErrNotRunningHere is returned for a running job owned by another instance
	ErrNotRunningHere = errors.New("audit job is not running on this instance")
	ErrNotFound       = jobs.ErrNotFound
	ErrFinished       = jobs.ErrTerminal

	errJobTimeout   = errors.New("audit job timed out")
	errJobCancelled = errors.New("audit job cancelled")
)

// Submission is a validated-by-Submit request to run an audit.
type Submission struct {
	ProjectID   string
	Category    string
	UserID      string
	TokenSource oauth2.TokenSource
}

type Orchestrator struct {
	repo      jobs.Repo
	runner    runner.Runner
	timeout   time.Duration
	retention time.Duration
	parallel  bool
	nowTime   func() time.Time
	metrics   *metrics

	baseCtx context.Context
	stop    context.CancelCauseFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	active map[string]*execution
}

// execution is the in-process handle of a running job.
type execution struct {
	cancel      context.CancelCauseFunc
	latest      *audit.Job
	subscribers map[chan *audit.Job]struct{}
}

type Option func(*Orchestrator)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(o *Orchestrator) {
		o.nowTime = nowFunc
	}
}

// WithJobTimeout bounds the execution time of every job.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetention sets how long finished jobs are kept after completion.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithParallelFanOut runs the categories of "all" concurrently instead of in order.
func WithParallelFanOut(parallel bool) Option {
	return func(o *Orchestrator) {
		o.parallel = parallel
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) {
		o.metrics = newMetrics(reg)
	}
}

func New(repo jobs.Repo, r runner.Runner, options ...Option) (*Orchestrator, error) {
	if repo == nil {
		return nil, errors.New("[orchestrator New] jobs repo is required")
	}
	if r == nil {
		return nil, errors.New("[orchestrator New] runner is required")
	}

	baseCtx, stop := context.WithCancelCause(context.Background())
	o := &Orchestrator{
		repo:      repo,
		runner:    r,
		timeout:   defaultJobTimeout,
		retention: defaultRetention,
		nowTime:   time.Now,
		baseCtx:   baseCtx,
		stop:      stop,
		active:    make(map[string]*execution),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = newMetrics(nil)
	}
	return o, nil
}

// Submit validates the request, stores a new running job and starts it in
// the background. It returns as soon as the job is stored.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (string, error) {
	projectID := strings.TrimSpace(sub.ProjectID)
	if projectID == "" {
		return "", ErrMissingProject
	}
	category, err := audit.ParseCategory(sub.Category)
	if err != nil {
		return "", errors.Wrap(ErrInvalidCategory, err.Error())
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()

	job := audit.NewJob(uuid.New().String(), projectID, sub.UserID, category, o.nowTime())
	if err := o.repo.Create(ctx, job); err != nil {
		o.wg.Done()
		return "", errors.Wrap(err, "[Orchestrator Submit] failed to create job")
	}

	// Detached from the request: the job outlives it
	jobCtx, cancel := context.WithCancelCause(o.baseCtx)
	runCtx, cancelTimeout := context.WithTimeoutCause(jobCtx, o.timeout, errJobTimeout)
	exec := &execution{
		cancel:      cancel,
		latest:      job.Clone(),
		subscribers: make(map[chan *audit.Job]struct{}),
	}

	o.mu.Lock()
	o.active[job.ID] = exec
	o.mu.Unlock()

	o.metrics.submitted.WithLabelValues(category.String()).Inc()
	o.metrics.running.Inc()
	log.Info().Str("job_id", job.ID).Str("category", category.String()).Str("project_id", projectID).
		Str("user_id", sub.UserID).Msg("Audit job submitted")

	go func() {
		defer o.wg.Done()
		defer cancel(nil)
		defer cancelTimeout()
		o.execute(runCtx, job, sub.TokenSource)
	}()

	return job.ID, nil
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(ctx context.Context, id string) (*audit.Job, error) {
	return o.repo.Get(ctx, id)
}

// Cancel stops a running job. The job ends in error with errorType cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	exec, ok := o.active[id]
	o.mu.Unlock()
	if ok {
		exec.cancel(errJobCancelled)
		return nil
	}

	job, err := o.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrFinished
	}
	return ErrNotRunningHere
}

// Subscribe returns a channel carrying the latest snapshot of a job. Only the
// most recent snapshot is buffered; the channel receives the terminal snapshot
// and is then closed. The returned function releases the subscription.
func (o *Orchestrator) Subscribe(ctx context.Context, id string) (<-chan *audit.Job, func(), error) {
	o.mu.Lock()
	if exec, ok := o.active[id]; ok {
		ch := make(chan *audit.Job, 1)
		ch <- exec.latest.Clone()
		exec.subscribers[ch] = struct{}{}
		o.mu.Unlock()

		return ch, func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if _, ok := exec.subscribers[ch]; ok {
				delete(exec.subscribers, ch)
				close(ch)
			}
		}, nil
	}
	o.mu.Unlock()

	job, err := o.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !job.Status.Terminal() {
		return nil, nil, ErrNotRunningHere
	}
	ch := make(chan *audit.Job, 1)
	ch <- job
	close(ch)
	return ch, func() {}, nil
}

// Await blocks until the job is terminal or ctx is done and returns the last
// snapshot seen.
func (o *Orchestrator) Await(ctx context.Context, id string) (*audit.Job, error) {
	updates, release, err := o.Subscribe(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var last *audit.Job
	for {
		select {
		case job, ok := <-updates:
			if !ok {
				return last, nil
			}
			last = job
			if job.Status.Terminal() {
				return job, nil
			}
		case <-ctx.Done():
			return last, nil
		}
	}
}

// Sweep removes finished jobs whose retention has elapsed.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	removed, err := o.repo.DeleteFinishedBefore(ctx, o.nowTime().Add(-o.retention))
	if err != nil {
		return 0, errors.Wrap(err, "[Orchestrator Sweep] failed to delete finished jobs")
	}
	return removed, nil
}

// RunJanitor sweeps every interval until ctx is done.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := o.Sweep(ctx)
			if err != nil {
				log.Err(err).Msg("Audit job janitor failed")
				continue
			}
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("Removed expired audit jobs")
			}
		}
	}
}

// Shutdown stops accepting jobs, cancels running ones and waits for them to
// record their final state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.stop(ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "[Orchestrator Shutdown] jobs still running")
	}
}

// execute is the only writer of job once Submit has stored it.
func (o *Orchestrator) execute(ctx context.Context, job *audit.Job, ts oauth2.TokenSource) {
	categories := job.Category.Expand()
	w := &jobWriter{o: o, job: job, parts: make([]int, len(categories))}

	var (
		result *audit.Result
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = panicFailure(job.ID, r)
			}
		}()
		if o.parallel && len(categories) > 1 {
			result, err = o.runParallel(ctx, w, categories, ts)
		} else {
			result, err = o.runSequential(ctx, w, categories, ts)
		}
	}()

	if err != nil {
		w.fail(o.classify(ctx, err))
		return
	}
	w.complete(result)
}

func (o *Orchestrator) runSequential(ctx context.Context, w *jobWriter, categories []audit.Category, ts oauth2.TokenSource) (*audit.Result, error) {
	results := make([]*audit.Result, 0, len(categories))
	for i, c := range categories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := o.runOne(ctx, w, i, c, ts)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return o.combine(w.job, results), nil
}

func (o *Orchestrator) runParallel(ctx context.Context, w *jobWriter, categories []audit.Category, ts oauth2.TokenSource) (*audit.Result, error) {
	results := make([]*audit.Result, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range categories {
		g.Go(func() error {
			res, err := o.runOne(gctx, w, i, c, ts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return o.combine(w.job, results), nil
}

// runOne runs a single category and recovers a panicking runner.
func (o *Orchestrator) runOne(ctx context.Context, w *jobWriter, index int, c audit.Category, ts oauth2.TokenSource) (res *audit.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicFailure(w.job.ID, r)
		}
	}()

	fanOut := len(w.parts) > 1
	res, err = o.runner.Run(ctx, runner.Request{
		Category:    c,
		ProjectID:   w.job.ProjectID,
		TokenSource: ts,
		Progress: func(progress int, step string) {
			if fanOut {
				step = fmt.Sprintf("[%s] %s", c, step)
			}
			w.progress(index, progress, step)
		},
	})
	if err != nil {
		if !fanOut {
			return nil, err
		}
		f := runner.AsFailure(err)
		return nil, &runner.Failure{Type: f.Type, Message: fmt.Sprintf("%s: %s", c, f.Message), Err: f.Err}
	}
	if res == nil {
		return nil, &runner.Failure{Type: audit.ErrorTypeInternal, Message: fmt.Sprintf("%s audit returned no result", c)}
	}
	w.progress(index, 100, fmt.Sprintf("Finished %s audit", c))
	return res, nil
}

func (o *Orchestrator) combine(job *audit.Job, results []*audit.Result) *audit.Result {
	if len(results) == 1 && job.Category != audit.CategoryAll {
		return results[0]
	}
	return audit.Combine(job.ProjectID, job.Category, results)
}

// classify turns an execution error into a display-safe failure. The job
// context cause takes precedence so that runner errors caused by a timeout
// or a cancel are reported as such.
func (o *Orchestrator) classify(ctx context.Context, err error) *runner.Failure {
	if ctx.Err() != nil {
		switch cause := context.Cause(ctx); {
		case errors.Is(cause, errJobTimeout):
			return &runner.Failure{Type: audit.ErrorTypeTimeout, Message: fmt.Sprintf("audit timed out after %s", o.timeout), Err: err}
		case errors.Is(cause, errJobCancelled):
			return &runner.Failure{Type: audit.ErrorTypeCancelled, Message: "audit was cancelled", Err: err}
		case errors.Is(cause, ErrShuttingDown):
			return &runner.Failure{Type: audit.ErrorTypeCancelled, Message: "audit was cancelled because the server is shutting down", Err: err}
		}
	}
	return runner.AsFailure(err)
}

func panicFailure(jobID string, r any) *runner.Failure {
	log.Error().Str("job_id", jobID).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Audit job panicked")
	return &runner.Failure{
		Type:    audit.ErrorTypeInternal,
		Message: "internal error while running audit",
		Err:     fmt.Errorf("panic: %v", r),
	}
}

// storeCtx is used for job writes, which must outlive a cancelled job.
func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// publish records the latest snapshot and hands it to subscribers. The
// buffer holds one snapshot, so a slow subscriber only misses intermediate
// states.
func (o *Orchestrator) publish(id string, snapshot *audit.Job, final bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	exec, ok := o.active[id]
	if !ok {
		return
	}
	exec.latest = snapshot
	for ch := range exec.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot.Clone()
		if final {
			close(ch)
			delete(exec.subscribers, ch)
		}
	}
	if final {
		delete(o.active, id)
	}
}
