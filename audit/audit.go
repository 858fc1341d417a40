// Package audit holds the job and result types shared by the runner,
// the orchestrator and the HTTP layer.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category is a closed set of audit categories. Dispatch on it must use an
// exhaustive switch so that adding a category breaks the build at every site.
type Category string

const (
	CategoryStorage Category = "storage"
	CategoryCompute Category = "compute"
	CategoryNetwork Category = "network"
	CategoryIAM     Category = "iam"
	CategoryAll     Category = "all"
)

var ErrUnknownCategory = errors.New("unknown audit category")

// Categories returns every concrete category in fan-out order.
func Categories() []Category {
	return []Category{CategoryStorage, CategoryCompute, CategoryNetwork, CategoryIAM}
}

// ParseCategory accepts a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryStorage, CategoryCompute, CategoryNetwork, CategoryIAM, CategoryAll:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Expand returns the concrete categories c stands for. "all" expands to every
// category, never to just the first one.
func (c Category) Expand() []Category {
	if c == CategoryAll {
		return Categories()
	}
	return []Category{c}
}

func (c Category) String() string {
	return string(c)
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ErrorType is the coarse classification of a failed job.
type ErrorType string

const (
	ErrorTypeScript      ErrorType = "script_error"
	ErrorTypeProviderAPI ErrorType = "provider_api_error"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeCancelled   ErrorType = "cancelled"
	ErrorTypeInternal    ErrorType = "internal_error"
)

const StartingStep = "Starting audit..."

// Job is one asynchronous execution of a category against a project.
type Job struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Category    Category   `json:"category"`
	UserID      string     `json:"userId"`
	Status      Status     `json:"status"`
	CurrentStep string     `json:"currentStep"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	ErrorType   ErrorType  `json:"errorType,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      *Result    `json:"result,omitempty"`
}

// NewJob returns a job in its initial running state.
func NewJob(id, projectID, userID string, category Category, startedAt time.Time) *Job {
	return &Job{
		ID:          id,
		ProjectID:   projectID,
		Category:    category,
		UserID:      userID,
		Status:      StatusRunning,
		CurrentStep: StartingStep,
		StartedAt:   startedAt,
	}
}

// Clone returns a copy safe to hand to readers. Results are never mutated
// after they are attached, so the pointer is shared.
func (j *Job) Clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Result is the category specific output of a run. The orchestrator treats it
// as opaque.
type Result struct {
	ProjectID string          `json:"projectId"`
	Category  Category        `json:"category"`
	Summary   string          `json:"summary"`
	Findings  []Finding       `json:"findings"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Children  []*Result       `json:"children,omitempty"`
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Resource string   `json:"resource"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail,omitempty"`
}

// Combine merges per-category results of a fan-out run into one result.
func Combine(projectID string, category Category, children []*Result) *Result {
	combined := &Result{
		ProjectID: projectID,
		Category:  category,
		Findings:  []Finding{},
		Children:  children,
	}
	names := make([]string, 0, len(children))
	for _, child := range children {
		names = append(names, child.Category.String())
		combined.Findings = append(combined.Findings, child.Findings...)
	}
	combined.Summary = fmt.Sprintf("%d categories audited (%s), %d findings",
		len(children), strings.Join(names, ", "), len(combined.Findings))
	return combined
}
