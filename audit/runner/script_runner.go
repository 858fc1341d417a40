package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-audit-server/audit"
	"github.com/rs/zerolog/log"
)

const (
	progressPrefix    = "PROGRESS "
	stderrTailSize    = 4096
	maxStdoutLineSize = 1 << 20
	scriptWaitDelay   = 2 * time.Second
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_:.-]*$`)

// scriptName is the file (without extension) implementing a category.
func scriptName(c audit.Category) (string, error) {
	switch c {
	case audit.CategoryStorage:
		return "storage_audit", nil
	case audit.CategoryCompute:
		return "compute_audit", nil
	case audit.CategoryNetwork:
		return "network_audit", nil
	case audit.CategoryIAM:
		return "iam_audit", nil
	case audit.CategoryAll:
		return "", fmt.Errorf("category all has no script")
	}
	return "", fmt.Errorf("%w: %q", audit.ErrUnknownCategory, c)
}

// scriptOutput is the JSON document a script writes to its --output path.
type scriptOutput struct {
	Summary  string          `json:"summary"`
	Findings []audit.Finding `json:"findings"`
	Raw      json.RawMessage `json:"raw"`
}

// ScriptRunner runs "<interpreter> <script> --project <id> --output <file>".
// Scripts report progress by printing "PROGRESS <percent> <step>" lines on
// stdout. Anything written to stderr is kept for error reporting only.
type ScriptRunner struct {
	interpreter string
	scriptsDir  string
	outputDir   string
	extension   string

	// one run at a time per output artifact
	artifactLocks sync.Map
}

var _ Runner = (*ScriptRunner)(nil)

type ScriptRunnerOption func(*ScriptRunner)

// WithScriptExtension sets the file extension of the scripts (default ".py").
func WithScriptExtension(ext string) ScriptRunnerOption {
	return func(s *ScriptRunner) {
		s.extension = ext
	}
}

func NewScriptRunner(interpreter, scriptsDir, outputDir string, options ...ScriptRunnerOption) *ScriptRunner {
	s := &ScriptRunner{
		interpreter: interpreter,
		scriptsDir:  scriptsDir,
		outputDir:   outputDir,
		extension:   ".py",
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *ScriptRunner) Run(ctx context.Context, req Request) (*audit.Result, error) {
	name, err := scriptName(req.Category)
	if err != nil {
		return nil, &Failure{Type: audit.ErrorTypeInternal, Message: "no audit script for category", Err: err}
	}
	if !projectIDPattern.MatchString(req.ProjectID) || strings.Contains(req.ProjectID, "..") {
		return nil, scriptFailure("invalid project id", fmt.Errorf("project id %q", req.ProjectID))
	}

	scriptPath := filepath.Join(s.scriptsDir, name+s.extension)
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, scriptFailure(fmt.Sprintf("%s audit script is not installed", req.Category), err)
	}
	if err := os.MkdirAll(s.outputDir, 0o750); err != nil {
		return nil, &Failure{Type: audit.ErrorTypeInternal, Message: "audit output directory is not writable", Err: err}
	}

	output := filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.json", req.Category, req.ProjectID))
	lock, _ := s.artifactLocks.LoadOrStore(output, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	// A leftover artifact must never be read as the result of this run
	if err := os.Remove(output); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &Failure{Type: audit.ErrorTypeInternal, Message: "failed to clear previous audit output", Err: err}
	}

	cmd := exec.CommandContext(ctx, s.interpreter, scriptPath, "--project", req.ProjectID, "--output", output)
	cmd.Env = append(os.Environ(), "AUDIT_PROJECT_ID="+req.ProjectID)
	cmd.WaitDelay = scriptWaitDelay
	if req.TokenSource != nil {
		tok, err := req.TokenSource.Token()
		if err != nil {
			return nil, apiFailure("could not obtain cloud credentials", err)
		}
		cmd.Env = append(cmd.Env, "CLOUDSDK_AUTH_ACCESS_TOKEN="+tok.AccessToken)
	}

	stderr := newTailBuffer(stderrTailSize)
	cmd.Stderr = stderr
	// Wait closes the script's stdout after WaitDelay even if a child process keeps it open
	stdout, stdoutWriter := io.Pipe()
	cmd.Stdout = stdoutWriter

	req.report(0, fmt.Sprintf("Running %s audit script", req.Category))
	if err := cmd.Start(); err != nil {
		return nil, scriptFailure(fmt.Sprintf("failed to start %s audit script", req.Category), err)
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readProgress(stdout, req)
	}()

	waitErr := cmd.Wait()
	_ = stdoutWriter.Close()
	<-readDone
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("[ScriptRunner Run] %s: %w", req.Category, ctxErr)
	}
	if waitErr != nil {
		// stderr may echo credentials from the environment, so it stays in Err
		return nil, scriptFailure(
			fmt.Sprintf("%s audit script failed (%s)", req.Category, exitStatus(waitErr)),
			fmt.Errorf("%w; stderr: %s", waitErr, stderr.String()),
		)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, scriptFailure(fmt.Sprintf("%s audit script produced no results", req.Category), err)
	}
	var out scriptOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, scriptFailure(fmt.Sprintf("%s audit script produced malformed results", req.Category), err)
	}
	if out.Findings == nil {
		out.Findings = []audit.Finding{}
	}

	req.report(100, fmt.Sprintf("Finished %s audit", req.Category))
	return &audit.Result{
		ProjectID: req.ProjectID,
		Category:  req.Category,
		Summary:   out.Summary,
		Findings:  out.Findings,
		Raw:       out.Raw,
	}, nil
}

func (s *ScriptRunner) readProgress(stdout io.Reader, req Request) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdoutLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if progress, step, ok := parseProgress(line); ok {
			req.report(progress, step)
			continue
		}
		log.Debug().Str("category", req.Category.String()).Str("project_id", req.ProjectID).Msg(line)
	}
	if err := scanner.Err(); err != nil {
		log.Err(err).Str("category", req.Category.String()).Msg("Failed to read audit script output")
		_, _ = io.Copy(io.Discard, stdout)
	}
}

// parseProgress parses "PROGRESS <percent> <step>".
func parseProgress(line string) (int, string, bool) {
	rest, ok := strings.CutPrefix(line, progressPrefix)
	if !ok {
		return 0, "", false
	}
	pct, step, _ := strings.Cut(strings.TrimSpace(rest), " ")
	n, err := strconv.Atoi(pct)
	if err != nil {
		return 0, "", false
	}
	return min(max(n, 0), 100), strings.TrimSpace(step), true
}

// exitStatus describes how the script ended without any of its output.
func exitStatus(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return fmt.Sprintf("exit status %d", exitErr.ExitCode())
	}
	return "abnormal termination"
}

// tailBuffer keeps the last size bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	size int
	buf  []byte
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.size; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
