// Package engine orchestrates one code submission end-to-end: workspace
// materialization, command composition, sandbox lifecycle, output draining
// with deadline enforcement, outcome classification, and guaranteed
// teardown. Results are delivered as a typed event stream.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cloudrun-ide/internal/deps"
	"cloudrun-ide/internal/language"
	"cloudrun-ide/internal/logging"
	"cloudrun-ide/internal/metrics"
	"cloudrun-ide/internal/sandbox"
)

const (
	eventBuffer      = 128
	lineBuffer       = 256
	maxOutputBytes   = 1 << 20
	waitGraceTimeout = 5 * time.Second
	cleanupTimeout   = 30 * time.Second
)

// ContainerDriver is the subset of the sandbox driver the engine needs.
// Stop and Remove must be idempotent; Create must fail closed when the
// image cannot be ensured.
type ContainerDriver interface {
	Create(ctx context.Context, opts sandbox.CreateOptions) (string, error)
	Upload(ctx context.Context, id string, archive io.Reader, destPath string) error
	Start(ctx context.Context, id string) error
	StreamLogs(ctx context.Context, id string) (io.ReadCloser, error)
	Wait(ctx context.Context, id string) (int64, error)
	Stop(ctx context.Context, id string, grace time.Duration)
	Remove(ctx context.Context, id string)
}

// Config holds engine-level settings.
type Config struct {
	// MaxExecutionTime caps the drain phase; the install path gets 3x.
	MaxExecutionTime time.Duration

	// StopGrace is passed to the driver on forced stops.
	StopGrace time.Duration
}

// Engine executes submissions.
type Engine struct {
	registry *language.Registry
	driver   ContainerDriver
	active   *activeRegistry
	cfg      Config
	log      *zap.Logger
}

// New constructs an engine over its collaborators.
func New(registry *language.Registry, driver ContainerDriver, cfg Config) *Engine {
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = 60 * time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 3 * time.Second
	}
	return &Engine{
		registry: registry,
		driver:   driver,
		active:   newActiveRegistry(),
		cfg:      cfg,
		log:      logging.L(),
	}
}

// ActiveCount returns the number of executions currently holding a
// container.
func (e *Engine) ActiveCount() int {
	return e.active.count()
}

// Execute starts one submission and returns its execution id together with
// the event stream. The stream ends with one complete event, or with one
// error event when the execution fails before it runs to an outcome; a
// timeout emits an error event followed by complete, and a canceled
// execution just closes. The sandbox is torn down on every exit path before
// the channel closes.
func (e *Engine) Execute(ctx context.Context, sub Submission) (string, <-chan Event) {
	id := newExecutionID()
	events := make(chan Event, eventBuffer)

	go func() {
		defer close(events)
		emit := func(ev Event) { events <- ev }

		start := time.Now()
		m := metrics.Get()
		m.ExecutionsInFlight.Inc()
		defer m.ExecutionsInFlight.Dec()

		status := e.run(ctx, id, sub, emit)
		m.ExecutionsTotal.WithLabelValues(string(sub.Language), status).Inc()
		m.ExecutionDuration.WithLabelValues(string(sub.Language)).Observe(time.Since(start).Seconds())
	}()

	return id, events
}

// Cancel stops a live execution by id: its container is stopped and
// removed, and the draining engine observes stream termination. Idempotent;
// returns false when the id is not active.
func (e *Engine) Cancel(id string) bool {
	exec, ok := e.active.extract(id)
	if !ok {
		return false
	}
	exec.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	e.driver.Stop(ctx, exec.containerID, e.cfg.StopGrace)
	e.driver.Remove(ctx, exec.containerID)

	e.log.Info("execution canceled", zap.String("execution_id", id))
	return true
}

func newExecutionID() string {
	return "exec_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// run drives the state machine for one submission and returns the outcome
// label for metrics. No error ever escapes: every failure becomes an event.
func (e *Engine) run(ctx context.Context, id string, sub Submission, emit func(Event)) (status string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("execution panic", zap.String("execution_id", id), zap.Any("panic", r))
			emit(newEvent(EventError, fmt.Sprintf("Execution error: %v", r)))
			status = "error"
		}
	}()

	// HTML never touches the sandbox: the browser is the runtime.
	if sub.Language == language.HTML {
		emit(newEvent(EventStatus, "Rendering HTML preview..."))
		emit(newEvent(EventHTMLPreview, sub.Code))
		emit(newEvent(EventComplete, "HTML rendered successfully"))
		return "completed"
	}

	if err := e.validate(sub); err != nil {
		emit(newEvent(EventError, err.Error()))
		return "invalid"
	}
	spec, err := e.registry.Lookup(sub.Language)
	if err != nil {
		emit(newEvent(EventError, err.Error()))
		return "invalid"
	}

	installPath := len(sub.InstallPackages) > 0 && spec.SupportsInstall
	if len(sub.InstallPackages) > 0 && !spec.SupportsInstall {
		e.log.Warn("install_packages ignored for language",
			zap.String("language", string(sub.Language)))
	}

	if installPath {
		ev := newEvent(EventInstallStart,
			fmt.Sprintf("Installing packages: %s", strings.Join(sub.InstallPackages, ", ")))
		ev.Packages = sub.InstallPackages
		emit(ev)
	} else {
		emit(newEvent(EventStatus, "Starting execution..."))
	}

	classname := ""
	if sub.Language == language.Java {
		classname = language.ExtractJavaClassName(sub.Code)
	}

	tmpDir, err := os.MkdirTemp("", "cloudrun-exec-")
	if err != nil {
		emit(newEvent(EventError, fmt.Sprintf("Execution error: %v", err)))
		return "error"
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.log.Warn("workspace cleanup failed", zap.String("dir", tmpDir), zap.Error(err))
		}
	}()

	mainFile, err := materializeWorkspace(tmpDir, spec, sub, classname)
	if err != nil {
		emit(newEvent(EventError, fmt.Sprintf("Execution error: %v", err)))
		return "error"
	}

	hasStdin := sub.Stdin != ""
	var cmd []string
	if installPath {
		cmd, err = composeInstallCommand(spec, mainFile, classname, sub.Code, sub.InstallPackages, hasStdin)
		if err != nil {
			emit(newEvent(EventError, fmt.Sprintf("Execution error: %v", err)))
			return "error"
		}
	} else {
		cmd = composeCommand(spec, mainFile, classname, sub.Code, hasStdin)
	}

	deadline := e.cfg.MaxExecutionTime
	if installPath {
		deadline *= 3
	}

	containerID, err := e.driver.Create(ctx, sandbox.CreateOptions{
		ExecutionID:    id,
		Language:       string(sub.Language),
		Image:          spec.Image,
		Cmd:            cmd,
		WorkingDir:     "/workspace",
		NetworkEnabled: installPath || spec.NetworkAllowed,
	})
	if err != nil {
		e.log.Error("container create failed", zap.String("execution_id", id), zap.Error(err))
		emit(newEvent(EventError, "Failed to create Docker container"))
		return "error"
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.active.insert(id, containerID, cancel)

	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer ccancel()
		e.driver.Stop(cctx, containerID, e.cfg.StopGrace)
		e.driver.Remove(cctx, containerID)
		e.active.remove(id)
	}()

	archive, err := tarWorkspace(tmpDir)
	if err != nil {
		emit(newEvent(EventError, fmt.Sprintf("Execution error: %v", err)))
		return "error"
	}
	if err := e.driver.Upload(runCtx, containerID, archive, "/workspace"); err != nil {
		emit(newEvent(EventError, fmt.Sprintf("Execution error: %v", err)))
		return "error"
	}

	if err := e.driver.Start(runCtx, containerID); err != nil {
		e.log.Error("container start failed", zap.String("execution_id", id), zap.Error(err))
		emit(newEvent(EventError, "Failed to start container"))
		return "error"
	}

	emit(newEvent(EventStatus, "Running..."))

	return e.drain(runCtx, id, containerID, spec, installPath, deadline, emit)
}

// drain consumes the container's combined output line-by-line until EOF,
// deadline, or cancellation, then classifies the outcome.
func (e *Engine) drain(ctx context.Context, id, containerID string, spec language.Spec, installPath bool, deadline time.Duration, emit func(Event)) string {
	stream, err := e.driver.StreamLogs(ctx, containerID)
	if err != nil {
		emit(newEvent(EventError, fmt.Sprintf("Execution error: %v", err)))
		return "error"
	}
	defer stream.Close()

	// One goroutine owns the blocking reader and feeds a bounded queue;
	// close signals EOF.
	lines := make(chan string, lineBuffer)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stream)
		sc.Buffer(make([]byte, 64*1024), maxOutputBytes)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var output strings.Builder
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					return "canceled"
				}
				return e.classifyExit(id, containerID, spec, installPath, output.String(), emit)
			}
			if output.Len() < maxOutputBytes {
				output.WriteString(line)
				output.WriteByte('\n')
			}
			switch {
			case strings.Contains(line, sentinelRunning):
				emit(newEvent(EventInstallComplete, line))
			case strings.Contains(line, sentinelInstallFailed):
				emit(newEvent(EventInstallError, line))
			default:
				emit(newEvent(EventStdout, line+"\n"))
			}

		case <-timer.C:
			e.log.Warn("execution deadline reached",
				zap.String("execution_id", id),
				zap.Duration("deadline", deadline))
			sctx, scancel := context.WithTimeout(context.Background(), cleanupTimeout)
			e.driver.Stop(sctx, containerID, e.cfg.StopGrace)
			scancel()
			emit(newEvent(EventError,
				fmt.Sprintf("Execution timed out after %d seconds", int(deadline.Seconds()))))
			emit(newEvent(EventComplete, "Execution timed out"))
			return "timeout"

		case <-ctx.Done():
			// Canceled by the client or an external stop: the container is
			// already being torn down, nothing more to tell the peer.
			return "canceled"
		}
	}
}

// classifyExit waits briefly for the exit code once the stream has ended
// and emits the terminal events.
func (e *Engine) classifyExit(id, containerID string, spec language.Spec, installPath bool, output string, emit func(Event)) string {
	wctx, wcancel := context.WithTimeout(context.Background(), waitGraceTimeout)
	defer wcancel()

	exitCode, err := e.driver.Wait(wctx, containerID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.log.Warn("exit code wait timed out", zap.String("execution_id", id))
		} else {
			e.log.Warn("container wait failed", zap.String("execution_id", id), zap.Error(err))
		}
		exitCode = 0
	}

	if exitCode == 0 {
		emit(newEvent(EventComplete, "Execution completed successfully"))
		return "completed"
	}

	// The install path already reported its own failure mode through the
	// sentinel; suggesting an install on top of it would be noise.
	if !installPath {
		if manager, pkg, ok := deps.Detect(spec, output); ok {
			installCmd, _ := spec.InstallCommand(manager, pkg)
			ev := newEvent(EventDependency, fmt.Sprintf("Missing package detected: %s", pkg))
			ev.PackageManager = manager
			ev.PackageName = pkg
			ev.InstallCommand = installCmd
			emit(ev)
		}
	}

	emit(newEvent(EventComplete, fmt.Sprintf("Execution failed with exit code %d", exitCode)))
	return "failed"
}
