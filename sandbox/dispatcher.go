package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codearena/environment"
	"github.com/isdmx/codearena/extract"
	"github.com/isdmx/codearena/observability"
)

// ResultKind discriminates execution results
type ResultKind string

// Result kinds
const (
	KindServed  ResultKind = "served"
	KindPrinted ResultKind = "printed"
)

// Result is either a served URL or printed text, never both
type Result struct {
	kind ResultKind
	url  string
	text string
}

// Served returns a result for a sandbox reachable at url.
func Served(url string) Result {
	return Result{kind: KindServed, url: url}
}

// Printed returns a result carrying captured interpreter output.
func Printed(text string) Result {
	return Result{kind: KindPrinted, text: text}
}

// Kind reports which variant r holds.
func (r Result) Kind() ResultKind { return r.kind }

// URL is set for served results.
func (r Result) URL() string { return r.url }

// Text is set for printed results.
func (r Result) Text() string { return r.text }

// Job is the code a dispatcher runs
type Job struct {
	Code         string
	Language     string
	Dependencies extract.Dependencies
}

type handler func(ctx context.Context, job Job) (Result, error)

// Timeouts bounds remote operations
type Timeouts struct {
	Install time.Duration
	Build   time.Duration
	Write   time.Duration
	Run     time.Duration
}

// DefaultTimeouts are used for zero fields.
var DefaultTimeouts = Timeouts{
	Install: 3 * time.Minute,
	Build:   5 * time.Minute,
	Write:   time.Minute,
	Run:     2 * time.Minute,
}

// Dispatcher runs code in the sandbox environment selected for it
type Dispatcher struct {
	logger   *zap.Logger
	runtime  Runtime
	timeouts Timeouts
	handlers map[environment.Tag]handler
}

// NewDispatcher builds the handler table. It fails when a runnable
// environment has no handler.
func NewDispatcher(logger *zap.Logger, runtime Runtime, timeouts Timeouts) (*Dispatcher, error) {
	if timeouts.Install <= 0 {
		timeouts.Install = DefaultTimeouts.Install
	}
	if timeouts.Build <= 0 {
		timeouts.Build = DefaultTimeouts.Build
	}
	if timeouts.Write <= 0 {
		timeouts.Write = DefaultTimeouts.Write
	}
	if timeouts.Run <= 0 {
		timeouts.Run = DefaultTimeouts.Run
	}

	d := &Dispatcher{
		logger:   logger,
		runtime:  runtime,
		timeouts: timeouts,
	}

	d.handlers = map[environment.Tag]handler{
		environment.PythonInterpreter: d.interpreterHandler(environment.PythonInterpreter),
		environment.JSInterpreter:     d.interpreterHandler(environment.JSInterpreter),
	}
	for tag, svc := range services {
		d.handlers[tag] = d.serviceHandler(tag, svc)
	}

	for _, tag := range environment.Runnable() {
		if _, ok := d.handlers[tag]; !ok {
			return nil, fmt.Errorf("no handler for environment %q: %w", tag, ErrUnsupportedEnvironment)
		}
	}

	return d, nil
}

// CheckCredential reports whether the runtime can authenticate.
func (d *Dispatcher) CheckCredential() error {
	return d.runtime.CheckCredential()
}

// Dispatch runs job in the environment tag. The credential is checked before
// any remote call.
func (d *Dispatcher) Dispatch(ctx context.Context, tag environment.Tag, job Job) (Result, error) {
	h, ok := d.handlers[tag]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedEnvironment, tag)
	}
	if err := d.runtime.CheckCredential(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	d.logger.Info("dispatching sandbox run",
		zap.String("environment", tag.String()),
		zap.String("runtime", d.runtime.Name()),
		zap.String("language", job.Language),
	)

	res, err := h(ctx, job)

	status := observability.StatusOK
	switch {
	case errors.Is(err, ErrCommandTimeout):
		status = observability.StatusTimeout
	case err != nil:
		status = observability.StatusError
	}
	observability.SandboxRunsTotal.WithLabelValues(tag.String(), status).Inc()
	observability.SandboxRunDuration.WithLabelValues(tag.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		d.logger.Warn("sandbox run failed", zap.String("environment", tag.String()), zap.Error(err))
		return Result{}, fmt.Errorf("failed to run %s sandbox: %w", tag, err)
	}

	d.logger.Info("sandbox run finished",
		zap.String("environment", tag.String()),
		zap.String("kind", string(res.Kind())),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// interpreterHandler executes code in a code interpreter sandbox and returns
// the captured output.
func (d *Dispatcher) interpreterHandler(tag environment.Tag) handler {
	return func(ctx context.Context, job Job) (Result, error) {
		return d.runInterpreter(ctx, interpreterLanguage(tag, job.Language), job)
	}
}

func (d *Dispatcher) runInterpreter(ctx context.Context, language string, job Job) (Result, error) {
	sb, err := d.runtime.Provision(ctx, TemplateCodeInterpreter)
	if err != nil {
		return Result{}, fmt.Errorf("failed to provision sandbox: %w", err)
	}
	defer d.closeSandbox(sb)

	if err := d.exec(ctx, sb, "install", "pip install uv", d.timeouts.Install); err != nil {
		return Result{}, err
	}
	if err := d.installDependencies(ctx, sb, job.Dependencies); err != nil {
		return Result{}, err
	}

	execution, err := d.runCode(ctx, sb, language, job.Code)
	if err != nil {
		return Result{}, err
	}

	return Printed(FormatExecution(execution)), nil
}

// runCode executes code in the interpreter kernel, bounded by the run timeout.
func (d *Dispatcher) runCode(ctx context.Context, sb Sandbox, language, code string) (Execution, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeouts.Run)
	defer cancel()

	execution, err := sb.RunCode(runCtx, language, code)

	switch {
	case ctx.Err() != nil:
		observability.RemoteCommandsTotal.WithLabelValues("run", observability.StatusError).Inc()
		return Execution{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		observability.RemoteCommandsTotal.WithLabelValues("run", observability.StatusTimeout).Inc()
		return Execution{}, fmt.Errorf("run %s code after %s: %w", language, d.timeouts.Run, ErrCommandTimeout)
	case err != nil:
		observability.RemoteCommandsTotal.WithLabelValues("run", observability.StatusError).Inc()
		return Execution{}, fmt.Errorf("failed to run code: %w", err)
	}

	observability.RemoteCommandsTotal.WithLabelValues("run", observability.StatusOK).Inc()
	return execution, nil
}

// installDependencies installs pip and npm packages. Empty lists are skipped.
func (d *Dispatcher) installDependencies(ctx context.Context, sb Sandbox, deps extract.Dependencies) error {
	if len(deps.Python) > 0 {
		cmd := "uv pip install --system " + strings.Join(deps.Python, " ")
		if err := d.exec(ctx, sb, "install", cmd, d.timeouts.Install); err != nil {
			return err
		}
	}
	if len(deps.NPM) > 0 {
		cmd := "npm install " + strings.Join(deps.NPM, " ")
		if err := d.exec(ctx, sb, "install", cmd, d.timeouts.Install); err != nil {
			return err
		}
	}
	return nil
}

// exec runs cmd with a timeout. Timeouts and non-zero exits are errors.
func (d *Dispatcher) exec(ctx context.Context, sb Sandbox, operation, cmd string, timeout time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.logger.Debug("running sandbox command",
		zap.String("sandbox", sb.ID()),
		zap.String("operation", operation),
		zap.String("command", cmd),
	)
	res, err := sb.RunCommand(opCtx, cmd)

	switch {
	case ctx.Err() != nil:
		observability.RemoteCommandsTotal.WithLabelValues(operation, observability.StatusError).Inc()
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded):
		observability.RemoteCommandsTotal.WithLabelValues(operation, observability.StatusTimeout).Inc()
		return fmt.Errorf("%s %q after %s: %w", operation, cmd, timeout, ErrCommandTimeout)
	case err != nil:
		observability.RemoteCommandsTotal.WithLabelValues(operation, observability.StatusError).Inc()
		return fmt.Errorf("%s %q: %w", operation, cmd, err)
	case res.ExitCode != 0:
		observability.RemoteCommandsTotal.WithLabelValues(operation, observability.StatusError).Inc()
		return fmt.Errorf("%s %q exited with code %d: %s: %w",
			operation, cmd, res.ExitCode, strings.TrimSpace(res.Stderr), ErrCommandFailed)
	}

	observability.RemoteCommandsTotal.WithLabelValues(operation, observability.StatusOK).Inc()
	return nil
}

func (d *Dispatcher) closeSandbox(sb Sandbox) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeouts.Write)
	defer cancel()
	if err := sb.Close(ctx); err != nil {
		d.logger.Warn("failed to close sandbox", zap.String("sandbox", sb.ID()), zap.Error(err))
	}
}

// interpreterLanguage picks the interpreter kernel for a run.
func interpreterLanguage(tag environment.Tag, language string) string {
	if tag == environment.PythonInterpreter {
		return "python"
	}
	switch strings.ToLower(language) {
	case "typescript", "ts", "tsx":
		return "ts"
	default:
		return "js"
	}
}
