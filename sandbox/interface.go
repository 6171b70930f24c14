package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Template names the kind of sandbox to provision. Each runtime maps it to
// its own template id or container image.
type Template string

// Sandbox templates
const (
	TemplateCodeInterpreter Template = "code_interpreter"
	TemplateBase            Template = "base"
	TemplateNextJS          Template = "nextjs"
	TemplateVue             Template = "vue"
	TemplateGradio          Template = "gradio"
)

// Templates lists every template a runtime must be able to provision.
func Templates() []Template {
	return []Template{TemplateCodeInterpreter, TemplateBase, TemplateNextJS, TemplateVue, TemplateGradio}
}

// CommandResult is the outcome of a command run inside a sandbox
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecutionError describes an exception raised by interpreted code
type ExecutionError struct {
	Name      string
	Value     string
	Traceback string
}

func (e *ExecutionError) String() string {
	if e.Traceback != "" {
		return e.Traceback
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Value)
}

// Execution is the outcome of running code in a code interpreter sandbox
type Execution struct {
	Stdout  []string
	Stderr  []string
	Results []Artifact
	Error   *ExecutionError
}

// Sandbox is one isolated execution context. Paths are relative to the
// sandbox user's home directory; commands run in a login shell where ~ is
// that directory.
type Sandbox interface {
	ID() string
	// RunCommand runs cmd to completion.
	RunCommand(ctx context.Context, cmd string) (CommandResult, error)
	// StartBackground starts cmd and returns without waiting for it.
	StartBackground(ctx context.Context, cmd string) error
	// WriteFile writes content to path, creating parent directories.
	WriteFile(ctx context.Context, path string, content []byte) error
	// Host returns the routable host:port (without scheme) for a port
	// inside the sandbox.
	Host(ctx context.Context, port int) (string, error)
	// RunCode executes code in the sandbox's interpreter.
	RunCode(ctx context.Context, language, code string) (Execution, error)
	// Close releases the sandbox.
	Close(ctx context.Context) error
}

// Runtime provisions sandboxes on a remote or local host
type Runtime interface {
	// Name identifies the backend in logs.
	Name() string
	// Scheme is the URL scheme served hosts are reached with.
	Scheme() string
	// CheckCredential fails with ErrMissingCredential when the runtime
	// cannot authenticate. It makes no remote call.
	CheckCredential() error
	Provision(ctx context.Context, template Template) (Sandbox, error)
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	if err == nil {
		return stdoutBuf.String(), stderrBuf.String(), 0, nil
	}
	if ctx.Err() != nil {
		return stdoutBuf.String(), stderrBuf.String(), -1, ctx.Err()
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return "", "", 0, err
	}
	return stdoutBuf.String(), stderrBuf.String(), exitErr.ExitCode(), nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0644
)
