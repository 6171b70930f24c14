package sandbox

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const containerHome = "/home/user"

// ContainerTemplate is the image a template runs in and the command that
// serves it, if any.
type ContainerTemplate struct {
	Image        string
	StartCommand string
}

// ContainerConfig holds configuration for the docker and podman runtimes
type ContainerConfig struct {
	// Binary is the container engine CLI, docker or podman.
	Binary    string
	WorkRoot  string
	Templates map[Template]ContainerTemplate
	// Lifetime bounds how long a container runs before it is removed.
	Lifetime time.Duration
}

// ContainerRuntime runs each sandbox as a detached container. The sandbox
// home directory is a host directory bind-mounted into the container and the
// service ports are published on the loopback interface.
type ContainerRuntime struct {
	logger    *zap.Logger
	config    ContainerConfig
	cmdRunner CommandRunner
	fs        FileSystem
}

// ContainerRuntimeOption defines a functional option for ContainerRuntime
type ContainerRuntimeOption func(*ContainerRuntime)

// WithContainerCommandRunner sets the CommandRunner for ContainerRuntime
func WithContainerCommandRunner(cmdRunner CommandRunner) ContainerRuntimeOption {
	return func(c *ContainerRuntime) {
		c.cmdRunner = cmdRunner
	}
}

// WithContainerFileSystem sets the FileSystem for ContainerRuntime
func WithContainerFileSystem(fs FileSystem) ContainerRuntimeOption {
	return func(c *ContainerRuntime) {
		c.fs = fs
	}
}

// NewContainerRuntime creates a new ContainerRuntime with default implementations and optional interfaces
func NewContainerRuntime(logger *zap.Logger, config ContainerConfig, opts ...ContainerRuntimeOption) *ContainerRuntime {
	if config.Binary == "" {
		config.Binary = "docker"
	}
	if config.Lifetime <= 0 {
		config.Lifetime = 5 * time.Minute
	}

	runtime := &ContainerRuntime{
		logger:    logger,
		config:    config,
		cmdRunner: &RealCommandRunner{}, // Default implementation
		fs:        &RealFileSystem{},    // Default implementation
	}

	for _, opt := range opts {
		opt(runtime)
	}

	return runtime
}

// Name identifies the backend
func (c *ContainerRuntime) Name() string { return c.config.Binary }

// Scheme is http since ports are published on the host
func (*ContainerRuntime) Scheme() string { return "http" }

// CheckCredential always succeeds; the local engine needs no credential
func (*ContainerRuntime) CheckCredential() error { return nil }

// Provision starts a container for template
func (c *ContainerRuntime) Provision(ctx context.Context, template Template) (Sandbox, error) {
	tmpl, ok := c.config.Templates[template]
	if !ok || tmpl.Image == "" {
		return nil, fmt.Errorf("no container image configured for %q", template)
	}

	workdir, err := c.fs.MkdirTemp(c.config.WorkRoot, "codearena-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox dir: %w", err)
	}

	name := "codearena-" + uuid.NewString()
	cmdArgs := []string{
		c.config.Binary, "run",
		"--detach",
		"--rm", // Remove container once the lifetime sleep exits
		"--name", name,
		"-v", fmt.Sprintf("%s:%s", workdir, containerHome),
		"--workdir", containerHome,
		"-e", "HOME=" + containerHome,
		"--security-opt", "no-new-privileges:true",
	}
	for _, port := range ServicePorts() {
		cmdArgs = append(cmdArgs, "-p", fmt.Sprintf("127.0.0.1::%d", port))
	}
	cmdArgs = append(cmdArgs, tmpl.Image, "sleep", strconv.Itoa(int(c.config.Lifetime.Seconds())))

	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, cmdArgs)
	if err != nil || exitCode != 0 {
		if rmErr := c.fs.RemoveAll(workdir); rmErr != nil {
			c.logger.Error("failed to remove sandbox directory", zap.String("path", workdir), zap.Error(rmErr))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to start container: %w", err)
		}
		return nil, fmt.Errorf("failed to start container (exit code %d): %s", exitCode, strings.TrimSpace(stderr))
	}

	c.logger.Info("container sandbox started",
		zap.String("container", name),
		zap.String("image", tmpl.Image),
		zap.String("workdir", workdir),
	)

	sb := &containerSandbox{runtime: c, name: name, workdir: workdir}
	if tmpl.StartCommand != "" {
		if err := sb.StartBackground(ctx, tmpl.StartCommand); err != nil {
			_ = sb.Close(ctx)
			return nil, fmt.Errorf("failed to start template server: %w", err)
		}
	}
	return sb, nil
}

type containerSandbox struct {
	runtime *ContainerRuntime
	name    string
	workdir string
}

func (s *containerSandbox) ID() string { return s.name }

func (s *containerSandbox) RunCommand(ctx context.Context, cmd string) (CommandResult, error) {
	stdout, stderr, exitCode, err := s.runtime.cmdRunner.RunCommand(ctx, []string{
		s.runtime.config.Binary, "exec", s.name, "bash", "-lc", cmd,
	})
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

func (s *containerSandbox) StartBackground(ctx context.Context, cmd string) error {
	_, stderr, exitCode, err := s.runtime.cmdRunner.RunCommand(ctx, []string{
		s.runtime.config.Binary, "exec", "--detach", s.name, "bash", "-lc", cmd,
	})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("exit code %d: %s: %w", exitCode, strings.TrimSpace(stderr), ErrCommandFailed)
	}
	return nil
}

// WriteFile writes through the bind mount
func (s *containerSandbox) WriteFile(_ context.Context, filePath string, content []byte) error {
	target, err := hostPath(s.workdir, filePath)
	if err != nil {
		return err
	}
	if err := s.runtime.fs.MkdirAll(filepath.Dir(target), DirPermission); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := s.runtime.fs.WriteFile(target, content, FilePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Host asks the engine which host port the container port is published on
func (s *containerSandbox) Host(ctx context.Context, port int) (string, error) {
	stdout, stderr, exitCode, err := s.runtime.cmdRunner.RunCommand(ctx, []string{
		s.runtime.config.Binary, "port", s.name, fmt.Sprintf("%d/tcp", port),
	})
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", fmt.Errorf("port %d is not published: %s", port, strings.TrimSpace(stderr))
	}

	binding := strings.TrimSpace(strings.SplitN(stdout, "\n", 2)[0])
	if binding == "" {
		return "", fmt.Errorf("port %d is not published", port)
	}
	idx := strings.LastIndex(binding, ":")
	if idx < 0 {
		return "", fmt.Errorf("unexpected port binding %q", binding)
	}
	host := binding[:idx]
	switch host {
	case "0.0.0.0", "[::]", "127.0.0.1", "":
		host = "localhost"
	}
	return host + binding[idx:], nil
}

func (s *containerSandbox) RunCode(ctx context.Context, language, code string) (Execution, error) {
	return runCodeInShell(ctx, s, language, code)
}

func (s *containerSandbox) Close(ctx context.Context) error {
	_, stderr, exitCode, err := s.runtime.cmdRunner.RunCommand(ctx, []string{
		s.runtime.config.Binary, "rm", "--force", s.name,
	})
	if rmErr := s.runtime.fs.RemoveAll(s.workdir); rmErr != nil {
		s.runtime.logger.Error("failed to remove sandbox directory", zap.String("path", s.workdir), zap.Error(rmErr))
	}
	if err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("failed to remove container (exit code %d): %s", exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// hostPath resolves a sandbox relative path inside root, rejecting paths
// that escape it.
func hostPath(root, filePath string) (string, error) {
	clean := path.Clean("/" + strings.TrimPrefix(filePath, "~/"))
	if clean == "/" {
		return "", fmt.Errorf("invalid sandbox path: %q", filePath)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

// cellFiles are where shell based interpreters store the code to run.
var cellFiles = map[string]struct{ path, command string }{
	"python": {".codearena/cell.py", "python3 ~/.codearena/cell.py"},
	"js":     {".codearena/cell.mjs", "node ~/.codearena/cell.mjs"},
	"ts":     {".codearena/cell.ts", "npx --yes tsx ~/.codearena/cell.ts"},
}

// runCodeInShell emulates a code interpreter by writing the code to a file
// and running it. Only stdout and stderr are captured.
func runCodeInShell(ctx context.Context, sb Sandbox, language, code string) (Execution, error) {
	cell, ok := cellFiles[language]
	if !ok {
		return Execution{}, fmt.Errorf("unsupported interpreter language: %s", language)
	}

	if err := sb.WriteFile(ctx, cell.path, []byte(code)); err != nil {
		return Execution{}, err
	}

	res, err := sb.RunCommand(ctx, cell.command)
	if err != nil {
		return Execution{}, err
	}

	var exec Execution
	if out := strings.TrimRight(res.Stdout, "\n"); out != "" {
		exec.Stdout = []string{out}
	}
	if out := strings.TrimRight(res.Stderr, "\n"); out != "" {
		exec.Stderr = []string{out}
	}
	if res.ExitCode != 0 {
		exec.Error = &ExecutionError{Name: "ExitError", Value: fmt.Sprintf("exit status %d", res.ExitCode)}
	}
	return exec, nil
}
