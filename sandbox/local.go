package sandbox

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LocalConfig holds configuration for the local runtime
type LocalConfig struct {
	WorkRoot string
	// StartCommands serve a template from the sandbox home, keyed by template.
	StartCommands map[Template]string
	Lifetime      time.Duration
}

// LocalRuntime runs sandboxes as plain processes on the host, each with its
// own temporary HOME (WARNING: This is not secure and should only be used for development)
type LocalRuntime struct {
	logger     *zap.Logger
	config     LocalConfig
	cmdRunner  CommandRunner
	fs         FileSystem
	portPicker func() (int, error)

	mu sync.Mutex
	// claimed maps a host port to the sandbox holding it.
	claimed map[int]*localSandbox
}

// LocalRuntimeOption defines a functional option for LocalRuntime
type LocalRuntimeOption func(*LocalRuntime)

// WithLocalCommandRunner sets the CommandRunner for LocalRuntime
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.cmdRunner = cmdRunner
	}
}

// WithLocalFileSystem sets the FileSystem for LocalRuntime
func WithLocalFileSystem(fs FileSystem) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.fs = fs
	}
}

// WithLocalPortPicker sets how LocalRuntime finds a free host port
func WithLocalPortPicker(picker func() (int, error)) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.portPicker = picker
	}
}

// NewLocalRuntime creates a new LocalRuntime with default implementations and optional interfaces
func NewLocalRuntime(logger *zap.Logger, config LocalConfig, opts ...LocalRuntimeOption) *LocalRuntime {
	if config.Lifetime <= 0 {
		config.Lifetime = 5 * time.Minute
	}

	runtime := &LocalRuntime{
		logger:    logger,
		config:    config,
		cmdRunner:  &RealCommandRunner{},
		fs:         &RealFileSystem{},
		portPicker: freePort,
		claimed:    make(map[int]*localSandbox),
	}

	for _, opt := range opts {
		opt(runtime)
	}

	return runtime
}

func (*LocalRuntime) Name() string           { return "local" }
func (*LocalRuntime) Scheme() string         { return "http" }
func (*LocalRuntime) CheckCredential() error { return nil }

// Provision creates a sandbox home directory. The sandbox is closed once the
// configured lifetime expires.
func (l *LocalRuntime) Provision(ctx context.Context, template Template) (Sandbox, error) {
	home, err := l.fs.MkdirTemp(l.config.WorkRoot, "codearena-local-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox dir: %w", err)
	}

	sb := &localSandbox{runtime: l, home: home, ports: make(map[int]int)}
	sb.expiry = time.AfterFunc(l.config.Lifetime, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := sb.Close(closeCtx); err != nil {
			l.logger.Warn("failed to close expired sandbox", zap.String("sandbox", home), zap.Error(err))
		}
	})

	if start := l.config.StartCommands[template]; start != "" {
		if err := sb.StartBackground(ctx, start); err != nil {
			_ = sb.Close(ctx)
			return nil, fmt.Errorf("failed to start template server: %w", err)
		}
	}

	l.logger.Warn("local sandbox provisioned, code runs unisolated on this host",
		zap.String("home", home),
		zap.String("template", string(template)),
	)
	return sb, nil
}

type localSandbox struct {
	runtime *LocalRuntime
	home    string
	expiry  *time.Timer

	mu     sync.Mutex
	pids   []int
	ports  map[int]int
	closed bool
}

func (s *localSandbox) ID() string { return filepath.Base(s.home) }

func (s *localSandbox) shell(cmd string) []string {
	return []string{"env", "HOME=" + s.home, "bash", "-lc", "cd ~ && " + cmd}
}

func (s *localSandbox) RunCommand(ctx context.Context, cmd string) (CommandResult, error) {
	stdout, stderr, exitCode, err := s.runtime.cmdRunner.RunCommand(ctx, s.shell(cmd))
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

// StartBackground moves the service ports named in cmd to free host ports,
// so sandboxes running the same service do not fight over one port.
func (s *localSandbox) StartBackground(ctx context.Context, cmd string) error {
	cmd, err := s.remapPorts(cmd)
	if err != nil {
		return err
	}

	stdout, stderr, exitCode, err := s.runtime.cmdRunner.RunCommand(ctx,
		s.shell("setsid nohup bash -lc "+shellQuote(cmd)+" > /dev/null 2>&1 & echo $!"))
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("exit code %d: %s: %w", exitCode, strings.TrimSpace(stderr), ErrCommandFailed)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(stdout))
	if err != nil {
		return fmt.Errorf("unexpected pid %q: %w", strings.TrimSpace(stdout), err)
	}

	s.mu.Lock()
	s.pids = append(s.pids, pid)
	s.mu.Unlock()
	return nil
}

func (s *localSandbox) WriteFile(_ context.Context, filePath string, content []byte) error {
	target, err := hostPath(s.home, filePath)
	if err != nil {
		return err
	}
	if err := s.runtime.fs.MkdirAll(filepath.Dir(target), DirPermission); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	return s.runtime.fs.WriteFile(target, content, FilePermission)
}

// Host is the loopback address of the host port serving port. A port that
// was not remapped is claimed as is and cannot be shared with another
// sandbox.
func (s *localSandbox) Host(_ context.Context, port int) (string, error) {
	s.mu.Lock()
	mapped, ok := s.ports[port]
	s.mu.Unlock()
	if ok {
		return fmt.Sprintf("localhost:%d", mapped), nil
	}

	if err := s.runtime.claim(port, s); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.ports[port] = port
	s.mu.Unlock()
	return fmt.Sprintf("localhost:%d", port), nil
}

var portPatterns = func() map[int]*regexp.Regexp {
	patterns := make(map[int]*regexp.Regexp)
	for _, port := range ServicePorts() {
		patterns[port] = regexp.MustCompile(`\b` + strconv.Itoa(port) + `\b`)
	}
	return patterns
}()

func (s *localSandbox) remapPorts(cmd string) (string, error) {
	for port, pattern := range portPatterns {
		if !pattern.MatchString(cmd) {
			continue
		}

		s.mu.Lock()
		mapped, ok := s.ports[port]
		s.mu.Unlock()
		if !ok {
			var err error
			if mapped, err = s.runtime.allocate(s); err != nil {
				return "", err
			}
			s.mu.Lock()
			s.ports[port] = mapped
			s.mu.Unlock()
			s.runtime.logger.Debug("service port remapped",
				zap.String("sandbox", s.ID()),
				zap.Int("port", port),
				zap.Int("host_port", mapped),
			)
		}
		cmd = pattern.ReplaceAllString(cmd, strconv.Itoa(mapped))
	}
	return cmd, nil
}

func (s *localSandbox) RunCode(ctx context.Context, language, code string) (Execution, error) {
	return runCodeInShell(ctx, s, language, code)
}

// Close kills background process groups and removes the home directory. It
// is safe to call more than once.
func (s *localSandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pids := s.pids
	s.pids = nil
	s.mu.Unlock()

	s.expiry.Stop()
	s.runtime.release(s)

	for _, pid := range pids {
		args := []string{"kill", "-TERM", "--", "-" + strconv.Itoa(pid)}
		if _, stderr, exitCode, err := s.runtime.cmdRunner.RunCommand(ctx, args); err != nil || exitCode != 0 {
			s.runtime.logger.Debug("failed to kill background process",
				zap.Int("pid", pid),
				zap.String("stderr", strings.TrimSpace(stderr)),
				zap.Error(err),
			)
		}
	}

	if err := s.runtime.fs.RemoveAll(s.home); err != nil {
		return fmt.Errorf("failed to remove sandbox dir: %w", err)
	}
	return nil
}

const maxPortPicks = 16

// allocate claims a free host port for sb.
func (l *LocalRuntime) allocate(sb *localSandbox) (int, error) {
	for range maxPortPicks {
		port, err := l.portPicker()
		if err != nil {
			return 0, err
		}
		if err := l.claim(port, sb); err == nil {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free host port after %d attempts: %w", maxPortPicks, ErrPortInUse)
}

func (l *LocalRuntime) claim(port int, sb *localSandbox) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if owner, ok := l.claimed[port]; ok && owner != sb {
		return fmt.Errorf("port %d is held by sandbox %s: %w", port, owner.ID(), ErrPortInUse)
	}
	l.claimed[port] = sb
	return nil
}

func (l *LocalRuntime) release(sb *localSandbox) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for port, owner := range l.claimed {
		if owner == sb {
			delete(l.claimed, port)
		}
	}
}

func freePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find a free port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
