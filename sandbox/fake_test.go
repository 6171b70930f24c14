package sandbox

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// fakeRuntime provisions fakeSandboxes and records which templates were asked for
type fakeRuntime struct {
	mu        sync.Mutex
	scheme    string
	credErr   error
	provErr   error
	templates []Template
	sandboxes []*fakeSandbox
	configure func(*fakeSandbox)
}

func (*fakeRuntime) Name() string { return "fake" }

func (r *fakeRuntime) Scheme() string {
	if r.scheme == "" {
		return "https"
	}
	return r.scheme
}

func (r *fakeRuntime) CheckCredential() error { return r.credErr }

func (r *fakeRuntime) Provision(_ context.Context, template Template) (Sandbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.templates = append(r.templates, template)
	if r.provErr != nil {
		return nil, r.provErr
	}
	sb := &fakeSandbox{
		id:       fmt.Sprintf("sb-%d", len(r.sandboxes)+1),
		results:  map[string]CommandResult{},
		blocking: map[string]bool{},
	}
	if r.configure != nil {
		r.configure(sb)
	}
	r.sandboxes = append(r.sandboxes, sb)
	return sb, nil
}

func (r *fakeRuntime) last() *fakeSandbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sandboxes) == 0 {
		return nil
	}
	return r.sandboxes[len(r.sandboxes)-1]
}

// fakeSandbox records every call as "op:arg" in order
type fakeSandbox struct {
	mu       sync.Mutex
	id       string
	calls    []string
	files    map[string]string
	results  map[string]CommandResult
	blocking map[string]bool
	exec     Execution
	hangCode bool
	host     string
	closed   bool
}

func (s *fakeSandbox) ID() string { return s.id }

func (s *fakeSandbox) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSandbox) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSandbox) RunCommand(ctx context.Context, cmd string) (CommandResult, error) {
	s.record("run:" + cmd)
	if s.blocking[cmd] {
		<-ctx.Done()
		return CommandResult{}, ctx.Err()
	}
	return s.results[cmd], nil
}

func (s *fakeSandbox) StartBackground(_ context.Context, cmd string) error {
	s.record("bg:" + cmd)
	return nil
}

func (s *fakeSandbox) WriteFile(_ context.Context, path string, content []byte) error {
	s.record("write:" + path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = map[string]string{}
	}
	s.files[path] = string(content)
	return nil
}

func (s *fakeSandbox) Host(_ context.Context, port int) (string, error) {
	s.record(fmt.Sprintf("host:%d", port))
	if s.host != "" {
		return s.host, nil
	}
	return fmt.Sprintf("%d-%s.sandbox.test", port, s.id), nil
}

func (s *fakeSandbox) RunCode(ctx context.Context, language, code string) (Execution, error) {
	s.record("code:" + language)
	if s.hangCode {
		<-ctx.Done()
		return Execution{}, ctx.Err()
	}
	if strings.Contains(code, "raise") {
		return Execution{Error: &ExecutionError{Name: "ValueError", Value: "boom"}}, nil
	}
	return s.exec, nil
}

func (s *fakeSandbox) Close(context.Context) error {
	s.record("close")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type mockResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing. Results are looked
// up by the longest space-joined prefix of the args.
type MockCommandRunner struct {
	mu             sync.Mutex
	commandResults map[string]mockResult
	defaultResult  mockResult
	calls          [][]string
}

func (m *MockCommandRunner) RunCommand(_ context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]string(nil), args...))

	for i := len(args); i > 0; i-- {
		if result, exists := m.commandResults[strings.Join(args[:i], " ")]; exists {
			return result.stdout, result.stderr, result.exitCode, result.err
		}
	}
	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	mu            sync.Mutex
	tempDir       string
	writeFileData map[string][]byte
	dirs          []string
	removed       []string
}

func (m *MockFileSystem) MkdirTemp(string, string) (string, error) {
	if m.tempDir == "" {
		return "/tmp/test", nil
	}
	return m.tempDir, nil
}

func (m *MockFileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeFileData == nil {
		m.writeFileData = make(map[string][]byte)
	}
	m.writeFileData[filename] = data
	return nil
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, path)
	return nil
}
