package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"
)

// E2B data plane ports
const (
	e2bEnvdPort        = 49983
	e2bInterpreterPort = 49999
	e2bHome            = "/home/user"
	e2bUser            = "user"
	maxExecutionLine   = 16 * 1024 * 1024
)

// DefaultE2BTemplates maps sandbox templates to E2B template ids.
var DefaultE2BTemplates = map[Template]string{
	TemplateCodeInterpreter: "code-interpreter-v1",
	TemplateBase:            "base",
	TemplateNextJS:          "nextjs-developer",
	TemplateVue:             "vue-developer",
	TemplateGradio:          "gradio-developer",
}

// E2BConfig holds configuration for the E2B runtime
type E2BConfig struct {
	APIKey    string
	APIURL    string
	Domain    string
	Templates map[Template]string
	// Lifetime is how long a sandbox lives before E2B kills it.
	Lifetime time.Duration
}

// E2BRuntime provisions sandboxes on the E2B cloud. The control plane creates
// and deletes sandboxes; each sandbox's envd daemon runs commands and writes
// files, and the code interpreter executes cells.
type E2BRuntime struct {
	logger     *zap.Logger
	config     E2BConfig
	httpClient *http.Client
	baseURL    func(port int, sandboxID, domain string) string
}

// E2BOption defines a functional option for E2BRuntime
type E2BOption func(*E2BRuntime)

// WithE2BHTTPClient sets the HTTP client for E2BRuntime
func WithE2BHTTPClient(client *http.Client) E2BOption {
	return func(r *E2BRuntime) {
		r.httpClient = client
	}
}

// WithE2BDataPlaneURL overrides how the base URL of a sandbox port is built
func WithE2BDataPlaneURL(fn func(port int, sandboxID, domain string) string) E2BOption {
	return func(r *E2BRuntime) {
		r.baseURL = fn
	}
}

// NewE2BRuntime creates a new E2BRuntime
func NewE2BRuntime(logger *zap.Logger, config E2BConfig, opts ...E2BOption) *E2BRuntime {
	if config.Templates == nil {
		config.Templates = DefaultE2BTemplates
	}
	if config.Lifetime <= 0 {
		config.Lifetime = 5 * time.Minute
	}

	r := &E2BRuntime{
		logger: logger,
		config: config,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		baseURL: func(port int, sandboxID, domain string) string {
			return fmt.Sprintf("https://%s", e2bHost(port, sandboxID, domain))
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func e2bHost(port int, sandboxID, domain string) string {
	return fmt.Sprintf("%d-%s.%s", port, sandboxID, domain)
}

// Name identifies the backend
func (*E2BRuntime) Name() string { return "e2b" }

// Scheme is https for every E2B host
func (*E2BRuntime) Scheme() string { return "https" }

// CheckCredential fails when no API key is configured
func (r *E2BRuntime) CheckCredential() error {
	if strings.TrimSpace(r.config.APIKey) == "" {
		return fmt.Errorf("%w: set E2B_API_KEY or e2b.api_key", ErrMissingCredential)
	}
	return nil
}

type e2bCreateRequest struct {
	TemplateID          string            `json:"templateID"`
	Timeout             int               `json:"timeout"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	Secure              bool              `json:"secure"`
	AllowInternetAccess bool              `json:"allow_internet_access"`
}

type e2bCreateResponse struct {
	SandboxID       string `json:"sandboxID"`
	EnvdAccessToken string `json:"envdAccessToken"`
	Domain          string `json:"domain,omitempty"`
}

// Provision creates a sandbox from the E2B template mapped to template
func (r *E2BRuntime) Provision(ctx context.Context, template Template) (Sandbox, error) {
	if err := r.CheckCredential(); err != nil {
		return nil, err
	}

	templateID, ok := r.config.Templates[template]
	if !ok || templateID == "" {
		return nil, fmt.Errorf("no e2b template configured for %q", template)
	}

	req := e2bCreateRequest{
		TemplateID:          templateID,
		Timeout:             int(r.config.Lifetime.Seconds()),
		Metadata:            map[string]string{"template": templateID},
		Secure:              true,
		AllowInternetAccess: true,
	}

	var created e2bCreateResponse
	if err := r.controlPlaneCall(ctx, http.MethodPost, "/sandboxes", req, &created); err != nil {
		return nil, fmt.Errorf("failed to create e2b sandbox: %w", err)
	}
	if created.SandboxID == "" {
		return nil, fmt.Errorf("e2b returned no sandbox id")
	}

	domain := created.Domain
	if domain == "" {
		domain = r.config.Domain
	}

	r.logger.Info("e2b sandbox created",
		zap.String("sandbox", created.SandboxID),
		zap.String("template", templateID),
	)

	return &e2bSandbox{
		runtime:     r,
		id:          created.SandboxID,
		domain:      domain,
		accessToken: created.EnvdAccessToken,
	}, nil
}

// controlPlaneCall makes an HTTP request to the E2B control plane API
func (r *E2BRuntime) controlPlaneCall(ctx context.Context, method, apiPath string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(r.config.APIURL, "/")+apiPath, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", r.config.APIKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("e2b request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("e2b api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

type e2bSandbox struct {
	runtime     *E2BRuntime
	id          string
	domain      string
	accessToken string
	// processOnly is set once envd answered that it has no commands API.
	processOnly atomic.Bool
}

// envdStatusError is a non-2xx answer from a sandbox port.
type envdStatusError struct {
	status int
	body   string
}

func (e *envdStatusError) Error() string {
	return fmt.Sprintf("envd error (status %d): %s", e.status, e.body)
}

func (s *e2bSandbox) ID() string { return s.id }

func (s *e2bSandbox) url(port int, endpoint string) string {
	return s.runtime.baseURL(port, s.id, s.domain) + endpoint
}

// dataPlaneCall sends a request to a port of the sandbox and returns the
// response when its status is 2xx.
func (s *e2bSandbox) dataPlaneCall(req *http.Request) (*http.Response, error) {
	if s.accessToken != "" {
		req.Header.Set("X-Access-Token", s.accessToken)
	}

	resp, err := s.runtime.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, &envdStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(errBody))}
	}
	return resp, nil
}

// RunCommand runs cmd through envd's commands API. Envd builds without that
// API answer 404 or 405; the sandbox then switches to the process service
// for good.
func (s *e2bSandbox) RunCommand(ctx context.Context, cmd string) (CommandResult, error) {
	if !s.processOnly.Load() {
		res, err := s.runViaCommandsAPI(ctx, cmd)
		var statusErr *envdStatusError
		if !errors.As(err, &statusErr) ||
			(statusErr.status != http.StatusNotFound && statusErr.status != http.StatusMethodNotAllowed) {
			return res, err
		}
		s.processOnly.Store(true)
		s.runtime.logger.Debug("envd commands API not available, using the process service",
			zap.String("sandbox", s.id),
			zap.Int("status", statusErr.status),
		)
	}
	return s.runViaProcessService(ctx, cmd)
}

func (s *e2bSandbox) runViaCommandsAPI(ctx context.Context, cmd string) (CommandResult, error) {
	body, err := json.Marshal(map[string]any{
		"cmd":  "/bin/bash",
		"args": []string{"-l", "-c", cmd},
	})
	if err != nil {
		return CommandResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url(e2bEnvdPort, "/commands/run"), bytes.NewReader(body))
	if err != nil {
		return CommandResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.dataPlaneCall(req)
	if err != nil {
		return CommandResult{}, fmt.Errorf("failed to run command: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exitCode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CommandResult{}, fmt.Errorf("failed to decode command result: %w", err)
	}

	return CommandResult{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}, nil
}

// runViaProcessService starts cmd with envd's process.Process/Start stream
// and collects its output until the end event.
func (s *e2bSandbox) runViaProcessService(ctx context.Context, cmd string) (CommandResult, error) {
	client := connect.NewClient[envdStartRequest, envdStartResponse](
		s.runtime.httpClient,
		s.url(e2bEnvdPort, envdProcessStartProcedure),
		connect.WithCodec(envdJSONCodec{}),
	)

	req := connect.NewRequest(&envdStartRequest{Process: envdProcessConfig{
		Cmd:  "/bin/bash",
		Args: []string{"-l", "-c", cmd},
		Cwd:  e2bHome,
	}})
	req.Header().Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(e2bUser+":")))
	if s.accessToken != "" {
		req.Header().Set("X-Access-Token", s.accessToken)
	}

	stream, err := client.CallServerStream(ctx, req)
	if err != nil {
		return CommandResult{}, fmt.Errorf("failed to start process: %w", err)
	}
	defer stream.Close()

	var stdout, stderr bytes.Buffer
	for stream.Receive() {
		event := stream.Msg().Event
		switch {
		case event.Data != nil:
			stdout.Write(event.Data.Stdout)
			stderr.Write(event.Data.Stderr)
		case event.End != nil:
			if event.End.Error != "" {
				stderr.WriteString(event.End.Error)
			}
			return CommandResult{
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: event.End.ExitCode,
			}, nil
		}
	}
	if err := stream.Err(); err != nil {
		return CommandResult{}, fmt.Errorf("process stream failed: %w", err)
	}
	return CommandResult{}, errors.New("process stream ended without an end event")
}

func (s *e2bSandbox) StartBackground(ctx context.Context, cmd string) error {
	res, err := s.RunCommand(ctx, backgroundCommand(cmd))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit code %d: %s: %w", res.ExitCode, strings.TrimSpace(res.Stderr), ErrCommandFailed)
	}
	return nil
}

func (s *e2bSandbox) WriteFile(ctx context.Context, filePath string, content []byte) error {
	target := path.Join(e2bHome, filePath)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", target)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := "/files?path=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url(e2bEnvdPort, endpoint), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.dataPlaneCall(req)
	if err != nil {
		return fmt.Errorf("envd write failed: %w", err)
	}
	return resp.Body.Close()
}

func (s *e2bSandbox) Host(_ context.Context, port int) (string, error) {
	if s.domain == "" {
		return "", fmt.Errorf("sandbox %s has no domain", s.id)
	}
	return e2bHost(port, s.id, s.domain), nil
}

// e2bOutput is one line of the code interpreter's NDJSON stream.
type e2bOutput struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	HTML       string          `json:"html"`
	Markdown   string          `json:"markdown"`
	SVG        string          `json:"svg"`
	PNG        string          `json:"png"`
	JPEG       string          `json:"jpeg"`
	LaTeX      string          `json:"latex"`
	JSON       json.RawMessage `json:"json"`
	JavaScript string          `json:"javascript"`
	Name       string          `json:"name"`
	Value      string          `json:"value"`
	Traceback  string          `json:"traceback"`
}

func (s *e2bSandbox) RunCode(ctx context.Context, language, code string) (Execution, error) {
	body, err := json.Marshal(map[string]string{"code": code, "language": language})
	if err != nil {
		return Execution{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url(e2bInterpreterPort, "/execute"), bytes.NewReader(body))
	if err != nil {
		return Execution{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.dataPlaneCall(req)
	if err != nil {
		return Execution{}, fmt.Errorf("failed to execute code: %w", err)
	}
	defer resp.Body.Close()

	return decodeExecution(resp.Body)
}

// decodeExecution collects the code interpreter stream into an Execution
func decodeExecution(r io.Reader) (Execution, error) {
	var exec Execution

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxExecutionLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var out e2bOutput
		if err := json.Unmarshal(line, &out); err != nil {
			return exec, fmt.Errorf("failed to decode execution output: %w", err)
		}

		switch out.Type {
		case "stdout":
			exec.Stdout = append(exec.Stdout, out.Text)
		case "stderr":
			exec.Stderr = append(exec.Stderr, out.Text)
		case "error":
			exec.Error = &ExecutionError{Name: out.Name, Value: out.Value, Traceback: out.Traceback}
		case "result":
			artifact, err := out.artifact()
			if err != nil {
				return exec, err
			}
			exec.Results = append(exec.Results, artifact)
		case "end_of_execution":
			return exec, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return exec, fmt.Errorf("failed to read execution output: %w", err)
	}
	return exec, nil
}

func (o e2bOutput) artifact() (Artifact, error) {
	a := Artifact{
		SVG:        o.SVG,
		HTML:       o.HTML,
		Markdown:   o.Markdown,
		LaTeX:      o.LaTeX,
		JavaScript: o.JavaScript,
		Text:       o.Text,
	}
	if len(o.JSON) > 0 && string(o.JSON) != "null" {
		a.JSON = string(o.JSON)
	}

	var err error
	if o.PNG != "" {
		if a.PNG, err = base64.StdEncoding.DecodeString(o.PNG); err != nil {
			return Artifact{}, fmt.Errorf("invalid png result: %w", err)
		}
	}
	if o.JPEG != "" {
		if a.JPEG, err = base64.StdEncoding.DecodeString(o.JPEG); err != nil {
			return Artifact{}, fmt.Errorf("invalid jpeg result: %w", err)
		}
	}
	return a, nil
}

func (s *e2bSandbox) Close(ctx context.Context) error {
	if err := s.runtime.controlPlaneCall(ctx, http.MethodDelete, "/sandboxes/"+s.id, nil, nil); err != nil {
		return fmt.Errorf("failed to kill e2b sandbox %s: %w", s.id, err)
	}
	s.runtime.logger.Debug("e2b sandbox killed", zap.String("sandbox", s.id))
	return nil
}

// backgroundCommand detaches cmd from the calling shell.
func backgroundCommand(cmd string) string {
	return fmt.Sprintf("nohup bash -lc %s > /dev/null 2>&1 &", shellQuote(cmd))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
