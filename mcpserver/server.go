package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/config"
	"github.com/isdmx/codearena/environment"
	"github.com/isdmx/codearena/extract"
	"github.com/isdmx/codearena/session"
)

const (
	serverName    = "codearena-sandbox"
	serverVersion = "1.0.0"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	sessions  *session.Manager
	extractor session.Extractor
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, sessions *session.Manager, extractor session.Extractor) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		sessions:  sessions,
		extractor: extractor,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.Bool("sandbox.enable_local_backend", cfg.Sandbox.EnableLocalBackend),
		zap.Int("sandbox.install_timeout_sec", cfg.Sandbox.InstallTimeoutSec),
		zap.Int("sandbox.build_timeout_sec", cfg.Sandbox.BuildTimeoutSec),
		zap.Int("sandbox.write_timeout_sec", cfg.Sandbox.WriteTimeoutSec),
		zap.Int("sandbox.lifetime_sec", cfg.Sandbox.LifetimeSec),
		zap.String("e2b.api_url", cfg.E2B.APIURL),
		zap.Bool("e2b.api_key_set", cfg.E2B.APIKey != ""),
		zap.String("container.binary", cfg.Container.Binary),
		zap.Bool("metrics.enabled", cfg.Metrics.Enabled),
		zap.Int("metrics.port", cfg.Metrics.Port),
	)

	s.mcpServer = server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()

	return s, nil
}

func (s *MCPServer) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("sandbox_new_conversation",
		mcp.WithDescription("Start a conversation with one sandbox per compared model"),
	), s.handleNewConversation)

	s.mcpServer.AddTool(mcp.NewTool("sandbox_configure",
		mcp.WithDescription("Enable or disable the sandbox of one side and pick its environment. "+
			"Ignored once the first chat round has locked the configuration."),
		conversationParam(),
		sideParam(),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Whether the sandbox runs code")),
		environmentParam(),
		mcp.WithString("instruction", mcp.Description("Custom instruction replacing the environment default")),
	), s.handleConfigure)

	s.mcpServer.AddTool(mcp.NewTool("sandbox_configure_all",
		mcp.WithDescription("Configure the sandbox of every side at once"),
		conversationParam(),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Whether the sandboxes run code")),
		environmentParam(),
	), s.handleConfigureAll)

	s.mcpServer.AddTool(mcp.NewTool("sandbox_edit",
		mcp.WithDescription("Run code edited in the sandbox editor of one side"),
		conversationParam(),
		sideParam(),
		mcp.WithString("code", mcp.Required(), mcp.Description("Edited source code")),
	), s.handleEdit)

	s.mcpServer.AddTool(mcp.NewTool("sandbox_run_message",
		mcp.WithDescription("Extract the code of a model reply and run it in the sandbox of one side"),
		conversationParam(),
		sideParam(),
		mcp.WithString("message", mcp.Required(), mcp.Description("Model reply in markdown")),
	), s.handleRunMessage)

	s.mcpServer.AddTool(mcp.NewTool("sandbox_apply_instruction",
		mcp.WithDescription("Append the sandbox instruction to the system prompt of the first chat round "+
			"and lock the configuration"),
		conversationParam(),
		sideParam(),
		mcp.WithString("system_prompt", mcp.Description("System prompt of the conversation")),
	), s.handleApplyInstruction)

	s.mcpServer.AddTool(mcp.NewTool("sandbox_reset",
		mcp.WithDescription("Unlock the sandbox configuration of every side for a new chat"),
		conversationParam(),
	), s.handleReset)

	s.mcpServer.AddTool(mcp.NewTool("sandbox_end_conversation",
		mcp.WithDescription("Forget a conversation and its sandbox state"),
		conversationParam(),
	), s.handleEndConversation)

	s.mcpServer.AddTool(mcp.NewTool("sandbox_extract",
		mcp.WithDescription("Extract code, dependencies and environment from a message without running it"),
		mcp.WithString("message", mcp.Required(), mcp.Description("Model reply in markdown")),
		mcp.WithBoolean("auto", mcp.Description("Fail when the environment cannot be inferred")),
	), s.handleExtract)
}

func conversationParam() mcp.ToolOption {
	return mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier"))
}

func sideParam() mcp.ToolOption {
	return mcp.WithNumber("side", mcp.Required(),
		mcp.Description("Index of the compared model"),
		mcp.Min(0),
		mcp.Max(session.NumSides-1),
	)
}

func environmentParam() mcp.ToolOption {
	tags := make([]string, 0, len(environment.All())+1)
	tags = append(tags, "none")
	for _, tag := range environment.All() {
		tags = append(tags, tag.String())
	}
	return mcp.WithString("environment", mcp.Description("Sandbox environment"), mcp.Enum(tags...))
}

// stateResponse is returned by every state-mutating tool
type stateResponse struct {
	ConversationID string           `json:"conversation_id,omitempty"`
	State          *session.State   `json:"state,omitempty"`
	States         []session.State  `json:"states,omitempty"`
	Updates        []session.Update `json:"updates"`
	SystemPrompt   *string          `json:"system_prompt,omitempty"`
}

func (s *MCPServer) handleNewConversation(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conv := s.sessions.NewConversation()
	s.logger.Info("conversation started", zap.String("conversation", conv.ID))

	return jsonResult(stateResponse{
		ConversationID: conv.ID,
		States:         conv.States(),
		Updates:        []session.Update{},
	})
}

func (s *MCPServer) handleConfigure(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, side, err := s.side(request)
	if err != nil {
		return nil, err
	}
	enabled, err := request.RequireBool("enabled")
	if err != nil {
		return nil, fmt.Errorf("enabled parameter is required: %w", err)
	}
	env, err := parseEnvironment(request.GetString("environment", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	state, err := side.Configure(enabled, env)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if instruction := request.GetString("instruction", ""); instruction != "" {
		state = side.OverrideInstruction(instruction)
	}

	s.logger.Info("sandbox configured",
		zap.String("conversation", id),
		zap.Bool("enabled", state.Enabled),
		zap.String("environment", state.Environment.String()),
		zap.Bool("locked", state.Locked()))

	return jsonResult(stateResponse{State: &state, Updates: []session.Update{}})
}

func (s *MCPServer) handleConfigureAll(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("conversation_id")
	if err != nil {
		return nil, fmt.Errorf("conversation_id parameter is required: %w", err)
	}
	enabled, err := request.RequireBool("enabled")
	if err != nil {
		return nil, fmt.Errorf("enabled parameter is required: %w", err)
	}
	env, err := parseEnvironment(request.GetString("environment", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	states, err := s.sessions.ConfigureAll(id, enabled, env)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stateResponse{States: states, Updates: []session.Update{}})
}

func (s *MCPServer) handleEdit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, side, err := s.side(request)
	if err != nil {
		return nil, err
	}
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	s.logger.Info("sandbox edit requested", zap.String("conversation", id), zap.Int("code_len", len(code)))
	return s.drain(side, side.Edit(ctx, code))
}

func (s *MCPServer) handleRunMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, side, err := s.side(request)
	if err != nil {
		return nil, err
	}
	message, err := request.RequireString("message")
	if err != nil {
		return nil, fmt.Errorf("message parameter is required: %w", err)
	}

	s.logger.Info("sandbox run requested", zap.String("conversation", id), zap.Int("message_len", len(message)))
	return s.drain(side, side.MessageRun(ctx, message))
}

func (s *MCPServer) handleApplyInstruction(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, side, err := s.side(request)
	if err != nil {
		return nil, err
	}

	prompt, state := side.ApplyInstruction(request.GetString("system_prompt", ""))
	return jsonResult(stateResponse{State: &state, Updates: []session.Update{}, SystemPrompt: &prompt})
}

func (s *MCPServer) handleReset(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("conversation_id")
	if err != nil {
		return nil, fmt.Errorf("conversation_id parameter is required: %w", err)
	}
	return jsonResult(stateResponse{States: s.sessions.Reset(id), Updates: []session.Update{}})
}

func (s *MCPServer) handleEndConversation(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("conversation_id")
	if err != nil {
		return nil, fmt.Errorf("conversation_id parameter is required: %w", err)
	}

	ended := s.sessions.End(id)
	s.logger.Info("conversation ended", zap.String("conversation", id), zap.Bool("existed", ended))
	return jsonResult(map[string]any{"conversation_id": id, "ended": ended})
}

func (s *MCPServer) handleExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := request.RequireString("message")
	if err != nil {
		return nil, fmt.Errorf("message parameter is required: %w", err)
	}

	res, ok := s.extractor.Extract(ctx, extract.StripRunMarker(message), request.GetBool("auto", false))
	return jsonResult(struct {
		OK     bool           `json:"ok"`
		Result extract.Result `json:"result"`
	}{OK: ok, Result: res})
}

// side resolves the conversation_id and side parameters.
func (s *MCPServer) side(request mcp.CallToolRequest) (string, *session.Side, error) {
	id, err := request.RequireString("conversation_id")
	if err != nil {
		return "", nil, fmt.Errorf("conversation_id parameter is required: %w", err)
	}
	index, err := request.RequireInt("side")
	if err != nil {
		return "", nil, fmt.Errorf("side parameter is required: %w", err)
	}
	side, err := s.sessions.Side(id, index)
	if err != nil {
		return "", nil, err
	}
	return id, side, nil
}

// drain runs an operation to completion and reports every frame it produced.
func (s *MCPServer) drain(side *session.Side, updates iter.Seq2[session.Update, error]) (*mcp.CallToolResult, error) {
	collected := []session.Update{}
	for update, err := range updates {
		if err != nil {
			s.logger.Error("sandbox operation failed", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Sandbox operation failed: %v", err)), nil
		}
		collected = append(collected, update)
	}

	state := side.State()
	return jsonResult(stateResponse{State: &state, Updates: collected})
}

func parseEnvironment(value string) (environment.Tag, error) {
	if value == "" || strings.EqualFold(value, "none") {
		return environment.None, nil
	}
	return environment.Parse(value)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
