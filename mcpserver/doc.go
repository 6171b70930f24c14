// Package mcpserver exposes the arena sandbox sessions as Model Context
// Protocol (MCP) tools.
//
// It uses the mark3labs/mcp-go library for the protocol and registers one
// tool per session operation: sandbox_new_conversation, sandbox_configure,
// sandbox_configure_all, sandbox_edit, sandbox_run_message,
// sandbox_apply_instruction, sandbox_reset, sandbox_end_conversation and
// sandbox_extract. State-mutating tools answer with a JSON document holding
// the side state and the frames the operation produced. Failures come back as
// tool errors.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, sessions, extractor)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
