// Package main is the entry point for the codearena sandbox server.
//
// The server keeps the sandbox state of every side of an arena conversation,
// extracts code from model replies and runs it on E2B, a local container
// engine or, for development only, the host. Its operations are exposed as MCP
// tools over stdio or HTTP, and Prometheus metrics can be served on a
// separate port.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
