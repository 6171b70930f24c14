// Package config provides application configuration management.
//
// The config package loads config.yaml (from . or ./config) over built-in
// defaults and validates the result. It covers the MCP transport, logging,
// the sandbox backend with its timeouts, the E2B credential and templates,
// the container images and the metrics endpoint. E2B_API_KEY overrides
// e2b.api_key.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
