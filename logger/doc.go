// Package logger builds the application's zap logger.
//
// Production mode writes unsampled JSON with an ISO8601 "timestamp" field,
// development mode writes colored console output. NewFromConfig tags every
// entry with the service, sandbox backend and transport, and keeps stdout free
// for MCP frames on the stdio transport.
//
// Usage:
//
//	log, err := logger.New("development", "debug")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("sandbox run finished", zap.String("environment", "html"))
package logger
