package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/config"
	"github.com/isdmx/codearena/extract"
	"github.com/isdmx/codearena/logger"
	"github.com/isdmx/codearena/mcpserver"
	"github.com/isdmx/codearena/observability"
	"github.com/isdmx/codearena/sandbox"
	"github.com/isdmx/codearena/session"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			func(cfg *config.Config) (*zap.Logger, error) { return logger.NewFromConfig(cfg) },

			// Sandbox runtime and dispatcher based on config
			sandbox.NewRuntime,
			sandbox.NewDispatcherFromConfig,

			extract.New,
			func(e *extract.Extractor) session.Extractor { return e },
			newSessionManager,

			mcpserver.New,
		),

		fx.Invoke(startMetrics),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

func newSessionManager(log *zap.Logger, dispatcher *sandbox.Dispatcher, extractor session.Extractor) *session.Manager {
	return session.NewManager(log, dispatcher, extractor)
}

func startMetrics(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	srv := observability.NewServer(log, cfg.Metrics.Port)
	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Stop,
	})
}
