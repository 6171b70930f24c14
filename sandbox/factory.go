package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/codearena/config"
)

// NewRuntime creates the sandbox runtime selected by sandbox.backend
func NewRuntime(logger *zap.Logger, cfg *config.Config) (Runtime, error) {
	switch cfg.Sandbox.Backend {
	case "e2b":
		templates := make(map[Template]string, len(cfg.E2B.Templates))
		for kind, id := range cfg.E2B.Templates {
			templates[Template(kind)] = id
		}
		return NewE2BRuntime(logger, E2BConfig{
			APIKey:    cfg.E2B.APIKey,
			APIURL:    cfg.E2B.APIURL,
			Domain:    cfg.E2B.Domain,
			Templates: templates,
			Lifetime:  cfg.Lifetime(),
		}), nil
	case "docker", "podman":
		templates := make(map[Template]ContainerTemplate, len(cfg.Container.Templates))
		for kind, tmpl := range cfg.Container.Templates {
			templates[Template(kind)] = ContainerTemplate{Image: tmpl.Image, StartCommand: tmpl.StartCommand}
		}
		binary := cfg.Container.Binary
		if binary == "" || cfg.Sandbox.Backend == "podman" {
			binary = cfg.Sandbox.Backend
		}
		return NewContainerRuntime(logger, ContainerConfig{
			Binary:    binary,
			WorkRoot:  cfg.Container.WorkRoot,
			Templates: templates,
			Lifetime:  cfg.Lifetime(),
		}), nil
	case "local":
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled, set sandbox.enable_local_backend to use it")
		}
		commands := make(map[Template]string, len(cfg.Local.StartCommands))
		for kind, cmd := range cfg.Local.StartCommands {
			commands[Template(kind)] = cmd
		}
		return NewLocalRuntime(logger, LocalConfig{
			WorkRoot:      cfg.Local.WorkRoot,
			StartCommands: commands,
			Lifetime:      cfg.Lifetime(),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}

// NewDispatcherFromConfig wires the configured timeouts into a Dispatcher
func NewDispatcherFromConfig(logger *zap.Logger, cfg *config.Config, runtime Runtime) (*Dispatcher, error) {
	return NewDispatcher(logger, runtime, Timeouts{
		Install: cfg.InstallTimeout(),
		Build:   cfg.BuildTimeout(),
		Write:   cfg.WriteTimeout(),
		Run:     cfg.RunTimeout(),
	})
}
