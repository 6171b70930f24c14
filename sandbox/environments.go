package sandbox

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/isdmx/codearena/environment"
)

// service describes how a service-style environment deploys and serves code.
type service struct {
	template Template
	// setup runs before dependencies are installed.
	setup []string
	// codePath is relative to the sandbox home directory.
	codePath string
	// build runs after the code is written, with the build timeout.
	build string
	// serve starts the server in the background. Empty when the template
	// serves the code by itself.
	serve  string
	port   int
	suffix string
}

var services = map[environment.Tag]service{
	environment.HTML: {
		template: TemplateBase,
		codePath: "myhtml/main.html",
		serve:    "python -m http.server 3000",
		port:     3000,
		suffix:   "/myhtml/main.html",
	},
	environment.React: {
		template: TemplateNextJS,
		codePath: "pages/index.tsx",
		port:     3000,
	},
	environment.Vue: {
		template: TemplateVue,
		codePath: "app.vue",
		port:     3000,
	},
	environment.Gradio: {
		template: TemplateGradio,
		codePath: "app.py",
		port:     7860,
	},
	environment.Streamlit: {
		template: TemplateBase,
		setup:    []string{"pip install --upgrade streamlit"},
		codePath: "mystreamlit/app.py",
		serve:    "streamlit run ~/mystreamlit/app.py --server.port 8501 --server.headless true",
		port:     8501,
	},
	environment.NiceGUI: {
		template: TemplateBase,
		setup:    []string{"pip install --upgrade nicegui"},
		codePath: "mynicegui/main.py",
		serve:    "python ~/mynicegui/main.py",
		port:     8080,
	},
	environment.PyGame: {
		template: TemplateBase,
		setup:    []string{"pip install uv", "uv pip install --system pygame pygbag black"},
		codePath: "mygame/main.py",
		build:    "pygbag --build ~/mygame",
		serve:    "python -m http.server 3000",
		port:     3000,
		suffix:   "/mygame/build/web/",
	},
}

// ServicePorts lists the ports service environments listen on.
func ServicePorts() []int {
	seen := make(map[int]struct{})
	var ports []int
	for _, tag := range environment.Runnable() {
		svc, ok := services[tag]
		if !ok {
			continue
		}
		if _, dup := seen[svc.port]; !dup {
			seen[svc.port] = struct{}{}
			ports = append(ports, svc.port)
		}
	}
	return ports
}

// serviceHandler deploys code into a long running sandbox and returns its
// URL. Setup and dependency installs come before the code is written, the
// build comes before the server starts.
func (d *Dispatcher) serviceHandler(tag environment.Tag, svc service) handler {
	return func(ctx context.Context, job Job) (Result, error) {
		sb, err := d.runtime.Provision(ctx, svc.template)
		if err != nil {
			return Result{}, fmt.Errorf("failed to provision sandbox: %w", err)
		}
		// a served sandbox lives until its lifetime expires
		serving := false
		defer func() {
			if !serving {
				d.closeSandbox(sb)
			}
		}()

		uvInstalled := false
		for _, cmd := range svc.setup {
			if err := d.exec(ctx, sb, "install", cmd, d.timeouts.Install); err != nil {
				return Result{}, err
			}
			if cmd == "pip install uv" {
				uvInstalled = true
			}
		}

		deps := job.Dependencies
		if len(deps.Python) > 0 && !uvInstalled {
			if err := d.exec(ctx, sb, "install", "pip install uv", d.timeouts.Install); err != nil {
				return Result{}, err
			}
		}
		if err := d.installDependencies(ctx, sb, deps); err != nil {
			return Result{}, err
		}

		if err := d.write(ctx, sb, svc.codePath, job.Code); err != nil {
			return Result{}, err
		}

		if svc.build != "" {
			if err := d.exec(ctx, sb, "build", svc.build, d.timeouts.Build); err != nil {
				return Result{}, err
			}
		}

		if svc.serve != "" {
			if err := sb.StartBackground(ctx, svc.serve); err != nil {
				return Result{}, fmt.Errorf("failed to start %q: %w", svc.serve, err)
			}
		}

		host, err := sb.Host(ctx, svc.port)
		if err != nil {
			return Result{}, fmt.Errorf("failed to expose port %d: %w", svc.port, err)
		}
		if host == "" {
			return Result{}, fmt.Errorf("runtime %s returned an empty host for port %d", d.runtime.Name(), svc.port)
		}

		url := d.runtime.Scheme() + "://" + host + svc.suffix
		d.logger.Debug("sandbox serving",
			zap.String("environment", tag.String()),
			zap.String("sandbox", sb.ID()),
			zap.String("url", url),
		)
		serving = true
		return Served(url), nil
	}
}

func (d *Dispatcher) write(ctx context.Context, sb Sandbox, codePath, code string) error {
	writeCtx, cancel := context.WithTimeout(ctx, d.timeouts.Write)
	defer cancel()

	if err := sb.WriteFile(writeCtx, path.Clean(codePath), []byte(code)); err != nil {
		if writeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("write %s after %s: %w", codePath, d.timeouts.Write, ErrCommandTimeout)
		}
		return fmt.Errorf("failed to write %s: %w", codePath, err)
	}
	return nil
}
