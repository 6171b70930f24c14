// Package sandbox runs extracted code in isolated remote environments.
//
// A Runtime provisions a Sandbox from a template. Three runtimes exist: the
// E2B cloud (the default), a docker or podman engine running one container
// per sandbox, and a local runtime for development that runs commands on the
// host itself.
//
// The Dispatcher maps every runnable environment tag to a handler.
// Interpreter environments run the code once and return the captured output
// rendered as markdown. Service environments install dependencies, write the
// code to a fixed path, optionally build it, start a server and return its
// URL. The handler table is checked for completeness at construction.
//
// Usage:
//
//	runtime, err := sandbox.NewRuntime(logger, cfg)
//	dispatcher, err := sandbox.NewDispatcher(logger, runtime, sandbox.DefaultTimeouts)
//	result, err := dispatcher.Dispatch(ctx, environment.HTML, sandbox.Job{
//	    Code:     "<h1>Hello</h1>",
//	    Language: "html",
//	})
//	fmt.Println(result.URL())
package sandbox
