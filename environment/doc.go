// Package environment defines the closed set of sandbox environments.
//
// Every runnable code artifact is handled by exactly one environment. The
// interpreter-style environments capture text output; the service-style
// environments expose a long-running process through a URL. The package also
// owns the instruction templates that are appended to a model's system prompt
// when a sandbox environment is selected.
//
// Usage:
//
//	tag, err := environment.Parse("react")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(tag.IsInterpreter(), environment.Instruction(tag))
package environment
