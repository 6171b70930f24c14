package extract

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/isdmx/codearena/environment"
)

// Bare names that signal a UI framework even when the import is aliased away.
var pythonSignals = map[string]environment.Tag{
	"gr": environment.Gradio,
	"st": environment.Streamlit,
}

// Import based framework detection, in priority order.
var pythonFrameworks = []struct {
	module string
	tag    environment.Tag
}{
	{"pygame", environment.PyGame},
	{"gradio", environment.Gradio},
	{"streamlit", environment.Streamlit},
	{"nicegui", environment.NiceGUI},
}

// pythonSource is a Python fragment. root is nil when the fragment does not
// parse cleanly.
type pythonSource struct {
	src  []byte
	root *sitter.Node
}

func parsePython(ctx context.Context, code string) pythonSource {
	src := []byte(code)
	root, clean := parseTree(ctx, python.GetLanguage(), src)
	if !clean {
		return pythonSource{src: src}
	}
	return pythonSource{src: src, root: root}
}

// imports returns the sorted top-level module names the fragment imports,
// including stdlib modules. Relative imports are skipped.
func (p pythonSource) imports() []string {
	if p.root == nil {
		return nil
	}

	found := make(map[string]struct{})
	add := func(module string) {
		if top, _, _ := strings.Cut(strings.TrimSpace(module), "."); top != "" {
			found[top] = struct{}{}
		}
	}

	walk(p.root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				name := n.NamedChild(i)
				if name != nil && name.Type() == "aliased_import" {
					name = name.ChildByFieldName("name")
				}
				if name != nil && name.Type() == "dotted_name" {
					add(name.Content(p.src))
				}
			}
			return false
		case "import_from_statement":
			// relative imports carry a relative_import module node
			if module := n.ChildByFieldName("module_name"); module != nil && module.Type() == "dotted_name" {
				add(module.Content(p.src))
			}
			return false
		case "future_import_statement":
			add("__future__")
			return false
		case "call":
			if module, ok := p.dynamicImport(n); ok {
				add(module)
			}
		}
		return true
	})

	return sortedKeys(found)
}

// dynamicImport matches importlib.import_module("x"), import_module("x") and
// __import__("x") with a literal first argument.
func (p pythonSource) dynamicImport(call *sitter.Node) (string, bool) {
	fn := call.ChildByFieldName("function")
	args := call.ChildByFieldName("arguments")
	if fn == nil || args == nil || args.NamedChildCount() == 0 {
		return "", false
	}

	switch fn.Type() {
	case "identifier":
		name := fn.Content(p.src)
		if name != "__import__" && name != "import_module" {
			return "", false
		}
	case "attribute":
		object := fn.ChildByFieldName("object")
		attr := fn.ChildByFieldName("attribute")
		if object == nil || attr == nil || object.Content(p.src) != "importlib" || attr.Content(p.src) != "import_module" {
			return "", false
		}
	default:
		return "", false
	}

	arg := args.NamedChild(0)
	if arg == nil || arg.Type() != "string" {
		return "", false
	}
	return unquotePython(arg.Content(p.src))
}

// unquotePython returns the value of a plain Python string literal. Formatted
// strings are rejected since their value is not known statically.
func unquotePython(literal string) (string, bool) {
	body := strings.TrimLeft(literal, "rRbBuUfF")
	if strings.ContainsAny(literal[:len(literal)-len(body)], "fF") {
		return "", false
	}
	for _, quote := range []string{`"""`, `'''`, `"`, `'`} {
		if len(body) >= 2*len(quote) && strings.HasPrefix(body, quote) && strings.HasSuffix(body, quote) {
			return body[len(quote) : len(body)-len(quote)], true
		}
	}
	return "", false
}

// signal returns the framework tag of the first bare gr or st reference.
func (p pythonSource) signal() environment.Tag {
	if p.root == nil {
		return environment.None
	}
	return p.signalIn(p.root)
}

func (p pythonSource) signalIn(n *sitter.Node) environment.Tag {
	switch n.Type() {
	case "identifier":
		return pythonSignals[n.Content(p.src)]
	case "import_statement", "import_from_statement", "future_import_statement",
		"global_statement", "nonlocal_statement":
		return environment.None
	}

	skip := declaredNames(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child == nil || containsNode(skip, child) {
			continue
		}
		if tag := p.signalIn(child); tag != environment.None {
			return tag
		}
	}
	return environment.None
}

// declaredNames returns the children of n that declare or select a name
// instead of referencing a variable.
func declaredNames(n *sitter.Node) []*sitter.Node {
	switch n.Type() {
	case "attribute":
		return fieldNodes(n, "attribute")
	case "keyword_argument", "function_definition", "class_definition",
		"default_parameter", "typed_default_parameter":
		return fieldNodes(n, "name")
	case "parameters", "lambda_parameters", "typed_parameter":
		var out []*sitter.Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child == nil {
				continue
			}
			switch child.Type() {
			case "identifier", "list_splat_pattern", "dictionary_splat_pattern":
				out = append(out, child)
			}
		}
		return out
	}
	return nil
}

func fieldNodes(n *sitter.Node, field string) []*sitter.Node {
	if child := n.ChildByFieldName(field); child != nil {
		return []*sitter.Node{child}
	}
	return nil
}

func containsNode(nodes []*sitter.Node, n *sitter.Node) bool {
	for _, candidate := range nodes {
		if sameNode(candidate, n) {
			return true
		}
	}
	return false
}

// pythonDependencies drops stdlib modules and the frameworks preinstalled in
// the service templates.
func pythonDependencies(imports []string) []string {
	var deps []string
	for _, module := range imports {
		if _, ok := pythonStdlib[module]; ok {
			continue
		}
		if _, ok := preinstalledFrameworks[module]; ok {
			continue
		}
		deps = append(deps, module)
	}
	return deps
}

// classifyPython decides the environment for a Python fragment. imports is the
// unfiltered import list. Any Python fragment without a framework signal runs
// in the interpreter.
func classifyPython(src pythonSource, imports []string) environment.Tag {
	if tag := src.signal(); tag != environment.None {
		return tag
	}

	imported := setOf(imports...)
	for _, fw := range pythonFrameworks {
		if _, ok := imported[fw.module]; ok {
			return fw.tag
		}
	}
	return environment.PythonInterpreter
}
