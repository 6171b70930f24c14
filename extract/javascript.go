package extract

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/isdmx/codearena/environment"
)

var (
	reactPackages = setOf("react", "@react", "next", "@next", "vite")
	vuePackages   = setOf("vue", "@vue", "nuxt", "@nuxt")
)

var (
	importLineRe = regexp.MustCompile(`^import\b.*?['"]([^'"]+)['"]`)
	requireRe    = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
)

// importStrategy collects npm package names from a fragment. ok is false when
// the strategy could not handle the input.
type importStrategy func(ctx context.Context) (packages []string, ok bool)

// jsSource is a JavaScript or TypeScript fragment. tsx is the TSX parse of the
// fragment, kept even when it has syntax errors.
type jsSource struct {
	src      []byte
	tsx      *sitter.Node
	tsxClean bool
}

func parseJS(ctx context.Context, code string) jsSource {
	src := []byte(code)
	root, clean := parseTree(ctx, tsx.GetLanguage(), src)
	return jsSource{src: src, tsx: root, tsxClean: clean}
}

// imports runs the strategies in order (TSX, TypeScript, JavaScript, line
// regex) and returns the first result.
func (j jsSource) imports(ctx context.Context) []string {
	strategies := []importStrategy{
		func(context.Context) ([]string, bool) {
			if !j.tsxClean {
				return nil, false
			}
			return j.treeImports(j.tsx), true
		},
		j.grammarImports(typescript.GetLanguage()),
		j.grammarImports(javascript.GetLanguage()),
		j.regexImports,
	}

	for _, strategy := range strategies {
		if packages, ok := strategy(ctx); ok {
			return packages
		}
	}
	return nil
}

func (j jsSource) grammarImports(lang *sitter.Language) importStrategy {
	return func(ctx context.Context) ([]string, bool) {
		root, clean := parseTree(ctx, lang, j.src)
		if !clean {
			return nil, false
		}
		return j.treeImports(root), true
	}
}

func (j jsSource) treeImports(root *sitter.Node) []string {
	found := make(map[string]struct{})

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement", "export_statement":
			if source := n.ChildByFieldName("source"); source != nil {
				addPackage(found, unquoteJS(source.Content(j.src)))
			}
		case "call_expression":
			fn := n.ChildByFieldName("function")
			args := n.ChildByFieldName("arguments")
			if fn == nil || args == nil || args.NamedChildCount() == 0 {
				break
			}
			if fn.Type() != "import" && (fn.Type() != "identifier" || fn.Content(j.src) != "require") {
				break
			}
			if arg := args.NamedChild(0); arg != nil && arg.Type() == "string" {
				addPackage(found, unquoteJS(arg.Content(j.src)))
			}
		}
		return true
	})

	return sortedKeys(found)
}

// regexImports never fails.
func (j jsSource) regexImports(context.Context) ([]string, bool) {
	found := make(map[string]struct{})
	for _, line := range strings.Split(string(j.src), "\n") {
		line = strings.TrimSpace(line)
		if m := importLineRe.FindStringSubmatch(line); m != nil {
			addPackage(found, m[1])
		}
		for _, m := range requireRe.FindAllStringSubmatch(line, -1) {
			addPackage(found, m[1])
		}
	}
	return sortedKeys(found), true
}

func unquoteJS(literal string) string {
	return strings.Trim(literal, "\"'`")
}

func addPackage(found map[string]struct{}, specifier string) {
	if name, ok := packageName(specifier); ok {
		found[name] = struct{}{}
	}
}

// packageName maps an import specifier to the npm package that provides it.
// Scoped packages keep their @scope/name form; other specifiers are cut at
// the first slash. Relative paths, absolute paths, URLs and node: builtins
// have no package.
func packageName(specifier string) (string, bool) {
	specifier = strings.TrimSpace(specifier)
	switch {
	case specifier == "",
		strings.HasPrefix(specifier, "."),
		strings.HasPrefix(specifier, "/"),
		strings.HasPrefix(specifier, "node:"),
		strings.Contains(specifier, "://"):
		return "", false
	}

	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") && len(parts) > 1 && parts[1] != "" {
		return parts[0] + "/" + parts[1], true
	}
	return parts[0], true
}

// templateSyntax returns the framework signalled by the first JSX element of
// the TSX tree: a <template> element is a Vue template block, anything else
// is React markup.
func (j jsSource) templateSyntax() environment.Tag {
	element := find(j.tsx, func(n *sitter.Node) bool {
		t := n.Type()
		return t == "jsx_element" || t == "jsx_self_closing_element"
	})
	if element == nil {
		return environment.None
	}

	tagNode := element
	if element.Type() == "jsx_element" {
		tagNode = element.ChildByFieldName("open_tag")
	}
	if tagNode != nil {
		if name := tagNode.ChildByFieldName("name"); name != nil && name.Content(j.src) == "template" {
			return environment.Vue
		}
	}
	return environment.React
}

// classifyJS decides the environment for a JavaScript or TypeScript fragment.
func classifyJS(src jsSource, packages []string) environment.Tag {
	if tag := src.templateSyntax(); tag != environment.None {
		return tag
	}

	for _, pkg := range packages {
		if _, ok := reactPackages[pkg]; ok {
			return environment.React
		}
	}
	for _, pkg := range packages {
		if _, ok := vuePackages[pkg]; ok {
			return environment.Vue
		}
	}
	return environment.JSInterpreter
}
