package extract

import (
	"context"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// parseTree parses src with lang. It returns the root node even when the tree
// contains syntax errors; clean reports whether it does not. A nil root means
// the parser gave up.
func parseTree(ctx context.Context, lang *sitter.Language, src []byte) (root *sitter.Node, clean bool) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil || tree == nil {
		return nil, false
	}
	root = tree.RootNode()
	if root == nil {
		return nil, false
	}
	return root, !root.HasError()
}

// walk visits n and its descendants in document order. Returning false from
// visit skips the children of that node.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), visit)
	}
}

// find returns the first node in document order for which match is true.
func find(n *sitter.Node, match func(*sitter.Node) bool) *sitter.Node {
	if n == nil {
		return nil
	}
	if match(n) {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if hit := find(n.Child(i), match); hit != nil {
			return hit
		}
	}
	return nil
}

// sameNode compares two nodes of the same tree by position and type.
func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil &&
		a.StartByte() == b.StartByte() &&
		a.EndByte() == b.EndByte() &&
		a.Type() == b.Type()
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
