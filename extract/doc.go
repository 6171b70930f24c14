// Package extract finds runnable code in model output.
//
// A message is scanned for fenced code blocks and the longest one is taken as
// the program. Python fragments are parsed with the tree-sitter Python grammar;
// JavaScript and TypeScript fragments go through TSX, TypeScript and
// JavaScript grammars before a line based fallback. The imports found become
// the dependencies to install, and together with syntax signals (bare gr / st
// names, JSX elements) they decide the sandbox environment.
//
// Malformed code is routine input: parse failures yield empty dependency
// lists instead of errors.
package extract
