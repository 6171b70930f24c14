package extract

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/codearena/environment"
	"github.com/isdmx/codearena/observability"
)

// Dependencies are the packages a fragment needs installed. Both lists are
// sorted and free of duplicates.
type Dependencies struct {
	Python []string `json:"python"`
	NPM    []string `json:"npm"`
}

// Equal reports whether d and other list the same packages. A nil list equals
// an empty one.
func (d Dependencies) Equal(other Dependencies) bool {
	return slices.Equal(d.Python, other.Python) && slices.Equal(d.NPM, other.NPM)
}

// Empty reports whether nothing needs installing.
func (d Dependencies) Empty() bool {
	return len(d.Python) == 0 && len(d.NPM) == 0
}

// Result is the outcome of one extraction attempt. Environment is
// environment.None when the code could not be classified.
type Result struct {
	Code         string          `json:"code"`
	Language     string          `json:"language"`
	Dependencies Dependencies    `json:"dependencies"`
	Environment  environment.Tag `json:"environment"`
}

// Language families.
var (
	pythonLanguages = setOf("py", "python")
	jsLanguages     = setOf("js", "javascript", "ts", "typescript", "tsx", "jsx")
	htmlLanguages   = setOf("html", "xhtml", "xml")
)

// Extraction outcome labels.
const (
	outcomeNoCode       = "no_code"
	outcomeUnclassified = "unclassified"
)

// Extractor turns chat messages into runnable code.
type Extractor struct {
	logger *zap.Logger
}

// New creates an Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract finds the canonical code block of message, collects its dependencies
// and classifies it. ok is false when the message holds no code, or when auto
// is set and the code could not be classified.
func (e *Extractor) Extract(ctx context.Context, message string, auto bool) (Result, bool) {
	block, found := FindCodeBlock(message)
	if !found {
		observability.ExtractionsTotal.WithLabelValues(outcomeNoCode).Inc()
		return Result{}, false
	}

	res := Result{Code: block.Code, Language: block.Language}
	family := "other"

	switch {
	case has(pythonLanguages, block.Language):
		family = "python"
		src := parsePython(ctx, block.Code)
		imports := src.imports()
		res.Dependencies.Python = pythonDependencies(imports)
		res.Environment = classifyPython(src, imports)
	case has(vueLanguages, block.Language),
		!has(htmlLanguages, block.Language) && isSingleFileComponent(block.Code):
		family = "vue"
		res.Dependencies.NPM = sfcImports(ctx, block.Code)
		res.Environment = environment.Vue
	case has(jsLanguages, block.Language):
		family = "javascript"
		src := parseJS(ctx, block.Code)
		res.Dependencies.NPM = src.imports(ctx)
		res.Environment = classifyJS(src, res.Dependencies.NPM)
	case has(htmlLanguages, block.Language) || isHTMLDocument(block.Code):
		family = "html"
		res.Environment = environment.HTML
	}

	if auto && res.Environment == environment.None {
		e.logger.Debug("code could not be classified", zap.String("language", block.Language))
		observability.ExtractionsTotal.WithLabelValues(outcomeUnclassified).Inc()
		return Result{}, false
	}

	e.logger.Debug("code extracted",
		zap.String("language", res.Language),
		zap.String("environment", res.Environment.String()),
		zap.Strings("python_dependencies", res.Dependencies.Python),
		zap.Strings("npm_dependencies", res.Dependencies.NPM),
	)
	observability.ExtractionsTotal.WithLabelValues(family).Inc()
	return res, true
}

func isHTMLDocument(code string) bool {
	return strings.Contains(code, "<!DOCTYPE html>") || strings.Contains(code, "<html")
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
