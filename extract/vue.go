package extract

import (
	"context"
	"regexp"
	"strings"
)

var vueLanguages = setOf("vue")

var (
	sfcBlockRe  = regexp.MustCompile(`(?m)^<(template|script\b[^>]*\bsetup\b)`)
	sfcScriptRe = regexp.MustCompile(`(?s)<script\b[^>]*>(.*?)</script>`)
)

// isSingleFileComponent reports whether code is laid out as a Vue single-file
// component: a <template> block, or a <script setup> block, starting a line
// at column zero. JSX markup is always nested in an expression and never
// matches.
func isSingleFileComponent(code string) bool {
	return sfcBlockRe.MatchString(code)
}

// sfcImports collects the npm packages imported by the <script> blocks of a
// single-file component. Code without script tags is treated as one script.
func sfcImports(ctx context.Context, code string) []string {
	matches := sfcScriptRe.FindAllStringSubmatch(code, -1)
	if len(matches) == 0 {
		if isSingleFileComponent(code) {
			return nil
		}
		return parseJS(ctx, code).imports(ctx)
	}

	scripts := make([]string, 0, len(matches))
	for _, m := range matches {
		scripts = append(scripts, m[1])
	}
	return parseJS(ctx, strings.Join(scripts, "\n")).imports(ctx)
}
