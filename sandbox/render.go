package sandbox

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Artifact is one typed result produced by interpreted code. Fields hold the
// formats the interpreter reported; usually exactly one is set.
type Artifact struct {
	PNG        []byte
	JPEG       []byte
	SVG        string
	HTML       string
	Markdown   string
	LaTeX      string
	JSON       string
	JavaScript string
	Text       string
}

// String is the generic form of an artifact.
func (a Artifact) String() string {
	if a.Text != "" {
		return a.Text
	}
	return fmt.Sprintf("Result(formats=[%s])", strings.Join(a.formats(), ", "))
}

func (a Artifact) formats() []string {
	var out []string
	if len(a.PNG) > 0 {
		out = append(out, "png")
	}
	if len(a.JPEG) > 0 {
		out = append(out, "jpeg")
	}
	if a.SVG != "" {
		out = append(out, "svg")
	}
	if a.HTML != "" {
		out = append(out, "html")
	}
	if a.Markdown != "" {
		out = append(out, "markdown")
	}
	if a.LaTeX != "" {
		out = append(out, "latex")
	}
	if a.JSON != "" {
		out = append(out, "json")
	}
	if a.JavaScript != "" {
		out = append(out, "javascript")
	}
	return out
}

// Render converts an artifact to markdown. Kinds are checked in a fixed
// priority order and exactly one branch applies.
func Render(a Artifact) string {
	switch {
	case len(a.PNG) > 0:
		return fmt.Sprintf("![png image](data:image/png;base64,%s)", base64.StdEncoding.EncodeToString(a.PNG))
	case len(a.JPEG) > 0:
		return fmt.Sprintf("![jpeg image](data:image/jpeg;base64,%s)", base64.StdEncoding.EncodeToString(a.JPEG))
	case a.SVG != "":
		return fmt.Sprintf("![svg image](data:image/svg+xml;base64,%s)", base64.StdEncoding.EncodeToString([]byte(a.SVG)))
	case a.HTML != "":
		return a.HTML
	case a.Markdown != "":
		return fenced("markdown", a.Markdown)
	case a.LaTeX != "":
		return fenced("latex", a.LaTeX)
	case a.JSON != "":
		return fenced("json", a.JSON)
	case a.JavaScript != "":
		return a.JavaScript
	default:
		return a.String()
	}
}

func fenced(kind, body string) string {
	return "```" + kind + "\n" + body + "\n```"
}

// FormatExecution renders interpreter output as labelled stdout, stderr and
// results sections. Empty sections are left out.
func FormatExecution(exec Execution) string {
	var b strings.Builder

	if stdout := strings.Join(exec.Stdout, "\n"); stdout != "" {
		fmt.Fprintf(&b, "### Stdout:\n```\n%s\n```\n\n", stdout)
	}

	stderr := exec.Stderr
	if exec.Error != nil {
		stderr = append(append([]string{}, stderr...), exec.Error.String())
	}
	if joined := strings.Join(stderr, "\n"); joined != "" {
		fmt.Fprintf(&b, "### Stderr:\n```\n%s\n```\n\n", joined)
	}

	if len(exec.Results) > 0 {
		rendered := make([]string, 0, len(exec.Results))
		for _, artifact := range exec.Results {
			rendered = append(rendered, Render(artifact))
		}
		b.WriteString("\n### Results:\n" + strings.Join(rendered, "\n"))
	}

	return b.String()
}
