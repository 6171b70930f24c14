package session

import (
	"fmt"
	"strings"

	"github.com/isdmx/codearena/environment"
	"github.com/isdmx/codearena/extract"
)

// State is the sandbox record of one conversation side. Once
// ConfigLockedAfterRound is positive, Instruction and Environment are frozen
// and only the pending fields change.
type State struct {
	Enabled                 bool                 `json:"enabled"`
	Environment             environment.Tag      `json:"environment"`
	AutoDetectedEnvironment environment.Tag      `json:"auto_detected_environment,omitempty"`
	Instruction             string               `json:"instruction,omitempty"`
	PendingCode             string               `json:"pending_code"`
	PendingLanguage         string               `json:"pending_language,omitempty"`
	PendingDependencies     extract.Dependencies `json:"pending_dependencies"`
	ConfigLockedAfterRound  int                  `json:"config_locked_after_round"`
}

// Locked reports whether the configuration is frozen for the conversation.
func (s State) Locked() bool {
	return s.ConfigLockedAfterRound > 0
}

// EffectiveEnvironment is the environment a run dispatches to: the explicit
// one, or the detected one in auto mode.
func (s State) EffectiveEnvironment() environment.Tag {
	if s.Environment == environment.Auto {
		return s.AutoDetectedEnvironment
	}
	return s.Environment
}

// View is one renderable frame of a sandbox operation: a status line, the
// served app (nil hides it) and the code echo (nil leaves it unchanged).
type View struct {
	Status string      `json:"status"`
	Served *ServedView `json:"served,omitempty"`
	Code   *CodeEcho   `json:"code,omitempty"`
}

// ServedView points the UI at a running sandbox app
type ServedView struct {
	URL  string `json:"url"`
	Code string `json:"code"`
}

// CodeEcho shows the code being run
type CodeEcho struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// Update is a state snapshot together with the frame to render for it
type Update struct {
	State State `json:"state"`
	View  View  `json:"view"`
}

// Status texts
const (
	StatusLoading = "### Loading Sandbox"
	StatusRunning = "### Running Sandbox"
	StatusError   = "### Sandbox Error"
)

func errorStatus(err error) string {
	return fmt.Sprintf("%s\n```\n%s\n```", StatusError, err)
}

// supportedLanguages are the languages the chat UI can highlight. Anything
// else is stored as no language.
var supportedLanguages = map[string]struct{}{
	"python": {}, "c": {}, "cpp": {}, "markdown": {}, "json": {}, "html": {}, "css": {},
	"javascript": {}, "jinja2": {}, "typescript": {}, "yaml": {}, "dockerfile": {},
	"shell": {}, "r": {}, "sql": {}, "sql-mssql": {}, "sql-mysql": {}, "sql-mariadb": {},
	"sql-sqlite": {}, "sql-cassandra": {}, "sql-plsql": {}, "sql-hive": {}, "sql-pgsql": {},
	"sql-gql": {}, "sql-gpsql": {}, "sql-sparksql": {}, "sql-esper": {},
}

var languageAliases = map[string]string{
	"tsx":   "typescript",
	"ts":    "typescript",
	"py":    "python",
	"js":    "javascript",
	"jsx":   "javascript",
	"xhtml": "html",
	"xml":   "html",
}

// unhighlightedLanguages can be run but have no highlighter in the chat UI.
var unhighlightedLanguages = map[string]struct{}{
	"vue": {},
}

// NormalizeLanguage maps a fence tag to its canonical name, returning "" for
// languages that are neither highlighted nor runnable.
func NormalizeLanguage(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if alias, ok := languageAliases[lang]; ok {
		lang = alias
	}
	if _, ok := unhighlightedLanguages[lang]; ok {
		return lang
	}
	if _, ok := supportedLanguages[lang]; !ok {
		return ""
	}
	return lang
}

// highlightLanguage is the code echo language for a normalized language. The
// echo carries no language when the UI cannot highlight it.
func highlightLanguage(language string) string {
	if _, ok := supportedLanguages[language]; !ok {
		return ""
	}
	return language
}
