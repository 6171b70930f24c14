package environment

import (
	"fmt"
	"strings"
)

// Tag identifies the execution backend that handles a code artifact.
// The zero value means "none".
type Tag string

// Environment tags
const (
	Auto              Tag = "auto"
	PythonInterpreter Tag = "python-interpreter"
	JSInterpreter     Tag = "js-interpreter"
	HTML              Tag = "html"
	React             Tag = "react"
	Vue               Tag = "vue"
	Gradio            Tag = "gradio-ui"
	Streamlit         Tag = "streamlit"
	NiceGUI           Tag = "nicegui"
	PyGame            Tag = "pygame"
)

// None is the absent tag.
const None Tag = ""

var runnable = []Tag{
	PythonInterpreter,
	JSInterpreter,
	HTML,
	React,
	Vue,
	Gradio,
	Streamlit,
	NiceGUI,
	PyGame,
}

var displayNames = map[Tag]string{
	Auto:              "Auto",
	PythonInterpreter: "Python Code Interpreter",
	JSInterpreter:     "Javascript Code Interpreter",
	HTML:              "HTML",
	React:             "React",
	Vue:               "Vue",
	Gradio:            "Gradio",
	Streamlit:         "Streamlit",
	NiceGUI:           "NiceGUI",
	PyGame:            "PyGame",
}

// Runnable returns every tag the dispatcher must handle, that is all tags
// except Auto.
func Runnable() []Tag {
	out := make([]Tag, len(runnable))
	copy(out, runnable)
	return out
}

// All returns Auto followed by every runnable tag.
func All() []Tag {
	return append([]Tag{Auto}, runnable...)
}

// Parse converts a tag or display name into a Tag.
func Parse(s string) (Tag, error) {
	needle := strings.TrimSpace(s)
	for _, tag := range All() {
		if strings.EqualFold(needle, string(tag)) || strings.EqualFold(needle, displayNames[tag]) {
			return tag, nil
		}
	}
	return None, fmt.Errorf("unknown sandbox environment: %q", s)
}

// Valid reports whether t belongs to the closed tag set.
func (t Tag) Valid() bool {
	_, ok := displayNames[t]
	return ok
}

// IsInterpreter reports whether t produces captured text output instead of a
// served URL.
func (t Tag) IsInterpreter() bool {
	return t == PythonInterpreter || t == JSInterpreter
}

// IsService reports whether t provisions a long-running process reachable
// through a URL.
func (t Tag) IsService() bool {
	return t.Valid() && t != Auto && !t.IsInterpreter()
}

// DisplayName returns the human readable name shown in the chat UI.
func (t Tag) DisplayName() string {
	if name, ok := displayNames[t]; ok {
		return name
	}
	return string(t)
}

func (t Tag) String() string {
	return string(t)
}
