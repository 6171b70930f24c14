package environment

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed instructions.yaml
var instructionsYAML []byte

type instructionFile struct {
	General      string `yaml:"general"`
	AutoHeader   string `yaml:"auto_header"`
	Environments []struct {
		Tag  Tag    `yaml:"tag"`
		Text string `yaml:"text"`
	} `yaml:"environments"`
}

// instructions maps every tag, Auto included, to its system prompt addition.
var instructions = mustLoadInstructions(instructionsYAML)

func mustLoadInstructions(data []byte) map[Tag]string {
	table, err := loadInstructions(data)
	if err != nil {
		panic(fmt.Sprintf("environment: invalid embedded instructions: %v", err))
	}
	return table
}

func loadInstructions(data []byte) (map[Tag]string, error) {
	var file instructionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse instruction templates: %w", err)
	}

	table := make(map[Tag]string, len(file.Environments)+1)
	var auto strings.Builder
	auto.WriteString(file.AutoHeader)
	for _, env := range file.Environments {
		if !env.Tag.Valid() || env.Tag == Auto {
			return nil, fmt.Errorf("instruction for unknown environment %q", env.Tag)
		}
		text := strings.TrimSpace(env.Text)
		table[env.Tag] = file.General + text
		fmt.Fprintf(&auto, "Sandbox Environment Name: %s\n%s\n------\n", env.Tag.DisplayName(), text)
	}
	table[Auto] = strings.TrimSpace(auto.String())

	for _, tag := range runnable {
		if _, ok := table[tag]; !ok {
			return nil, fmt.Errorf("missing instruction for environment %q", tag)
		}
	}
	return table, nil
}

// Instruction returns the system prompt addition for t, or "" when t has no
// template.
func Instruction(t Tag) string {
	return instructions[t]
}
