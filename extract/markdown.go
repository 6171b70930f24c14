package extract

import (
	"regexp"
	"strings"
)

// RunMarker is the button the chat UI appends to messages that can be run in
// a sandbox. It is not part of the model output.
const RunMarker = "<button style='background-color: #4CAF50; border: none; color: white; padding: 10px 24px; " +
	"text-align: center; text-decoration: none; display: inline-block; font-size: 16px; margin: 4px 2px; " +
	"cursor: pointer; border-radius: 12px;'>Click to Run in Sandbox</button>"

var codeBlockRe = regexp.MustCompile("(?s)```(\\w+)?\\n(.*?)```")

// Block is a fenced code block found in a message.
type Block struct {
	Language string
	Code     string
}

// FindCodeBlock returns the fenced block with the longest body. Ties go to the
// block that appears first. ok is false when the text holds no fenced block.
func FindCodeBlock(text string) (block Block, ok bool) {
	matches := codeBlockRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return Block{}, false
	}

	longest := matches[0]
	for _, m := range matches[1:] {
		if len(m[2]) > len(longest[2]) {
			longest = m
		}
	}

	return Block{
		Language: strings.ToLower(longest[1]),
		Code:     strings.TrimSpace(longest[2]),
	}, true
}

// StripRunMarker removes every RunMarker from a message that ends with one.
// Other messages are returned unchanged.
func StripRunMarker(message string) string {
	if !strings.HasSuffix(message, RunMarker) {
		return message
	}
	return strings.TrimSpace(strings.ReplaceAll(message, RunMarker, ""))
}

// AppendRunMarker adds RunMarker to a message once.
func AppendRunMarker(message string) string {
	if strings.HasSuffix(message, RunMarker) {
		return message
	}
	return message + "\n\n" + RunMarker
}
