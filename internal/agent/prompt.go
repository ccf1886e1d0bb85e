package agent

import (
	_ "embed"
	"strings"
)

//go:embed prompts/system.md
var systemPrompt string

// SystemPrompt returns the fixed instruction prompt of the sales agent.
func SystemPrompt() string {
	return strings.TrimSpace(systemPrompt)
}
