// Package readme turns a forge README into a launch configuration.
//
// Decode undoes the forge's base64 transport encoding. Parse walks the
// markdown for fenced code blocks and HTML <pre><code> blocks in document
// order, reads each one as lenient JSON, and returns the first block that
// describes a server launched by an allowed command. Finding nothing is a
// normal outcome, reported as nil.
package readme

import (
	"encoding/base64"
	"log/slog"
	"strings"
)

// LaunchConfig is how an MCP server is started.
type LaunchConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// DefaultName names a config found at the top level of a block rather than
// under mcpServers.
const DefaultName = "default"

// AllowedCommands are the launchers accepted in a config block.
var AllowedCommands = []string{"npx", "uvx"}

// Parser extracts launch configurations from README text.
type Parser struct {
	logger  *slog.Logger
	allowed map[string]bool
}

// NewParser creates a parser. A nil logger uses slog.Default().
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(AllowedCommands))
	for _, c := range AllowedCommands {
		allowed[c] = true
	}
	return &Parser{logger: logger, allowed: allowed}
}

// Decode strips line breaks from the base64 payload and decodes it.
// Returns false on empty input or invalid encoding.
func (p *Parser) Decode(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(raw)
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
	}
	if err != nil {
		p.logger.Info("readme: base64 decode failed", "error", err)
		return "", false
	}
	return string(data), true
}
