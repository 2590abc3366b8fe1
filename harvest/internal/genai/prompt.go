package genai

import "fmt"

// SummaryPrompt asks for a short description and topical tags of the server
// documented by readme.
func SummaryPrompt(readme string) string {
	return fmt.Sprintf(`You are cataloguing MCP (Model Context Protocol) servers.
Read the README below and answer with a single JSON object and nothing else:
{"summary": "<two or three sentences describing what the server lets an AI assistant do>", "tags": ["<tag>", ...]}

Rules:
- The summary is plain text, no markdown, no installation steps.
- Give between 3 and 8 tags, lowercase, one or two words each.
- Tags describe the domain or the integrated service (for example "github", "database", "weather"), never generic words like "mcp", "server", "tool" or "ai".

README:
"""
%s
"""`, readme)
}

// TagPrompt asks for tags derived only from a package name.
func TagPrompt(name string) string {
	return fmt.Sprintf(`You are cataloguing MCP (Model Context Protocol) servers.
Derive search tags from the package name below and answer with a single JSON object and nothing else:
{"tags": ["<tag>", ...]}

Rules:
- Split the name on hyphens, underscores, dots, slashes and camelCase boundaries.
- Drop scope prefixes such as "@org/".
- Drop generic words: "mcp", "server", "model", "context", "protocol", "tool", "tools", "ai", "plugin", "js", "py", "node".
- Lowercase every tag, keep at most 5, and expand obvious abbreviations (for example "pg" becomes "postgres").
- If nothing meaningful remains, return {"tags": []}.

Package name: %s`, name)
}
