package genai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxTags caps the number of tags kept from one response.
const MaxTags = 10

// ExtractJSON returns the outermost {...} span of text, matching braces and
// ignoring braces inside JSON strings. Prose or code fences around the
// object are discarded.
func ExtractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end := matchBrace(text, start); end > 0 {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return "", false
}

// matchBrace returns the index of the brace closing text[start], or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseSummary reads {summary, tags} from a completion. A missing or
// non-string summary yields "", and tags are filtered by CleanTags.
func ParseSummary(text string) (string, []string, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return "", nil, err
	}
	summary, _ := obj["summary"].(string)
	return strings.TrimSpace(summary), CleanTags(obj["tags"]), nil
}

// ParseTags reads {tags} from a completion.
func ParseTags(text string) ([]string, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return nil, err
	}
	return CleanTags(obj["tags"]), nil
}

func decodeObject(text string) (map[string]any, error) {
	span, ok := ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("genai: no JSON object in response")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(span), &obj); err != nil {
		return nil, fmt.Errorf("genai: parse response: %w", err)
	}
	return obj, nil
}

// CleanTags keeps the string entries of v, trimmed, lowercased and
// deduplicated in order, up to MaxTags. Anything that is not an array gives nil.
func CleanTags(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(list))
	var out []string
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
