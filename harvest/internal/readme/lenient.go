package readme

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
)

// braceSpan matches from the first '{' to the last '}' of a block.
var braceSpan = regexp.MustCompile(`(?s)\{.*\}`)

// document is a decoded JSON object together with the strict JSON it was
// decoded from. The raw bytes keep the source order of object keys.
type document struct {
	fields map[string]any
	raw    []byte
}

// parseObject reads block as a JSON object, tolerating comments, trailing
// commas, unquoted keys and single-quoted strings. When the whole block does
// not parse, the outermost {...} span is tried instead.
func parseObject(block string) (*document, bool) {
	if doc, ok := decodeLenient(block); ok {
		return doc, true
	}
	span := braceSpan.FindString(block)
	if span == "" || span == block {
		return nil, false
	}
	return decodeLenient(span)
}

func decodeLenient(s string) (*document, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	for _, src := range []string{s, normalize(s)} {
		raw := jsonc.ToJSON([]byte(src))
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
			return &document{fields: obj, raw: raw}, true
		}
	}
	return nil, false
}

// keys returns the keys of the object stored under field, in document
// order. A key repeated in the source is listed once, at its first position.
func (d *document) keys(field string) []string {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(d.raw, &top); err != nil {
		return nil
	}
	sub, ok := top[field]
	if !ok {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(sub))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		key, _ := tok.(string)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			break
		}
	}
	return keys
}

// normalize rewrites JSON5-style input into something jsonc accepts:
// single-quoted strings become double-quoted and bare object keys are
// quoted. Comments and double-quoted strings pass through untouched.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	var last byte // last significant byte written outside strings and comments

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				end = len(s) - i
			}
			b.WriteString(s[i : i+end])
			i += end

		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				b.WriteString(s[i:])
				return b.String()
			}
			b.WriteString(s[i : i+2+end+2])
			i += 2 + end + 2

		case c == '"':
			j := skipString(s, i, '"')
			b.WriteString(s[i:j])
			i = j
			last = '"'

		case c == '\'':
			j := i + 1
			b.WriteByte('"')
			for j < len(s) && s[j] != '\'' {
				switch {
				case s[j] == '\\' && j+1 < len(s) && s[j+1] == '\'':
					b.WriteByte('\'')
					j += 2
					continue
				case s[j] == '\\' && j+1 < len(s):
					b.WriteString(s[j : j+2])
					j += 2
					continue
				case s[j] == '"':
					b.WriteString(`\"`)
				default:
					b.WriteByte(s[j])
				}
				j++
			}
			b.WriteByte('"')
			i = j + 1
			last = '"'

		case isIdentStart(c):
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			word := s[i:j]
			if (last == '{' || last == ',') && nextSignificant(s, j) == ':' {
				b.WriteByte('"')
				b.WriteString(word)
				b.WriteByte('"')
			} else {
				b.WriteString(word)
			}
			i = j
			last = 'a'

		default:
			b.WriteByte(c)
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
				last = c
			}
			i++
		}
	}
	return b.String()
}

// skipString returns the index just past the string starting at s[i].
func skipString(s string, i int, quote byte) int {
	j := i + 1
	for j < len(s) {
		if s[j] == '\\' {
			j += 2
			continue
		}
		if s[j] == quote {
			return j + 1
		}
		j++
	}
	return len(s)
}

func nextSignificant(s string, i int) byte {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return s[i]
	}
	return 0
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '-' || (c >= '0' && c <= '9')
}
