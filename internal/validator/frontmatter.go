// Package validator implements the Skill Content Validator (spec
// a frontmatter parser and quality gate applied to
// every descriptor file the ingestion pipeline probes. Frontmatter
// parsing follows the shape of a skills/loader.go
// parseManifest, which runs gopkg.in/yaml.v3's Unmarshal directly
// against a SKILL.md `---`-delimited block. Descriptors pulled from
// arbitrary repositories are not guaranteed well-formed, so a malformed
// block falls back to a tolerant line-by-line scan rather than failing
// the whole descriptor.
package validator

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the parsed subset of YAML found in a `---`-delimited
// block at the start of a descriptor file.
type Frontmatter struct {
	Fields map[string]string
	Arrays map[string][]string
}

// String returns the scalar value of key, or "".
func (f Frontmatter) String(key string) string { return f.Fields[key] }

// StringOr returns the scalar value of key, or def if absent.
func (f Frontmatter) StringOr(key, def string) string {
	if v, ok := f.Fields[key]; ok {
		return v
	}
	return def
}

// parseFrontmatter parses the raw `---`-delimited block body (without the
// delimiter lines). It tries a real YAML parse first; a block that
// doesn't parse as YAML (common in hand-edited descriptors) falls back
// to the tolerant line scanner below rather than failing the descriptor.
func parseFrontmatter(body string) Frontmatter {
	if fm, ok := parseFrontmatterYAML(body); ok {
		return fm
	}
	return parseFrontmatterLenient(body)
}

// parseFrontmatterYAML decodes body as a YAML mapping, splitting scalar
// and sequence values into Fields/Arrays the same way the lenient
// scanner does, so callers never need to care which path produced a
// Frontmatter.
func parseFrontmatterYAML(body string) (Frontmatter, bool) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(body), &raw); err != nil || raw == nil {
		return Frontmatter{}, false
	}

	fm := Frontmatter{Fields: map[string]string{}, Arrays: map[string][]string{}}
	for key, v := range raw {
		switch val := v.(type) {
		case []any:
			items := make([]string, 0, len(val))
			for _, item := range val {
				items = append(items, yamlScalarString(item))
			}
			fm.Arrays[key] = items
		case nil:
			// Absent scalar value; leave unset rather than recording "".
		default:
			fm.Fields[key] = yamlScalarString(val)
		}
	}
	return fm, true
}

func yamlScalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", s)
	}
}

// parseFrontmatterLenient parses the raw `---`-delimited block body
// (without the delimiter lines) line by line. Malformed lines are
// ignored, never fatal.
func parseFrontmatterLenient(body string) Frontmatter {
	fm := Frontmatter{Fields: map[string]string{}, Arrays: map[string][]string{}}

	lines := strings.Split(body, "\n")
	var blockKey string
	var blockItems []string

	flushBlock := func() {
		if blockKey != "" {
			fm.Arrays[blockKey] = blockItems
		}
		blockKey = ""
		blockItems = nil
	}

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if strings.HasPrefix(trimmed, "- ") && blockKey != "" && strings.HasPrefix(line, " ") {
			blockItems = append(blockItems, unquoteYAML(strings.TrimSpace(trimmed[2:])))
			continue
		}
		flushBlock()

		colonIdx := strings.Index(trimmed, ":")
		if colonIdx < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:colonIdx])
		val := strings.TrimSpace(trimmed[colonIdx+1:])
		if key == "" {
			continue
		}
		val = stripInlineComment(val)

		switch {
		case val == "":
			// Possibly the start of a block array on following lines.
			blockKey = key
			blockItems = nil
		case strings.HasPrefix(val, "[") && strings.HasSuffix(val, "]"):
			fm.Arrays[key] = parseInlineArray(val)
		default:
			fm.Fields[key] = unquoteYAML(val)
		}
	}
	flushBlock()

	return fm
}

func stripInlineComment(s string) string {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, `'`) {
		return s
	}
	if idx := strings.Index(s, " #"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

func parseInlineArray(s string) []string {
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, unquoteYAML(strings.TrimSpace(p)))
	}
	return out
}

func unquoteYAML(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// extractFrontmatter splits raw descriptor text into (frontmatter body,
// rest of content, present). Frontmatter is a `---`-delimited block at
// the very start of the text.
func extractFrontmatter(text string) (body, rest string, present bool) {
	trimmed := strings.TrimLeft(text, "\ufeff \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return "", text, false
	}
	afterOpen := trimmed[3:]
	// The opening fence must be alone on its line.
	if idx := strings.IndexByte(afterOpen, '\n'); idx >= 0 {
		if strings.TrimSpace(afterOpen[:idx]) != "" {
			return "", text, false
		}
		afterOpen = afterOpen[idx+1:]
	} else {
		return "", text, false
	}

	closeIdx := strings.Index(afterOpen, "\n---")
	if closeIdx < 0 {
		return "", text, false
	}
	body = afterOpen[:closeIdx]
	rest = afterOpen[closeIdx+4:]
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[idx+1:]
	} else {
		rest = ""
	}
	return body, rest, true
}

// deriveNameFromTitle lowercases title, replaces runs of non-alphanumeric
// characters with a single hyphen, and trims leading/trailing hyphens.
func deriveNameFromTitle(title string) string {
	var b strings.Builder
	lastWasSep := false
	for _, r := range strings.ToLower(title) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastWasSep = false
			continue
		}
		if !lastWasSep && b.Len() > 0 {
			b.WriteByte('-')
			lastWasSep = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// findH1 returns the first `# ` heading's text, or "" with ok=false.
func findH1(content string) (title string, ok bool) {
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:]), true
		}
		if line == "#" {
			return "", true
		}
	}
	return "", false
}
