package validator

import "strings"

// Options tunes the validator's thresholds.
type Options struct {
	MinContentLength     int
	MinDescriptionLength int
	RequireFrontmatter   bool
	Strict               bool
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MinContentLength:     100,
		MinDescriptionLength: 10,
	}
}

// Result is the validator's output shape.
type Result struct {
	Valid          bool
	Errors         []string
	Warnings       []string
	Metadata       *Metadata
	ContentLength  int
	HasTitle       bool
	HasFrontmatter bool
}

// Metadata is the derived skill metadata extracted from a valid descriptor.
type Metadata struct {
	Name        string
	Title       string
	Description string
	Tags        []string
	Categories  []string
}

// categoryKeywords is the closed category set mapped to the
// domain keywords that trigger membership. Membership is a union, not a
// partition: a skill may match zero, one, or several categories.
var categoryKeywords = map[string][]string{
	"security":      {"security", "vulnerability", "auth", "encryption", "secrets", "scan", "cve", "exploit"},
	"testing":       {"test", "testing", "unit test", "jest", "pytest", "coverage", "mock", "e2e"},
	"devops":        {"devops", "ci", "cd", "deploy", "docker", "kubernetes", "infra", "pipeline"},
	"documentation": {"docs", "documentation", "readme", "changelog", "guide"},
	"productivity":  {"productivity", "workflow", "automation", "shortcut", "template"},
	"integrations":  {"integration", "webhook", "api client", "connector", "plugin"},
	"development":   {"development", "scaffold", "boilerplate", "codegen", "refactor", "lint"},
}

// Validate runs the full quality-gate contract against raw descriptor text.
func Validate(text string, opts Options) Result {
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = 100
	}
	if opts.MinDescriptionLength <= 0 {
		opts.MinDescriptionLength = 10
	}

	res := Result{ContentLength: len(text)}

	if strings.TrimSpace(text) == "" {
		res.Errors = append(res.Errors, "empty content")
		return res
	}
	if len(text) < opts.MinContentLength {
		res.Errors = append(res.Errors, "content shorter than minimum length")
		return res
	}

	fmBody, body, hasFM := extractFrontmatter(text)
	res.HasFrontmatter = hasFM

	var fm Frontmatter
	if hasFM {
		fm = parseFrontmatter(fmBody)
	} else {
		fm = Frontmatter{Fields: map[string]string{}, Arrays: map[string][]string{}}
		body = text
	}

	if opts.RequireFrontmatter && !hasFM {
		res.Errors = append(res.Errors, "frontmatter required but not present")
		return res
	}

	title, hasH1 := findH1(body)
	res.HasTitle = hasH1
	if !hasH1 {
		res.Errors = append(res.Errors, "missing H1 heading")
		return res
	}

	name := fm.String("name")
	if name == "" {
		name = deriveNameFromTitle(title)
	}

	description := fm.String("description")
	if description != "" && len(description) < opts.MinDescriptionLength {
		res.Warnings = append(res.Warnings, "description shorter than recommended minimum")
	}

	tags := fm.Arrays["tags"]
	categories := categorize(tags, description)

	res.Valid = true
	res.Metadata = &Metadata{
		Name:        name,
		Title:       title,
		Description: description,
		Tags:        tags,
		Categories:  categories,
	}
	return res
}

// PassesQualityGate implements: valid ∧ (has_frontmatter ∨ ¬strict).
func (r Result) PassesQualityGate(strict bool) bool {
	return r.Valid && (r.HasFrontmatter || !strict)
}

// categorize is a pure function of tags and description, matching each
// closed-set category's keyword list against their lowercased union.
func categorize(tags []string, description string) []string {
	haystack := strings.ToLower(strings.Join(tags, " ") + " " + description)

	var matched []string
	for _, cat := range []string{"security", "testing", "devops", "documentation", "productivity", "integrations", "development"} {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(haystack, kw) {
				matched = append(matched, cat)
				break
			}
		}
	}
	return matched
}
