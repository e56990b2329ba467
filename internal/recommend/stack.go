package recommend

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// TechType is the closed set of detected technology kinds.
type TechType string

const (
	TechLanguage  TechType = "language"
	TechFramework TechType = "framework"
	TechTool      TechType = "tool"
	TechPlatform  TechType = "platform"
	TechLibrary   TechType = "library"
)

// Tech is one detected technology in a codebase.
type Tech struct {
	ID         string
	Name       string
	Type       TechType
	Version    string
	Confidence float64
	Source     string // manifest path, or "extension-frequency"
}

const (
	defaultDepth = 3
	maxDepth     = 10
)

// manifestRule maps a manifest filename to the high-confidence tech it
// implies. Manifest-first detection always outranks extension sniffing.
var manifestRules = []struct {
	file string
	tech Tech
}{
	{"package.json", Tech{ID: "node", Name: "Node.js", Type: TechPlatform}},
	{"go.mod", Tech{ID: "go", Name: "Go", Type: TechLanguage}},
	{"requirements.txt", Tech{ID: "python", Name: "Python", Type: TechLanguage}},
	{"pyproject.toml", Tech{ID: "python", Name: "Python", Type: TechLanguage}},
	{"Cargo.toml", Tech{ID: "rust", Name: "Rust", Type: TechLanguage}},
	{"pom.xml", Tech{ID: "java", Name: "Java", Type: TechLanguage}},
	{"build.gradle", Tech{ID: "java", Name: "Java", Type: TechLanguage}},
}

var extensionTechs = map[string]Tech{
	".ts":   {ID: "typescript", Name: "TypeScript", Type: TechLanguage},
	".tsx":  {ID: "react", Name: "React", Type: TechFramework},
	".jsx":  {ID: "react", Name: "React", Type: TechFramework},
	".py":   {ID: "python", Name: "Python", Type: TechLanguage},
	".rs":   {ID: "rust", Name: "Rust", Type: TechLanguage},
	".go":   {ID: "go", Name: "Go", Type: TechLanguage},
	".rb":   {ID: "ruby", Name: "Ruby", Type: TechLanguage},
	".java": {ID: "java", Name: "Java", Type: TechLanguage},
}

var skipDetectDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".venv": true,
	"dist": true, "build": true, "target": true,
}

var nodeVersionRe = regexp.MustCompile(`"version"\s*:\s*"([^"]+)"`)
var goVersionRe = regexp.MustCompile(`(?m)^go (\S+)`)

// DetectStack walks root up to depth directories deep, applying
// manifest-first rules; when no manifest is found it falls back to
// file-extension frequency at lower confidence.
func DetectStack(root string, depth int) ([]Tech, error) {
	if depth <= 0 {
		depth = defaultDepth
	}
	if depth > maxDepth {
		depth = maxDepth
	}

	found := map[string]Tech{}
	extCounts := map[string]int{}

	var walk func(dir string, remaining int) error
	walk = func(dir string, remaining int) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				if skipDetectDirs[e.Name()] || remaining == 0 {
					continue
				}
				if err := walk(filepath.Join(dir, e.Name()), remaining-1); err != nil {
					continue // unreadable subdirectory; skip rather than fail the whole scan
				}
				continue
			}

			for _, rule := range manifestRules {
				if e.Name() != rule.file {
					continue
				}
				t := rule.tech
				t.Confidence = 0.95
				t.Source = filepath.Join(dir, e.Name())
				t.Version = sniffManifestVersion(filepath.Join(dir, e.Name()))
				found[t.ID] = t
			}

			ext := filepath.Ext(e.Name())
			if _, ok := extensionTechs[ext]; ok {
				extCounts[ext]++
			}
		}
		return nil
	}

	if err := walk(root, depth); err != nil {
		return nil, err
	}

	total := 0
	for _, c := range extCounts {
		total += c
	}
	for ext, c := range extCounts {
		t := extensionTechs[ext]
		if _, already := found[t.ID]; already {
			continue
		}
		t.Confidence = minConfidence(0.3+float64(c)/float64(total)*0.4, 0.7)
		t.Source = "extension-frequency"
		found[t.ID] = t
	}

	out := make([]Tech, 0, len(found))
	for _, t := range found {
		out = append(out, t)
	}
	return out, nil
}

func sniffManifestVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(path, "package.json") {
		if m := nodeVersionRe.FindSubmatch(data); m != nil {
			return string(m[1])
		}
	}
	if strings.HasSuffix(path, "go.mod") {
		if m := goVersionRe.FindSubmatch(data); m != nil {
			return string(m[1])
		}
	}
	return ""
}

func minConfidence(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}
