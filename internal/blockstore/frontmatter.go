package blockstore

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is the YAML front-matter of a memory block file.
type Metadata struct {
	Block     string `yaml:"block"`
	Title     string `yaml:"title,omitempty"`
	Schema    string `yaml:"schema,omitempty"`
	UpdatedAt string `yaml:"updated_at,omitempty"`
}

// parseFrontMatter splits a block file into metadata and body.
// The parse is permissive: missing or invalid front-matter yields empty
// metadata and the entire content as body.
func parseFrontMatter(content string) (Metadata, string) {
	var meta Metadata
	if !strings.HasPrefix(content, "---\n") {
		return meta, content
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, content
	}
	yamlPart := rest[:end]
	body := rest[end+4:]
	// The separator line may be followed by a blank line; the body starts
	// after it.
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	if err := yaml.Unmarshal([]byte(yamlPart), &meta); err != nil {
		return Metadata{}, content
	}
	return meta, body
}

// renderBlockFile serializes metadata and body into the on-disk format
// `---\n<yaml>\n---\n\n<body>`.
func renderBlockFile(meta Metadata, body string) (string, error) {
	out, err := yaml.Marshal(&meta)
	if err != nil {
		return "", fmt.Errorf("marshal front-matter: %w", err)
	}
	return "---\n" + string(out) + "---\n\n" + body, nil
}

// defaultTitle derives a display title from a label: underscores become
// spaces and each word is capitalized.
func defaultTitle(label string) string {
	words := strings.Split(strings.ReplaceAll(label, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
