package skills

import (
	"os"
	"path/filepath"
	"strings"
)

const noDescriptionProvided = "no description provided"

// ParseManifest reads <skillDir>/SKILL.md and extracts a (name,
// description) pair: YAML-ish front matter between --- lines wins if
// present, otherwise the first non-heading paragraph of the body
// (stopping at a blank line, a heading, a fenced block, a table row,
// or a list item), adding no further lines once the collected text
// reaches 260 bytes; a line is never cut. Falls back to the
// directory name and "no description provided" when nothing parses.
func ParseManifest(skillDir string) (name, description string) {
	fallbackName := filepath.Base(skillDir)
	data, err := os.ReadFile(filepath.Join(skillDir, "SKILL.md"))
	if err != nil {
		return fallbackName, noDescriptionProvided
	}
	return ParseManifestText(string(data), fallbackName)
}

// ParseManifestText is ParseManifest's pure core, split out for
// testing without touching the filesystem.
func ParseManifestText(text, fallbackName string) (name, description string) {
	name = fallbackName
	lines := strings.Split(text, "\n")
	bodyStart := 0

	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "---" {
		for idx := 1; idx < len(lines); idx++ {
			trimmed := strings.TrimSpace(lines[idx])
			if trimmed == "---" {
				bodyStart = idx + 1
				break
			}
			if rest, ok := strings.CutPrefix(trimmed, "name:"); ok {
				if v := trimWrappingQuotes(rest); v != "" {
					name = v
				}
				continue
			}
			if rest, ok := strings.CutPrefix(trimmed, "description:"); ok {
				if v := trimWrappingQuotes(rest); v != "" {
					description = v
				}
				continue
			}
		}
	}

	if description == "" {
		description = firstParagraph(lines[bodyStart:])
	}
	if description == "" {
		description = noDescriptionProvided
	}
	return name, description
}

func firstParagraph(lines []string) string {
	var parts []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(parts) > 0 {
				break
			}
			continue
		}
		if isStructuralLine(trimmed) {
			if len(parts) > 0 {
				break
			}
			continue
		}
		parts = append(parts, trimmed)
		if len(strings.Join(parts, " ")) >= 260 {
			break
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func isStructuralLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "```") ||
		strings.HasPrefix(trimmed, "|") ||
		strings.HasPrefix(trimmed, "- ") ||
		strings.HasPrefix(trimmed, "* ")
}
