// Package extract turns the free-form text returned by the vision endpoint
// into an ordered list of item labels. The parsing is lexical: it strips
// list markers and drops lines that read as meta-commentary rather than as
// item names.
package extract

import (
	"strings"
)

var metaSubstrings = []string{
	"here is a list of",
	"elements present",
}

var metaPrefixes = []string{
	"items:",
	"elements:",
}

// Items parses raw response text into item labels. It preserves first-seen
// order, drops duplicates, and never mutates a kept line beyond stripping one
// leading list marker and surrounding whitespace. If no line survives the
// filters, the whole raw text is returned as the single item.
func Items(raw string) []string {
	items := []string{}
	seen := make(map[string]bool)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isMetaLine(line) {
			continue
		}

		item, ok := parseLine(line)
		if !ok || item == "" {
			continue
		}
		if seen[item] {
			continue
		}
		seen[item] = true
		items = append(items, item)
	}

	if len(items) == 0 {
		return []string{raw}
	}
	return items
}

func isMetaLine(line string) bool {
	lower := strings.ToLower(line)

	for _, sub := range metaSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	for _, prefix := range metaPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}

	// Markdown headings: one or more '#' followed by whitespace.
	if strings.HasPrefix(line, "#") {
		rest := strings.TrimLeft(line, "#")
		if rest == "" || strings.HasPrefix(rest, " ") || strings.HasPrefix(rest, "\t") {
			return true
		}
	}

	return false
}

// parseLine strips exactly one leading bullet or numeric ordinal marker.
// A line with no marker passes through verbatim unless it reads as prose
// about the images rather than an item name.
func parseLine(line string) (string, bool) {
	for _, bullet := range []string{"-", "•", "*"} {
		if strings.HasPrefix(line, bullet) {
			return strings.TrimSpace(strings.TrimPrefix(line, bullet)), true
		}
	}

	if item, ok := stripOrdinal(line); ok {
		return item, true
	}

	lower := strings.ToLower(line)
	if strings.Contains(lower, "difference") || strings.Contains(lower, "image") {
		return "", false
	}
	return line, true
}

func stripOrdinal(line string) (string, bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) || line[i] != '.' {
		return "", false
	}
	return strings.TrimSpace(line[i+1:]), true
}
