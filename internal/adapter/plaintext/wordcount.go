package plaintext

import (
	"strings"
	"unicode"
)

// CountWords reports the number of words in converted output. Markdown
// syntax is stripped first so markers and code fences do not inflate
// the count.
func CountWords(text string) int {
	cleaned := stripMarkdown(text)
	words := strings.FieldsFunc(cleaned, unicode.IsSpace)
	return len(words)
}

func stripMarkdown(text string) string {
	text = stripFencedBlocks(text)

	for _, marker := range []string{"`", "**", "*", "__", "_", "~~", "#"} {
		text = strings.ReplaceAll(text, marker, "")
	}
	// Indent entities separate words but are not words themselves.
	text = strings.ReplaceAll(text, "&#x20;", " ")

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if isFootnoteDef(line) {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "[ ] ")
		line = strings.TrimPrefix(line, "[x] ")
		line = trimOrderedMarker(line)
		if line == "---" || line == "***" {
			continue
		}
		line = strings.TrimPrefix(line, "> ")
		cleaned = append(cleaned, line)
	}
	return strings.Join(cleaned, " ")
}

// isFootnoteDef reports whether the line is a footnote definition,
// whose body is a JSON payload rather than prose.
func isFootnoteDef(line string) bool {
	if !strings.HasPrefix(line, "[^") {
		return false
	}
	end := strings.Index(line, "]:")
	return end > 2
}

func trimOrderedMarker(line string) string {
	rest := strings.TrimLeft(line, "0123456789")
	if rest == line || !strings.HasPrefix(rest, ". ") {
		return line
	}
	return rest[2:]
}

func stripFencedBlocks(text string) string {
	for {
		start := strings.Index(text, "```")
		if start == -1 {
			return text
		}
		end := strings.Index(text[start+3:], "```")
		if end == -1 {
			return text
		}
		text = text[:start] + text[start+3+end+3:]
	}
}
