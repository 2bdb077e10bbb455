package generator

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// StripFences removes a surrounding markdown code fence (``` or ```html).
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// IsMarkup reports whether the output is real markup rather than an apology
// or prose: it must start with a tag and contain at least one closing tag.
func IsMarkup(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "<") && strings.Contains(s, "</")
}

// structuralTags are the elements a screen, as opposed to a fragment of prose
// wrapped in markup, is expected to contain.
var structuralTags = []string{"div", "section", "main", "header", "nav", "article", "form", "ul", "table", "footer"}

// LooksLikeUI reports whether the markup contains structural layout elements.
func LooksLikeUI(s string) bool {
	lower := strings.ToLower(s)
	for _, tag := range structuralTags {
		if strings.Contains(lower, "<"+tag) {
			return true
		}
	}
	return false
}

var openTagRe = regexp.MustCompile(`^<([a-zA-Z][a-zA-Z0-9-]*)`)

// FirstRootElement returns the first complete root element of the markup,
// discarding any prose before it and any trailing content after its matching
// close tag. If no balanced close is found, everything from the first tag on
// is returned.
func FirstRootElement(s string) string {
	start := strings.Index(s, "<")
	if start < 0 {
		return strings.TrimSpace(s)
	}
	s = s[start:]
	m := openTagRe.FindStringSubmatch(s)
	if m == nil {
		return strings.TrimSpace(s)
	}
	tag := strings.ToLower(m[1])
	open := "<" + tag
	close := "</" + tag

	lower := strings.ToLower(s)
	depth := 0
	pos := 0
	for pos < len(lower) {
		nextOpen := indexFrom(lower, open, pos)
		nextClose := indexFrom(lower, close, pos)
		if nextClose < 0 {
			return strings.TrimSpace(s)
		}
		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			pos = nextOpen + len(open)
			continue
		}
		depth--
		end := strings.Index(s[nextClose:], ">")
		if end < 0 {
			return strings.TrimSpace(s)
		}
		pos = nextClose + end + 1
		if depth == 0 {
			return strings.TrimSpace(s[:pos])
		}
	}
	return strings.TrimSpace(s)
}

func indexFrom(s, substr string, from int) int {
	idx := strings.Index(s[from:], substr)
	if idx < 0 {
		return -1
	}
	return from + idx
}

// FallbackHTML is the minimal placeholder used when every generation rung
// failed, so the job still completes with a visible result.
func FallbackHTML(title, subtitle string) string {
	return fmt.Sprintf(
		`<div class="screen screen-fallback"><header class="screen-header"><h1>%s</h1><p>%s</p></header></div>`,
		html.EscapeString(title), html.EscapeString(subtitle),
	)
}
