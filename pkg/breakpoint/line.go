package breakpoint

import "strings"

// IsExecutableLine reports whether a breakpoint can be set on a line with
// the given text. Blank lines, comments, lines opening a docstring, lines
// ending with an opening bracket and lines consisting of a lone closing
// bracket are rejected.
func IsExecutableLine(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if strings.HasPrefix(text, "#") || strings.HasPrefix(text, `"""`) || strings.HasPrefix(text, "'''") {
		return false
	}
	switch text[len(text)-1] {
	case '(', '[', '{':
		return false
	}
	switch text {
	case ")", "]", "}":
		return false
	}
	return true
}
