package subtitle

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// token is a unit the wrapper never breaks. glue means no space separates it
// from the previous token.
type token struct {
	text   string
	weight int
	glue   bool
}

// tokenize splits on whitespace. Words in scripts written without spaces, and
// words longer than a line, are broken into single runes glued together so
// they can still be wrapped and timed.
func tokenize(text string, width int) []token {
	var tokens []token
	for _, word := range strings.Fields(text) {
		n := utf8.RuneCountInString(word)
		if n <= width && !hasUnspacedScript(word) {
			tokens = append(tokens, token{text: word, weight: n})
			continue
		}
		first := true
		for _, r := range word {
			tokens = append(tokens, token{text: string(r), weight: 1, glue: !first})
			first = false
		}
	}
	return tokens
}

func hasUnspacedScript(word string) bool {
	for _, r := range word {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul, unicode.Thai) {
			return true
		}
	}
	return false
}

// wrap greedily fills lines up to width runes.
func wrap(tokens []token, width int) []string {
	var lines []string
	var line strings.Builder
	lineLen := 0
	for _, t := range tokens {
		add := t.weight
		if lineLen > 0 && !t.glue {
			add++
		}
		if lineLen > 0 && lineLen+add > width {
			lines = append(lines, line.String())
			line.Reset()
			lineLen = 0
			add = t.weight
		}
		if lineLen > 0 && !t.glue {
			line.WriteByte(' ')
		}
		line.WriteString(t.text)
		lineLen += add
	}
	if lineLen > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
