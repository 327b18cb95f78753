// Package text normalizes user input and strips markdown from model output.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	unicodeReplacer = strings.NewReplacer(
		"\u2060", "", "\u180E", "",
		"\u2028", "\n", "\u2029", "\n\n",
		"\u200B", " ", "\u200C", " ",
		"\u200D", "", "\uFEFF", "",
		"\u00AD", "", "\u205F", " ",
		"\u202A", "", "\u202B", "",
		"\u202C", "", "\u202D", "", "\u202E", "",
	)

	controlCharsRegex     = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	multipleNewlinesRegex = regexp.MustCompile(`\n{3,}`)
)

var (
	fencedCodeBlocksRegex = regexp.MustCompile("```[a-zA-Z]*\\n?([\\s\\S]*?)```")
	inlineCodeRegex       = regexp.MustCompile("`([^`]+)`")
	linksRegex            = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headersRegex          = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+)$`)
	boldRegex             = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldAltRegex          = regexp.MustCompile(`__(.+?)__`)
	italicRegex           = regexp.MustCompile(`(^|[^\w*])\*([^*\n]+)\*`)
	strikeRegex           = regexp.MustCompile(`~~(.+?)~~`)
	blockquotesRegex      = regexp.MustCompile(`(?m)^>[ \t]?(.*)$`)
	bulletRegex           = regexp.MustCompile(`(?m)^([ \t]*)[*+][ \t]+`)
	horizontalRuleRegex   = regexp.MustCompile(`(?m)^[ \t]*[*\-_]{3,}[ \t]*$`)
)

func normalizeLineWhitespace(line string) string {
	var b strings.Builder
	space := false
	for _, r := range line {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteRune(' ')
				space = true
			}
			continue
		}
		b.WriteRune(r)
		space = false
	}
	return strings.TrimSpace(b.String())
}

// Clean removes control and invisible formatting characters, normalizes line
// endings, collapses runs of whitespace within lines and limits blank lines
// to one. Line breaks are kept.
func Clean(input string) string {
	if input == "" {
		return ""
	}

	s := strings.ReplaceAll(input, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = unicodeReplacer.Replace(s)
	s = controlCharsRegex.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = normalizeLineWhitespace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = multipleNewlinesRegex.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// Plain converts common markdown to plain text and then applies Clean.
// Replies are shown verbatim in chat clients that do not render markdown.
func Plain(input string) string {
	if input == "" {
		return ""
	}

	s := fencedCodeBlocksRegex.ReplaceAllString(input, "$1")
	s = inlineCodeRegex.ReplaceAllString(s, "$1")
	s = linksRegex.ReplaceAllStringFunc(s, func(match string) string {
		groups := linksRegex.FindStringSubmatch(match)
		if groups[1] == groups[2] {
			return groups[2]
		}
		return groups[1] + " (" + groups[2] + ")"
	})
	s = horizontalRuleRegex.ReplaceAllString(s, "")
	s = headersRegex.ReplaceAllString(s, "$1")
	s = boldRegex.ReplaceAllString(s, "$1")
	s = boldAltRegex.ReplaceAllString(s, "$1")
	s = bulletRegex.ReplaceAllString(s, "$1- ")
	s = italicRegex.ReplaceAllString(s, "$1$2")
	s = strikeRegex.ReplaceAllString(s, "$1")
	s = blockquotesRegex.ReplaceAllString(s, "$1")

	return Clean(s)
}
