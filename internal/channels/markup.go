package channels

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	codeBlockRe  = regexp.MustCompile("(?s)```[\\w]*\\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*#*$`)
	quoteRe      = regexp.MustCompile(`(?m)^>\s?(.*)$`)
	imageRe      = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)[^)]*\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)[^)]*\)`)
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldAltRe    = regexp.MustCompile(`__(.+?)__`)
	italicRe     = regexp.MustCompile(`(^|[^a-zA-Z0-9_])_([^_\n]+)_([^a-zA-Z0-9_]|$)`)
	italicStarRe = regexp.MustCompile(`(^|[^*])\*([^*\n]+)\*([^*]|$)`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	bulletRe     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	ruleRe       = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)

	// only real tags count, so "a < b > c" is still markdown
	htmlTagRe = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^<>]*)?/?>`)
)

// MarkdownToTelegramHTML converts markdown to Telegram-safe HTML.
// Headings become bold text and images become links, since Telegram
// supports neither.
func MarkdownToTelegramHTML(text string) string {
	if text == "" {
		return ""
	}

	// 1. Extract and protect code blocks
	var codeBlocks []string
	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		codeBlocks = append(codeBlocks, codeBlockRe.FindStringSubmatch(m)[1])
		return fmt.Sprintf("\x00CB%d\x00", len(codeBlocks)-1)
	})

	// 2. Extract and protect inline code
	var inlineCodes []string
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		inlineCodes = append(inlineCodes, inlineCodeRe.FindStringSubmatch(m)[1])
		return fmt.Sprintf("\x00IC%d\x00", len(inlineCodes)-1)
	})

	// 3. Block structure
	text = headingRe.ReplaceAllString(text, "**$1**")
	text = quoteRe.ReplaceAllString(text, "$1")
	text = ruleRe.ReplaceAllString(text, "")

	// 4. Escape HTML
	text = html.EscapeString(text)
	text = strings.ReplaceAll(text, "&#34;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")

	// 5. Links and images
	text = imageRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)

	// 6. Bullets before emphasis so "* item" is not read as italic
	text = bulletRe.ReplaceAllString(text, "• ")

	// 7. Emphasis
	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldAltRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicRe.ReplaceAllString(text, "$1<i>$2</i>$3")
	text = italicStarRe.ReplaceAllString(text, "$1<i>$2</i>$3")
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")

	// 8. Restore code
	for i, code := range inlineCodes {
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00IC%d\x00", i), "<code>"+html.EscapeString(code)+"</code>")
	}
	for i, code := range codeBlocks {
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00CB%d\x00", i), "<pre><code>"+html.EscapeString(code)+"</code></pre>")
	}

	return strings.TrimRight(text, "\n")
}

// IsHTML reports whether text already contains HTML tags outside fenced code blocks.
func IsHTML(text string) bool {
	inCode := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "```") {
			inCode = !inCode
			continue
		}
		if !inCode && htmlTagRe.MatchString(line) {
			return true
		}
	}
	return false
}

// ToTelegramHTML converts a reply part for sending with HTML parse mode.
// Text that is already HTML passes through unchanged.
func ToTelegramHTML(text string) string {
	if IsHTML(text) {
		return text
	}
	return MarkdownToTelegramHTML(text)
}

// PlainText strips tags and entities from HTML produced by ToTelegramHTML.
func PlainText(s string) string {
	return html.UnescapeString(htmlTagRe.ReplaceAllString(s, ""))
}
