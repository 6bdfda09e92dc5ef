package scorer

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var htmlTagPattern = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^>]*)?/?>`)

const (
	// Never visible to a reader
	invisibleSelector = "script, style, noscript, iframe, template"
	// Page chrome around the article itself
	boilerplateSelector = "nav, header, footer, aside, form, [role=navigation], [aria-hidden=true]"
	// Elements whose text must not run into the next element's
	blockSelector = "p, div, section, article, h1, h2, h3, h4, h5, h6, li, td, th, br, blockquote, pre"
)

// PlainText reduces an article body to prompt-ready text: HTML markup is
// stripped to its visible article text, whitespace is collapsed and the
// result is cut to maxRunes (0 means no limit).
func PlainText(body string, maxRunes int) string {
	text := body
	if htmlTagPattern.MatchString(body) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
			doc.Find(invisibleSelector).Remove()
			doc.Find(boilerplateSelector).Remove()
			doc.Find(blockSelector).AppendHtml(" ")
			text = doc.Text()
		}
	}

	text = strings.Join(strings.Fields(text), " ")
	return truncateRunes(text, maxRunes)
}

func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
