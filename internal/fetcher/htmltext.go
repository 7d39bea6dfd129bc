package fetcher

import (
	"strings"

	"golang.org/x/net/html"
)

// elements whose content never renders
var hiddenElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// inline elements join their text without a separator
var inlineElements = map[string]bool{
	"a": true, "abbr": true, "b": true, "em": true, "font": true, "i": true,
	"small": true, "strong": true, "sub": true, "sup": true, "u": true,
}

// block elements end a line
var blockElements = map[string]bool{
	"br": true, "div": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "li": true, "p": true, "section": true,
	"table": true, "tr": true, "ul": true, "ol": true, "article": true,
}

// PageText returns the visible text of an HTML page with entities decoded.
// Script and style bodies are dropped, block elements end a line and table
// cells are closed with " | ", so a table row reads like the pipe-delimited
// listings CME publishes. Plain text passes through unchanged.
func PageText(page string) string {
	z := html.NewTokenizer(strings.NewReader(page))
	var b strings.Builder
	hidden := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.ReplaceAll(b.String(), "\u00a0", " ")
		case html.TextToken:
			if hidden == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if hiddenElements[tag] {
				switch {
				case tt == html.StartTagToken:
					hidden++
				case tt == html.EndTagToken && hidden > 0:
					hidden--
				}
				continue
			}
			switch {
			case inlineElements[tag]:
			case blockElements[tag]:
				separate(&b, "\n")
			case (tag == "td" || tag == "th") && tt == html.EndTagToken:
				separate(&b, " | ")
			default:
				separate(&b, " ")
			}
		}
	}
}

func separate(b *strings.Builder, sep string) {
	s := b.String()
	if s == "" {
		return
	}
	switch s[len(s)-1] {
	case '\n':
		return
	case ' ':
		if sep == " " {
			return
		}
		sep = strings.TrimPrefix(sep, " ")
	}
	b.WriteString(sep)
}
