// Package extract turns a fetched HTML document into page metadata and
// readable plain text.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

const (
	// MaxTextRunes caps the extracted text.
	MaxTextRunes = 64 * 1024
	// SnippetRunes is the length of the snippet stored in the metadata.
	SnippetRunes = 251
)

var (
	stripMatcher = cascadia.MustCompile(`
		[aria-hidden], [hidden],
		[role=alert], [role=alertdialog], [role=button], [role=checkbox], [role=combobox],
		[role=complementary], [role=feed], [role=menu], [role=menubar], [role=navigation],
		[role=none], [role=note], [role=presentation], [role=search], [role=searchbox],
		[role=tablist], [role=toolbar], [role=tooltip], [role=tree], [role=treegrid],
		aside, button, canvas, dialog, footer, form, hr, input, label, link, menu, meta,
		nav, noscript, object, option, progress, script, select, style, svg, template, title`)

	mainMatcher = cascadia.MustCompile(`
		main article, #article, [role=article],
		[itemtype="http://schema.org/Article"], [itemtype="https://schema.org/Article"]`)

	snippetStripMatcher = cascadia.MustCompile(`blockquote, figure, h1, header, table`)

	htmlMatcher      = cascadia.MustCompile(`html`)
	headTitleMatcher = cascadia.MustCompile(`head > title`)
	metaMatcher      = cascadia.MustCompile(`meta`)
	bodyMatcher      = cascadia.MustCompile(`body`)
)

var inlineElements = map[string]bool{
	"a": true, "abbr": true, "acronym": true, "audio": true, "b": true, "bdi": true, "bdo": true,
	"big": true, "button": true, "canvas": true, "cite": true, "code": true, "data": true,
	"datalist": true, "del": true, "dfn": true, "em": true, "embed": true, "i": true, "iframe": true,
	"img": true, "input": true, "ins": true, "kbd": true, "label": true, "map": true, "mark": true,
	"math": true, "meter": true, "noscript": true, "object": true, "output": true, "picture": true,
	"progress": true, "q": true, "ruby": true, "s": true, "samp": true, "script": true,
	"select": true, "slot": true, "small": true, "span": true, "strong": true, "sub": true,
	"sup": true, "svg": true, "template": true, "textarea": true, "time": true, "tt": true,
	"u": true, "var": true, "video": true, "wbr": true,
}

// Extract parses body and returns its metadata and main-region text.
// The output depends only on the input bytes.
func Extract(body []byte) (crawler.ExtractedMeta, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ExtractedMeta{}, "", fmt.Errorf("parse html: %w", err)
	}

	meta := readMeta(doc)

	doc.FindMatcher(stripMatcher).Remove()
	region := mainRegion(doc)
	text := truncateRunes(ElementText(region, false), MaxTextRunes)

	region.FindMatcher(snippetStripMatcher).Remove()
	meta.Snippet = truncateRunes(ElementText(region, false), SnippetRunes)

	return meta, text, nil
}

func readMeta(doc *goquery.Document) crawler.ExtractedMeta {
	var meta crawler.ExtractedMeta
	meta.Title = strings.TrimSpace(doc.FindMatcher(headTitleMatcher).First().Text())
	meta.Lang = doc.FindMatcher(htmlMatcher).First().AttrOr("lang", "")

	doc.FindMatcher(metaMatcher).Each(func(_ int, s *goquery.Selection) {
		key, ok := s.Attr("name")
		if !ok {
			key, ok = s.Attr("property")
		}
		if !ok {
			return
		}
		value, ok := s.Attr("content")
		if !ok {
			return
		}
		switch key {
		case "description", "og:description", "twitter:description":
			meta.Description = value
		case "og:image", "twitter:image:src":
			meta.ImageURL = value
		case "og:title", "twitter:title", "title":
			meta.Title = value
		case "og:locale":
			meta.Lang = value
		case "article:published_time":
			meta.Timestamp = parseTimestamp(value)
		case "article:modified_time":
			meta.TimestampModified = parseTimestamp(value)
		}
	})
	return meta
}

func parseTimestamp(value string) *time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	ts = ts.UTC()
	return &ts
}

func mainRegion(doc *goquery.Document) *goquery.Selection {
	if sel := doc.FindMatcher(mainMatcher).First(); sel.Length() > 0 {
		return sel
	}
	return doc.FindMatcher(bodyMatcher).First()
}

// ElementText renders the first node of sel as normalised plain text: block
// elements become paragraph breaks, whitespace is collapsed and blank lines
// dropped. With links set, anchors render as [text](href).
func ElementText(sel *goquery.Selection, links bool) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	var b strings.Builder
	visit(&b, sel.Get(0), links)
	return normalise(b.String())
}

func visit(b *strings.Builder, n *html.Node, links bool) {
	tag := n.Data
	if tag == "br" {
		b.WriteByte('\n')
		return
	}
	block := !inlineElements[tag]
	if block {
		b.WriteString("\n\n")
	}
	href, hasHref := attr(n, "href")
	emitHref := links && tag == "a" && hasHref
	if emitHref {
		b.WriteByte('[')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
		case html.ElementNode:
			visit(b, c, links)
		}
	}
	if emitHref {
		b.WriteString("](")
		b.WriteString(href)
		b.WriteByte(')')
	}
	if block {
		b.WriteString("\n\n")
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func normalise(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n\n")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
