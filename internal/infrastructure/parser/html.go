package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const noiseSelector = "script, style, noscript, svg, iframe, link, meta"

var blankRuns = regexp.MustCompile(`\s{2,}`)

// CleanHTML strips markup that carries no listing information and returns the
// body markup with whitespace collapsed. Anchors keep their hrefs. Unparseable
// input is returned as is.
func CleanHTML(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}

	doc.Find(noiseSelector).Remove()
	doc.Find("*").Contents().FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "#comment"
	}).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	cleaned, err := root.Html()
	if err != nil {
		return raw
	}

	return strings.TrimSpace(blankRuns.ReplaceAllString(cleaned, " "))
}
