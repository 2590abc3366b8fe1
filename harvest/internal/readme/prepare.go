package readme

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy = bluemonday.StrictPolicy()
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

// Prepare reduces README text to what the summary prompt needs: HTML tags
// (badges, images, layout tables) are dropped, blank runs collapsed, and the
// result cut to at most maxChars runes. maxChars <= 0 means no limit.
func Prepare(text string, maxChars int) string {
	clean := html.UnescapeString(stripPolicy.Sanitize(text))
	clean = strings.ReplaceAll(clean, "\r\n", "\n")
	clean = blankRuns.ReplaceAllString(clean, "\n\n")
	clean = strings.TrimSpace(clean)
	if maxChars > 0 && utf8.RuneCountInString(clean) > maxChars {
		r := []rune(clean)
		clean = string(r[:maxChars])
	}
	return clean
}

// IsHTMLName reports whether a README file name denotes an HTML document.
func IsHTMLName(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ".html") || strings.HasSuffix(n, ".htm")
}

// FromHTML converts an HTML README to markdown so that code blocks become
// fences. The input is returned unchanged if conversion fails.
func (p *Parser) FromHTML(doc string) string {
	md, err := mdConverter.ConvertString(doc)
	if err != nil {
		p.logger.Info("readme: html conversion failed", "error", err)
		return doc
	}
	return md
}
