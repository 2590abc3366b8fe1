package readme

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var markdown = goldmark.New()

// jsonLanguages are the fence info strings whose content may hold a config.
// An untagged fence is included.
var jsonLanguages = map[string]bool{
	"":      true,
	"json":  true,
	"jsonc": true,
	"json5": true,
}

// codeBlocks returns candidate block contents in document order.
func codeBlocks(src string) []string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var blocks []string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			lang := strings.ToLower(string(node.Language(source)))
			if jsonLanguages[lang] {
				blocks = append(blocks, segmentText(node.Lines(), source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			raw := segmentText(node.Lines(), source)
			if node.HasClosure() {
				raw += string(node.ClosureLine.Value(source))
			}
			blocks = append(blocks, preCodeBlocks(raw)...)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

func segmentText(lines *text.Segments, source []byte) string {
	var b strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// preCodeBlocks returns the text of every <pre> element in fragment,
// preferring its <code> child when present.
func preCodeBlocks(fragment string) []string {
	if !strings.Contains(strings.ToLower(fragment), "<pre") {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil
	}
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Pre {
			target := n
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.DataAtom == atom.Code {
					target = c
					break
				}
			}
			out = append(out, nodeText(target))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
