package loader

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Header: true, atom.Footer: true, atom.Aside: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Blockquote: true,
	atom.Pre: true, atom.Hr: true, atom.Dl: true,
}

var lines = map[atom.Atom]bool{
	atom.Br: true, atom.Li: true, atom.Tr: true, atom.Dt: true, atom.Dd: true,
}

// HTMLToText extracts readable text. Block elements become paragraphs
// separated by blank lines so the chunker can split on them.
func HTMLToText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	w := &textWriter{}
	w.walk(doc, false)
	return w.String(), nil
}

type textWriter struct {
	b       strings.Builder
	pending string
}

// brk requests a separator before the next text; the widest request wins.
func (w *textWriter) brk(sep string) {
	if w.b.Len() == 0 {
		return
	}
	if len(sep) > len(w.pending) {
		w.pending = sep
	}
}

func (w *textWriter) write(s string) {
	if s == "" {
		return
	}
	if w.pending != "" {
		w.b.WriteString(w.pending)
		w.pending = ""
	}
	w.b.WriteString(s)
}

func (w *textWriter) walk(n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			w.write(n.Data)
			return
		}
		text := strings.Join(strings.Fields(n.Data), " ")
		if text == "" {
			w.brk(" ")
			return
		}
		if startsWithSpace(n.Data) {
			w.brk(" ")
		}
		w.write(text)
		if endsWithSpace(n.Data) {
			w.brk(" ")
		}
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
	}

	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	line := n.Type == html.ElementNode && lines[n.DataAtom]
	if block {
		w.brk("\n\n")
	} else if line {
		w.brk("\n")
	}
	inPre := pre || (n.Type == html.ElementNode && n.DataAtom == atom.Pre)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, inPre)
	}
	if block {
		w.brk("\n\n")
	} else if line {
		w.brk("\n")
	}
}

func (w *textWriter) String() string { return strings.TrimSpace(w.b.String()) }

func startsWithSpace(s string) bool { return s != "" && strings.TrimLeft(s, " \t\r\n") != s }
func endsWithSpace(s string) bool   { return s != "" && strings.TrimRight(s, " \t\r\n") != s }
