package dom

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseSnapshot builds a document from the full HTML snapshot sent in the
// page host's hello message.
func ParseSnapshot(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, err
	}
	d := NewDocument()
	if body := findBody(root); body != nil {
		for c := body.FirstChild; c != nil; c = c.NextSibling {
			if el := convert(c); el != nil {
				d.Root.AppendChild(el)
				el.Walk(func(n *Element) bool {
					d.index(n)
					return true
				})
			}
		}
	}
	return d, nil
}

// ParseFragment parses the serialized subtree of a mutation message. The
// fragment may contain several sibling roots.
func ParseFragment(src string) ([]*Element, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		if el := convert(n); el != nil {
			out = append(out, el)
		}
	}
	return out, nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func convert(n *html.Node) *Element {
	if n.Type != html.ElementNode {
		return nil
	}
	el := &Element{
		Tag:    strings.ToLower(n.Data),
		Attrs:  make(map[string]string),
		Styles: make(map[string]string),
	}
	for _, a := range n.Attr {
		el.Attrs[strings.ToLower(a.Key)] = a.Val
	}
	if id := el.Attrs[IDAttr]; id != "" {
		el.ID = id
	} else {
		el.ID = uuid.New().String()
	}
	if v := el.Attrs["value"]; v != "" {
		el.Value = v
	}
	var text strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			text.WriteString(c.Data)
		case html.ElementNode:
			if child := convert(c); child != nil {
				el.AppendChild(child)
			}
		}
	}
	el.Text = strings.TrimSpace(text.String())
	return el
}
