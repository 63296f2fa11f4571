package dom

import (
	"fmt"
	"io"
	"net/url"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the live document the engine patches. It owns the parsed
// tree, the base URL used for same-origin decisions, and the scroll
// offsets the history manager persists and restores.
type Document struct {
	Root    *html.Node // html.DocumentNode
	BaseURL *url.URL

	ScrollX int
	ScrollY int
}

// NewDocument parses a full HTML document. baseURL anchors same-origin
// checks and relative URL resolution.
func NewDocument(r io.Reader, baseURL string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse document: %w", err)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("dom: parse base url: %w", err)
	}
	return &Document{Root: root, BaseURL: u}, nil
}

// Html returns the <html> element.
func (d *Document) Html() *html.Node {
	return findElement(d.Root, atom.Html)
}

// Head returns the <head> element.
func (d *Document) Head() *html.Node {
	return findElement(d.Root, atom.Head)
}

// Body returns the <body> element.
func (d *Document) Body() *html.Node {
	return findElement(d.Root, atom.Body)
}

// Title returns the current document title, "" when absent.
func (d *Document) Title() string {
	head := d.Head()
	if head == nil {
		return ""
	}
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Title {
			return Text(c)
		}
	}
	return ""
}

// Slot returns the live element carrying data-partial-name=name, nil when
// the document declares no such fragment slot.
func (d *Document) Slot(name string) *html.Node {
	body := d.Body()
	if body == nil {
		return nil
	}
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			if v, ok := Attr(n, SlotAttr); ok && v == name {
				found = n
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(body)
	return found
}

// HTML serializes the whole document.
func (d *Document) HTML() string {
	return Render(d.Root)
}

// SetScroll records the current scroll offsets of the host viewport.
func (d *Document) SetScroll(x, y int) {
	d.ScrollX, d.ScrollY = x, y
}

func findElement(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}
