package envelope

import (
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/dompatch/dom"
)

// Sanitizer rewrites a chunk of HTML to a safe subset.
type Sanitizer interface {
	Sanitize(string) string
}

var _ Sanitizer = (*bluemonday.Policy)(nil)

// WithSanitizer sanitizes the plain (non-island) subtrees of every
// fragment before the envelope becomes eligible for commit. Subtrees that
// contain island containers are left structural and their plain children
// are sanitized instead: the policy never sees synthetic elements.
//
// The policy must allow the attributes the reconciler relies on (data-key,
// data-partial-name); bluemonday's AllowDataAttributes covers them.
func WithSanitizer(s Sanitizer) Option {
	return func(p *parser) { p.sanitizer = s }
}

func sanitizeFragment(f *Fragment, s Sanitizer) error {
	return sanitizeChildren(f.Container, s)
}

// sanitizeChildren replaces each child subtree free of islands with its
// sanitized re-parse, and recurses through subtrees that hold islands.
func sanitizeChildren(parent *html.Node, s Sanitizer) error {
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case IsIsland(c) || containsIsland(c):
			if err := sanitizeChildren(c, s); err != nil {
				return err
			}
		case c.Type == html.ElementNode || c.Type == html.TextNode:
			clean := s.Sanitize(dom.Render(c))
			nodes, err := dom.ParseFragment(clean)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				parent.InsertBefore(n, c)
			}
			parent.RemoveChild(c)
		}
		c = next
	}
	return nil
}

func containsIsland(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if IsIsland(c) || containsIsland(c) {
			return true
		}
	}
	return false
}
