package envelope

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dompatch/dom"
)

// Option customises parsing.
type Option func(*parser)

type parser struct {
	sanitizer Sanitizer
}

// Parse reads a fetched response and splits it into head entries and named
// fragments. Full documents and bare fragments are both accepted; bare
// fragments are parsed in a <body> context so marker comments keep their
// position.
//
// Parse fails with ErrMalformed when boundary markers are unbalanced,
// misnested, or carry invalid payloads. A response with zero fragments is
// not an error here; callers that required a partial response surface
// ErrNoPartials themselves.
func Parse(r io.Reader, opts ...Option) (*Envelope, error) {
	p := &parser{}
	for _, o := range opts {
		o(p)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("envelope: read response: %w", err)
	}

	root, err := parseMarkup(raw)
	if err != nil {
		return nil, fmt.Errorf("envelope: parse response: %w", err)
	}

	if err := transformMarkers(root); err != nil {
		return nil, err
	}

	env := &Envelope{}
	if head := findHead(root); head != nil {
		for c := head.FirstChild; c != nil; c = c.NextSibling {
			if dom.IsWhitespaceText(c) {
				continue
			}
			env.Head = append(env.Head, c)
		}
	}

	if err := collectFragments(root, env); err != nil {
		return nil, err
	}

	if p.sanitizer != nil {
		for _, f := range env.Fragments {
			if err := sanitizeFragment(f, p.sanitizer); err != nil {
				return nil, fmt.Errorf("envelope: sanitize fragment %q: %w", f.Name, err)
			}
		}
	}

	return env, nil
}

// Transform converts every boundary marker pair under root into a
// synthetic container element, in place. Parse does this for fetched
// responses; Transform is for documents obtained elsewhere (the initially
// rendered page, before hydration).
func Transform(root *html.Node) error {
	return transformMarkers(root)
}

// parseMarkup parses a full document, or a bare fragment in body context
// when the input carries no <html> element.
func parseMarkup(raw []byte) (*html.Node, error) {
	if bytes.Contains(bytes.ToLower(raw), []byte("<html")) {
		return html.Parse(bytes.NewReader(raw))
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(bytes.NewReader(raw), body)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return body, nil
}

func findHead(root *html.Node) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Head {
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

// marker is a decoded boundary comment.
type marker struct {
	tag   string // PartialTag or IslandTag
	end   bool
	parts []string // payload fields for begin markers
}

// parseMarkerComment decodes a comment body into a marker, reporting false
// for ordinary comments.
func parseMarkerComment(data string) (marker, bool) {
	s := strings.TrimSpace(data)
	switch {
	case s == "/"+PartialTag:
		return marker{tag: PartialTag, end: true}, true
	case s == "/"+IslandTag:
		return marker{tag: IslandTag, end: true}, true
	case strings.HasPrefix(s, PartialTag+":"):
		return marker{tag: PartialTag, parts: strings.SplitN(s[len(PartialTag)+1:], ":", 2)}, true
	case strings.HasPrefix(s, IslandTag+":"):
		return marker{tag: IslandTag, parts: strings.SplitN(s[len(IslandTag)+1:], ":", 3)}, true
	}
	return marker{}, false
}

// transformMarkers converts every balanced marker pair under parent into a
// synthetic container element, recursing into nested content. One pass:
// nothing downstream ever rescans comments.
func transformMarkers(parent *html.Node) error {
	for c := parent.FirstChild; c != nil; {
		if c.Type == html.CommentNode {
			m, ok := parseMarkerComment(c.Data)
			if ok {
				if m.end {
					return malformedf("unmatched %s end marker", m.tag)
				}
				container, resume, err := enclose(parent, c, m)
				if err != nil {
					return err
				}
				if err := transformMarkers(container); err != nil {
					return err
				}
				c = resume
				continue
			}
		}
		next := c.NextSibling
		if c.Type == html.ElementNode {
			if err := transformMarkers(c); err != nil {
				return err
			}
		}
		c = next
	}
	return nil
}

// enclose replaces the marker pair starting at begin with a synthetic
// container element holding the enclosed siblings. Returns the container
// and the node to resume scanning from.
func enclose(parent *html.Node, begin *html.Node, m marker) (*html.Node, *html.Node, error) {
	// Locate the matching end marker at this sibling level, counting
	// nested pairs of the same tag.
	depth := 0
	var end *html.Node
	for c := begin.NextSibling; c != nil; c = c.NextSibling {
		if c.Type != html.CommentNode {
			continue
		}
		im, ok := parseMarkerComment(c.Data)
		if !ok || im.tag != m.tag {
			continue
		}
		if im.end {
			if depth == 0 {
				end = c
				break
			}
			depth--
		} else {
			depth++
		}
	}
	if end == nil {
		return nil, nil, malformedf("unterminated %s marker", m.tag)
	}

	container, err := newContainer(m)
	if err != nil {
		return nil, nil, err
	}

	parent.InsertBefore(container, begin)
	parent.RemoveChild(begin)
	for c := container.NextSibling; c != end; c = container.NextSibling {
		parent.RemoveChild(c)
		container.AppendChild(c)
	}
	resume := end.NextSibling
	parent.RemoveChild(end)
	return container, resume, nil
}

func newContainer(m marker) (*html.Node, error) {
	n := &html.Node{Type: html.ElementNode, Data: m.tag}
	switch m.tag {
	case PartialTag:
		if len(m.parts) == 0 || m.parts[0] == "" {
			return nil, malformedf("partial marker missing name")
		}
		modeStr := ""
		if len(m.parts) == 2 {
			modeStr = m.parts[1]
		}
		mode, ok := ParseMode(modeStr)
		if !ok {
			return nil, malformedf("partial %q: invalid mode %q", m.parts[0], modeStr)
		}
		dom.SetAttr(n, "name", m.parts[0])
		dom.SetAttr(n, "mode", string(mode))

	case IslandTag:
		if len(m.parts) != 3 || m.parts[0] == "" {
			return nil, malformedf("island marker needs type:key:props")
		}
		props, err := base64.StdEncoding.DecodeString(m.parts[2])
		if err != nil {
			return nil, malformedf("island %q: bad props encoding: %v", m.parts[0], err)
		}
		dom.SetAttr(n, "type", m.parts[0])
		if m.parts[1] != "" {
			dom.SetAttr(n, "key", m.parts[1])
		}
		if len(props) > 0 {
			dom.SetAttr(n, "props", string(props))
		}
	}
	return n, nil
}

// collectFragments gathers top-level dp-partial containers in document
// order. Partials inside partials and duplicate names are malformed.
func collectFragments(root *html.Node, env *Envelope) error {
	seen := map[string]bool{}
	var walk func(n *html.Node, inPartial bool) error
	walk = func(n *html.Node, inPartial bool) error {
		if IsPartial(n) {
			if inPartial {
				return malformedf("partial %q nested inside another partial", dom.AttrOr(n, "name", ""))
			}
			name := dom.AttrOr(n, "name", "")
			if seen[name] {
				return malformedf("duplicate partial name %q", name)
			}
			seen[name] = true
			mode, _ := ParseMode(dom.AttrOr(n, "mode", ""))
			env.Fragments = append(env.Fragments, &Fragment{Name: name, Mode: mode, Container: n})
			inPartial = true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c, inPartial); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root, false)
}
