// Package headmerge folds the head entries of a partial response into the
// live document head. Merging is keyed, not positional: each entry derives
// a semantic key and replaces the live entry carrying the same key, so
// applying the same response twice is a no-op and entries from earlier
// navigations accumulate instead of being wiped.
package headmerge

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dompatch/dom"
)

// Result summarizes one merge.
type Result struct {
	Added    int
	Replaced int
	Skipped  int // incoming entries identical to their live counterpart
}

// Merge folds incoming head entries into the document head. Incoming nodes
// are cloned; the response tree is left untouched. Entries the live head
// has no key for are appended in response order.
//
// A document without a <head> element absorbs nothing.
func Merge(doc *dom.Document, incoming []*html.Node) Result {
	var res Result
	head := doc.Head()
	if head == nil || len(incoming) == 0 {
		return res
	}

	live := map[string]*html.Node{}
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if dom.IsWhitespaceText(c) {
			continue
		}
		live[entryKey(c, doc.BaseURL)] = c
	}

	for _, in := range incoming {
		key := entryKey(in, doc.BaseURL)
		clone := dom.Clone(in)
		cur, ok := live[key]
		if !ok {
			head.AppendChild(clone)
			live[key] = clone
			res.Added++
			continue
		}
		if dom.Render(cur) == dom.Render(clone) {
			res.Skipped++
			continue
		}
		head.InsertBefore(clone, cur)
		head.RemoveChild(cur)
		live[key] = clone
		res.Replaced++
	}
	return res
}

// entryKey derives the identity under which a head entry is deduplicated.
// Singular elements (title, base) collapse to one key regardless of
// content; addressable resources key on their resolved URL; everything
// else keys on its serialized form.
func entryKey(n *html.Node, base *url.URL) string {
	if n.Type != html.ElementNode {
		return "raw\x00" + dom.Render(n)
	}

	switch n.DataAtom {
	case atom.Title:
		return "title"
	case atom.Base:
		return "base"

	case atom.Meta:
		if _, ok := dom.Attr(n, "charset"); ok {
			return "meta\x00charset"
		}
		for _, attr := range []string{"name", "property", "http-equiv"} {
			if v, ok := dom.Attr(n, attr); ok {
				return "meta\x00" + attr + "\x00" + strings.ToLower(v)
			}
		}

	case atom.Link:
		if strings.EqualFold(dom.AttrOr(n, "rel", ""), "stylesheet") {
			return "link\x00stylesheet\x00" + resolveRef(base, dom.AttrOr(n, "href", ""))
		}

	case atom.Style:
		if id, ok := dom.Attr(n, "data-style-id"); ok {
			return "style\x00id\x00" + id
		}
		return "style\x00hash\x00" + contentHash(dom.Text(n))

	case atom.Script:
		if src, ok := dom.Attr(n, "src"); ok {
			return "script\x00src\x00" + resolveRef(base, src)
		}
		return "script\x00hash\x00" + contentHash(dom.Text(n))
	}

	return "raw\x00" + dom.Render(n)
}

// resolveRef normalizes a URL reference against the document base so
// "/app.css" and "https://host/app.css" dedupe to one entry.
func resolveRef(base *url.URL, ref string) string {
	if base == nil || ref == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func contentHash(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum64())
}
