// Package envelope parses the dompatch response wire format: an HTML
// document or fragment in which updatable regions and island subtrees are
// delimited by paired, non-rendering comment markers.
//
//	<!--dp-partial:NAME:MODE--> ... <!--/dp-partial-->
//	<!--dp-island:TYPE:KEY:BASE64PROPS--> ... <!--/dp-island-->
//
// Props are base64-encoded JSON because HTML comment bodies cannot contain
// "--". The parser walks the response once and converts every marker pair
// into a synthetic container element (dp-partial / dp-island); downstream
// code never rescans raw markup. Synthetic containers exist only in parsed
// envelopes; hydration and reconciliation unwrap them, so markers never
// reach the committed document.
package envelope

import (
	"encoding/base64"
	"encoding/json"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dompatch/dom"
)

// Mode is the insertion mode of a fragment.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
	ModePrepend Mode = "prepend"
)

// ParseMode validates a mode string, defaulting empty to replace.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeReplace, ModeAppend, ModePrepend:
		return Mode(s), true
	case "":
		return ModeReplace, true
	}
	return "", false
}

// Synthetic container element names produced by the parser.
const (
	PartialTag = "dp-partial"
	IslandTag  = "dp-island"
)

// Fragment is one named region carried by a response.
type Fragment struct {
	Name string
	Mode Mode

	// Container is the synthetic dp-partial element holding the fragment
	// content. Its children may contain nested dp-island containers.
	Container *html.Node
}

// Nodes returns the fragment's top-level content nodes.
func (f *Fragment) Nodes() []*html.Node {
	return dom.Children(f.Container)
}

// Envelope is a parsed response: head entries plus ordered named fragments.
type Envelope struct {
	// Head holds the response's <head> children in order, still attached
	// to the parsed response tree. The head merger clones what it keeps.
	Head []*html.Node

	// Fragments in response order. Order is significant for side effects
	// (mount/unmount sequencing across fragments).
	Fragments []*Fragment
}

// Fragment returns the named fragment, nil when the response does not
// carry it.
func (e *Envelope) Fragment(name string) *Fragment {
	for _, f := range e.Fragments {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// IsIsland reports whether n is a synthetic island container.
func IsIsland(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == IslandTag
}

// IsPartial reports whether n is a synthetic fragment container.
func IsPartial(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == PartialTag
}

// IslandType returns the component type id of an island container.
func IslandType(n *html.Node) string { return dom.AttrOr(n, "type", "") }

// IslandKey returns the explicit author key, "" when none was supplied.
func IslandKey(n *html.Node) string { return dom.AttrOr(n, "key", "") }

// IslandProps returns the decoded JSON props payload of an island
// container ("null" when the marker carried none).
func IslandProps(n *html.Node) json.RawMessage {
	v := dom.AttrOr(n, "props", "")
	if v == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(v)
}

// PartialMarkers returns the begin/end comment markup delimiting a named
// fragment. Servers producing envelopes use this to stay in sync with the
// parser.
func PartialMarkers(name string, mode Mode) (begin, end string) {
	return "<!--" + PartialTag + ":" + name + ":" + string(mode) + "-->",
		"<!--/" + PartialTag + "-->"
}

// IslandMarkers returns the begin/end comment markup delimiting an island
// subtree. props is marshaled and base64-encoded; nil props are allowed.
func IslandMarkers(typ, key string, props any) (begin, end string, err error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return "", "", err
	}
	enc := base64.StdEncoding.EncodeToString(raw)
	return "<!--" + IslandTag + ":" + typ + ":" + key + ":" + enc + "-->",
		"<!--/" + IslandTag + "-->", nil
}
