package nav

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dompatch/dom"
	"github.com/hazyhaar/dompatch/envelope"
)

// Markup attributes driving navigation eligibility.
const (
	// NavAttr enables ("true") or disables ("false") partial navigation
	// for a subtree. The nearest ancestor carrying it decides; absent
	// means disabled, so pages opt in explicitly.
	NavAttr = "data-partial-nav"
	// PartialAttr on an anchor or form opts it out ("false") or overrides
	// the URL the partial response is fetched from (any other value).
	PartialAttr = "data-partial"
	// LoadingAttr is set on the trigger element while the loading
	// indicator is visible.
	LoadingAttr = "data-partial-loading"
	// TargetAttr restricts which fragments of the response apply:
	// comma-separated fragment names. Absent applies all of them.
	TargetAttr = "data-partial-target"
	// ModeAttr overrides the insertion mode of every applied fragment.
	ModeAttr = "data-partial-mode"
)

// Activation describes one navigation the controller should perform.
type Activation struct {
	// Kind is the trigger: "anchor", "form", "traverse", "programmatic".
	Kind string
	// URL is the destination committed to history.
	URL string
	// FetchURL is where the partial response is fetched from when it
	// differs from URL (PartialAttr override). Empty means URL.
	FetchURL string
	// Method is the HTTP method, GET when empty.
	Method string
	// Form carries submitted form values. GET forms encode them into the
	// query; other methods send them as the request body.
	Form url.Values
	// Targets restricts application to the named fragments. Empty applies
	// every fragment the response carries.
	Targets []string
	// Mode, when set, overrides the insertion mode of applied fragments.
	Mode envelope.Mode
	// Trigger is the activating element, target of the loading indicator.
	Trigger *html.Node
	// Replace commits over the current history entry instead of pushing.
	Replace bool
}

// FromAnchor decides whether activating an anchor is a partial navigation.
// Reports false when the engine must fall through to the host's default
// navigation: no href, navigation not enabled for the subtree, an opt-out,
// or a cross-origin destination.
func FromAnchor(doc *dom.Document, a *html.Node) (Activation, bool) {
	if a == nil || a.Type != html.ElementNode || a.DataAtom != atom.A {
		return Activation{}, false
	}
	href, ok := dom.Attr(a, "href")
	if !ok || href == "" || strings.HasPrefix(href, "#") {
		return Activation{}, false
	}
	if !eligible(a) {
		return Activation{}, false
	}

	dest, ok := resolveSameOrigin(doc.BaseURL, href)
	if !ok {
		return Activation{}, false
	}
	return Activation{
		Kind:     "anchor",
		URL:      dest.String(),
		FetchURL: fetchOverride(a),
		Targets:  targetsOf(a),
		Mode:     modeOf(a),
		Trigger:  a,
	}, true
}

// FromForm decides whether submitting a form is a partial navigation.
// Method and action follow the form's attributes; form controls are
// collected into Activation.Form.
func FromForm(doc *dom.Document, form *html.Node) (Activation, bool) {
	if form == nil || form.Type != html.ElementNode || form.DataAtom != atom.Form {
		return Activation{}, false
	}
	if !eligible(form) {
		return Activation{}, false
	}

	action := dom.AttrOr(form, "action", "")
	if action == "" && doc.BaseURL != nil {
		action = doc.BaseURL.String()
	}
	dest, ok := resolveSameOrigin(doc.BaseURL, action)
	if !ok {
		return Activation{}, false
	}

	method := strings.ToUpper(dom.AttrOr(form, "method", "GET"))
	if method != "GET" && method != "POST" {
		return Activation{}, false
	}
	return Activation{
		Kind:     "form",
		URL:      dest.String(),
		FetchURL: fetchOverride(form),
		Method:   method,
		Form:     formValues(form),
		Targets:  targetsOf(form),
		Mode:     modeOf(form),
		Trigger:  form,
	}, true
}

// eligible walks ancestors: an explicit PartialAttr="false" on the element
// or any ancestor opts out; otherwise the nearest NavAttr decides.
func eligible(el *html.Node) bool {
	enabled := false
	decided := false
	for n := el; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if dom.AttrOr(n, PartialAttr, "") == "false" {
			return false
		}
		if !decided {
			if v, ok := dom.Attr(n, NavAttr); ok {
				enabled = v != "false"
				decided = true
			}
		}
	}
	return enabled
}

// targetsOf parses the TargetAttr fragment-name list on el.
func targetsOf(el *html.Node) []string {
	v := dom.AttrOr(el, TargetAttr, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// modeOf parses the ModeAttr insertion-mode override on el. Unknown values
// are ignored rather than failing the activation.
func modeOf(el *html.Node) envelope.Mode {
	v, present := dom.Attr(el, ModeAttr)
	if !present {
		return ""
	}
	if m, ok := envelope.ParseMode(v); ok {
		return m
	}
	return ""
}

// fetchOverride returns the PartialAttr URL override on el, "" when none.
func fetchOverride(el *html.Node) string {
	v := dom.AttrOr(el, PartialAttr, "")
	if v == "" || v == "false" || v == "true" {
		return ""
	}
	return v
}

// resolveSameOrigin resolves ref against base and enforces same-origin.
// Partial navigation never leaves the origin; cross-origin destinations
// fall through to the host.
func resolveSameOrigin(base *url.URL, ref string) (*url.URL, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if base != nil && (u.Scheme != base.Scheme || u.Host != base.Host) {
		return nil, false
	}
	return u, true
}

// formValues flattens the form's controls. Unchecked checkboxes and radio
// buttons are skipped, matching browser submission semantics.
func formValues(form *html.Node) url.Values {
	vals := url.Values{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			name := dom.AttrOr(n, "name", "")
			switch n.DataAtom {
			case atom.Input:
				typ := strings.ToLower(dom.AttrOr(n, "type", "text"))
				if name != "" {
					checked := dom.AttrOr(n, "checked", "absent") != "absent"
					if (typ != "checkbox" && typ != "radio") || checked {
						vals.Add(name, dom.AttrOr(n, "value", ""))
					}
				}
			case atom.Textarea:
				if name != "" {
					vals.Add(name, dom.Text(n))
				}
			case atom.Select:
				if name != "" {
					if v, ok := selectedOption(n); ok {
						vals.Add(name, v)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
	return vals
}

func selectedOption(sel *html.Node) (string, bool) {
	var first, selected *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Option {
			if first == nil {
				first = n
			}
			if _, ok := dom.Attr(n, "selected"); ok && selected == nil {
				selected = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel)
	opt := selected
	if opt == nil {
		opt = first
	}
	if opt == nil {
		return "", false
	}
	if v, ok := dom.Attr(opt, "value"); ok {
		return v, true
	}
	return dom.Text(opt), true
}
