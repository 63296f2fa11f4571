package reconcile

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dompatch/dom"
	"github.com/hazyhaar/dompatch/envelope"
	"github.com/hazyhaar/dompatch/island"
)

// pass is the state of one synchronous reconciliation pass over one scope.
// Structural errors (malformed nesting, duplicate identities) are detected
// by the key pre-pass before any live mutation; errors surfacing from here
// mid-pass indicate reconciler bugs, not bad input.
type pass struct {
	r     *Reconciler
	scope string
	keys  newKeys
	edits EditSequence

	// claimed holds every identity key the incoming tree will mount or
	// adopt. An unmatched live instance with a claimed identity is
	// detached but kept live until the claim is processed, so explicit
	// keys preserve state across cross-parent moves.
	claimed  map[string]bool
	deferred []*island.Instance

	placed []*island.Instance
}

func (p *pass) record(e Edit) { p.edits = append(p.edits, e) }

// setKeys installs the key pre-pass result and derives the claimed set.
func (p *pass) setKeys(keys newKeys) {
	p.keys = keys
	p.claimed = make(map[string]bool, len(keys))
	for _, k := range keys {
		p.claimed[k] = true
	}
}

// finish fixes up bookkeeping that needs final node positions and releases
// deferred instances whose claim never landed (only reachable when an
// earlier claim re-used the key for a fresh mount).
func (p *pass) finish() {
	for _, inst := range p.deferred {
		if p.r.registry.Find(inst.Scope, inst.Key) == inst &&
			(len(inst.Nodes) == 0 || inst.Nodes[0].Parent == nil) {
			p.releaseTree(inst)
		}
	}
	for _, inst := range p.placed {
		if len(inst.Nodes) > 0 {
			inst.Parent = inst.Nodes[0].Parent
		}
	}
}

// unit is one matchable child: a live island range, an incoming island
// container, or a single plain node. Islands always carry a key (explicit
// or derived); plain elements may carry data-key; everything else matches
// positionally.
type unit struct {
	isIsland  bool
	inst      *island.Instance // old side island
	container *html.Node       // new side island (dp-island element)
	node      *html.Node       // plain node, either side
	key       string           // "" = positional
}

// matchKey namespaces island identities away from element data-keys.
func (u *unit) matchKey() string {
	if u.key == "" {
		return ""
	}
	if u.isIsland {
		return "i\x00" + u.key
	}
	return "e\x00" + u.key
}

// oldUnits groups the current children of parent: island ranges collapse
// into one unit each, everything else is a single-node unit. self is the
// instance whose own subtree is being reconciled (its range start must not
// read as a nested island), nil at the slot level.
func (p *pass) oldUnits(parent *html.Node, self *island.Instance) []*unit {
	var units []*unit
	children := dom.Children(parent)
	for i := 0; i < len(children); i++ {
		n := children[i]
		if inst := p.r.registry.OwnerOf(n); inst != nil && inst != self {
			units = append(units, &unit{isIsland: true, inst: inst, key: inst.Key})
			i += len(inst.Nodes) - 1
			continue
		}
		u := &unit{node: n}
		if n.Type == html.ElementNode {
			u.key = dom.AttrOr(n, dom.KeyAttr, "")
		}
		units = append(units, u)
	}
	return units
}

// newUnits wraps incoming top-level nodes.
func (p *pass) newUnits(nodes []*html.Node) []*unit {
	var units []*unit
	for _, n := range nodes {
		if envelope.IsIsland(n) {
			units = append(units, &unit{isIsland: true, container: n, key: p.keys[n]})
			continue
		}
		u := &unit{node: n}
		if n.Type == html.ElementNode {
			u.key = dom.AttrOr(n, dom.KeyAttr, "")
		}
		units = append(units, u)
	}
	return units
}

// matchUnits pairs new units to old ones: keyed first (islands by identity,
// elements by data-key), then remaining unkeyed siblings positionally.
// A keyed old unit whose key is gone never falls back to positional
// matching.
func matchUnits(old, new_ []*unit) map[*unit]*unit {
	matches := make(map[*unit]*unit)
	used := make(map[*unit]bool)

	oldByKey := make(map[string]*unit)
	for _, ou := range old {
		if k := ou.matchKey(); k != "" {
			oldByKey[k] = ou
		}
	}
	for _, nu := range new_ {
		if k := nu.matchKey(); k != "" {
			if ou, ok := oldByKey[k]; ok && !used[ou] {
				matches[nu] = ou
				used[ou] = true
			}
		}
	}

	// Positional fill over the unkeyed remainder.
	var oldPool []*unit
	for _, ou := range old {
		if ou.matchKey() == "" && !used[ou] {
			oldPool = append(oldPool, ou)
		}
	}
	i := 0
	for _, nu := range new_ {
		if nu.matchKey() != "" {
			continue
		}
		if i < len(oldPool) {
			matches[nu] = oldPool[i]
			used[oldPool[i]] = true
			i++
		}
	}
	return matches
}

// patchChildren reconciles the children of parent against the incoming
// node list, in a single synchronous rebuild: unmatched old content is
// released and removed, matched content is patched in place, new content
// is materialized and mounted, all in incoming order.
func (p *pass) patchChildren(parent *html.Node, newNodes []*html.Node, self *island.Instance) error {
	old := p.oldUnits(parent, self)
	new_ := p.newUnits(newNodes)
	matches := matchUnits(old, new_)

	matched := make(map[*unit]bool)
	for _, ou := range matches {
		matched[ou] = true
	}

	// Unclaimed old content goes first, islands children-before-parent.
	// Live islands whose identity the incoming tree still claims are only
	// detached here; the claim adopts or recreates them when it mounts.
	for _, ou := range old {
		if matched[ou] {
			continue
		}
		if ou.isIsland {
			if p.claimed[ou.inst.Key] {
				for _, n := range ou.inst.Nodes {
					dom.Detach(n)
				}
				p.deferred = append(p.deferred, ou.inst)
			} else {
				p.removeIsland(ou.inst)
			}
		} else {
			p.removePlain(ou.node)
		}
	}

	// Detach survivors; the rebuild below re-appends in incoming order.
	oldPos := make(map[*unit]int)
	pos := 0
	for _, ou := range old {
		if !matched[ou] {
			continue
		}
		oldPos[ou] = pos
		pos++
		if ou.isIsland {
			for _, n := range ou.inst.Nodes {
				dom.Detach(n)
			}
		} else {
			dom.Detach(ou.node)
		}
	}

	lastPos := -1
	for _, nu := range new_ {
		var nodes []*html.Node
		var err error

		ou := matches[nu]
		switch {
		case ou == nil:
			if nu.isIsland {
				nodes, err = p.mountIsland(nu.container)
			} else {
				nodes, err = p.materialize(nu.node)
			}
			if err != nil {
				return err
			}
			for _, n := range nodes {
				parent.AppendChild(n)
				p.record(Edit{Op: OpInsert, Path: dom.Path(n), Tag: nodeTag(n)})
			}
			continue

		case nu.isIsland:
			nodes, err = p.patchIsland(ou.inst, nu.container)

		default:
			nodes, err = p.patchPlain(ou.node, nu.node)
		}
		if err != nil {
			return err
		}
		for _, n := range nodes {
			parent.AppendChild(n)
		}
		if op := oldPos[ou]; op < lastPos {
			p.record(Edit{Op: OpMove, Path: pathOf(nodes), Island: islandIdentity(ou)})
		} else {
			lastPos = op
		}
	}
	return nil
}

// patchIsland handles a matched island unit: same type updates in place
// and recursively reconciles the instance's subtree against the incoming
// props-rendered output; a type change at the same identity is exactly one
// unmount followed by one mount, never an update.
func (p *pass) patchIsland(inst *island.Instance, container *html.Node) ([]*html.Node, error) {
	newType := envelope.IslandType(container)
	if inst.Type != newType {
		p.record(Edit{Op: OpReplace, Island: inst.Identity(), OldValue: inst.Type, Value: newType})
		p.releaseTree(inst)
		return p.mountIsland(container)
	}

	oldProps := inst.Props
	newProps := envelope.IslandProps(container)
	p.r.lifecycle.Update(inst, oldProps, newProps)
	if inst.Comp != nil {
		if err := inst.Comp.Update(newProps); err != nil {
			p.r.logger.Error("reconcile: island update failed",
				"identity", inst.Identity(), "type", inst.Type, "error", err)
		}
	}
	inst.Props = newProps
	p.record(Edit{Op: OpUpdate, Island: inst.Identity(), Tag: inst.Type})

	// Reconcile the subtree in a staging parent so range boundaries stay
	// unambiguous while siblings shift.
	tmp := &html.Node{Type: html.ElementNode, Data: "dp-staging"}
	for _, n := range inst.Nodes {
		dom.Detach(n)
		tmp.AppendChild(n)
	}
	if err := p.patchChildren(tmp, dom.Children(container), inst); err != nil {
		return nil, err
	}
	result := dom.Children(tmp)
	for _, n := range result {
		dom.Detach(n)
	}
	if len(result) == 0 {
		result = []*html.Node{anchorNode()}
	}
	inst.Nodes = result
	p.placed = append(p.placed, inst)
	return result, nil
}

// patchPlain handles a matched plain unit. Same-kind nodes are updated in
// place (text value, attribute sync, recursive children); anything else is
// a replacement.
func (p *pass) patchPlain(oldN, newN *html.Node) ([]*html.Node, error) {
	switch {
	case oldN.Type == html.TextNode && newN.Type == html.TextNode,
		oldN.Type == html.CommentNode && newN.Type == html.CommentNode:
		if oldN.Data != newN.Data {
			p.record(Edit{Op: OpText, Path: dom.Path(oldN), Value: newN.Data, OldValue: oldN.Data})
			oldN.Data = newN.Data
		}
		return []*html.Node{oldN}, nil

	case oldN.Type == html.ElementNode && newN.Type == html.ElementNode && oldN.Data == newN.Data:
		p.syncAttrs(oldN, newN)
		if err := p.patchChildren(oldN, dom.Children(newN), nil); err != nil {
			return nil, err
		}
		return []*html.Node{oldN}, nil

	default:
		p.record(Edit{Op: OpReplace, Path: dom.Path(oldN), OldValue: nodeTag(oldN), Value: nodeTag(newN)})
		p.releaseNestedIn(oldN)
		return p.materialize(newN)
	}
}

func (p *pass) syncAttrs(oldN, newN *html.Node) {
	for _, a := range newN.Attr {
		if cur, ok := dom.Attr(oldN, a.Key); !ok || cur != a.Val {
			p.record(Edit{Op: OpAttr, Path: dom.Path(oldN), Name: a.Key, Value: a.Val, OldValue: cur})
			dom.SetAttr(oldN, a.Key, a.Val)
		}
	}
	var stale []string
	for _, a := range oldN.Attr {
		if _, ok := dom.Attr(newN, a.Key); !ok {
			stale = append(stale, a.Key)
		}
	}
	for _, k := range stale {
		p.record(Edit{Op: OpAttrDel, Path: dom.Path(oldN), Name: k})
		dom.RemoveAttr(oldN, k)
	}
}

// materialize detaches an incoming node from the envelope tree, mounting
// and unwrapping every island container inside it, parents before
// children.
func (p *pass) materialize(n *html.Node) ([]*html.Node, error) {
	if envelope.IsIsland(n) {
		return p.mountIsland(n)
	}
	if n.Type == html.ElementNode {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if envelope.IsIsland(c) {
				nodes, err := p.mountIsland(c)
				if err != nil {
					return nil, err
				}
				for _, m := range nodes {
					n.InsertBefore(m, c)
				}
				n.RemoveChild(c)
			} else if _, err := p.materialize(c); err != nil {
				return nil, err
			}
			c = next
		}
	}
	dom.Detach(n)
	return []*html.Node{n}, nil
}

// mountIsland creates, registers, and mounts a fresh instance for an
// incoming island container, then materializes its content. The Mount
// event fires before any nested island's, giving parent-before-children
// ordering.
func (p *pass) mountIsland(container *html.Node) ([]*html.Node, error) {
	key, ok := p.keys[container]
	if !ok {
		return nil, usagef("island container missing computed key (type %q)", envelope.IslandType(container))
	}

	// The identity can still be live when an island moved to a different
	// parent within the scope: per-parent matching never paired them.
	// Explicit keys adopt the live instance (state-preserving move);
	// stale derived identities are released so the key can be reused.
	if existing := p.r.registry.Find(p.scope, key); existing != nil {
		if existing.Explicit && existing.Type == envelope.IslandType(container) {
			p.record(Edit{Op: OpMove, Island: existing.Identity()})
			return p.patchIsland(existing, container)
		}
		p.removeIsland(existing)
	}

	inst := &island.Instance{
		Scope:    p.scope,
		Key:      key,
		Type:     envelope.IslandType(container),
		Props:    envelope.IslandProps(container),
		Explicit: envelope.IslandKey(container) != "",
	}
	if ctor, ok := p.r.resolver.Resolve(inst.Type); ok {
		inst.Comp = ctor()
	} else {
		p.r.logger.Warn("reconcile: unresolvable island type, mounting inert",
			"type", inst.Type, "identity", inst.Identity())
	}
	if _, err := p.r.registry.Register(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsageViolation, err)
	}

	p.r.lifecycle.Mount(inst)
	if inst.Comp != nil {
		if err := inst.Comp.Mount(inst.Props); err != nil {
			p.r.logger.Error("reconcile: island mount failed",
				"identity", inst.Identity(), "type", inst.Type, "error", err)
		}
	}
	p.record(Edit{Op: OpMount, Island: inst.Identity(), Tag: inst.Type})

	var nodes []*html.Node
	for _, c := range dom.Children(container) {
		materialized, err := p.materialize(c)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, materialized...)
	}
	if len(nodes) == 0 {
		// Islands that render nothing keep an empty text anchor so the
		// registry can still locate the range next pass.
		nodes = []*html.Node{anchorNode()}
	}
	inst.Nodes = nodes
	p.placed = append(p.placed, inst)
	return nodes, nil
}

// releaseTree unmounts an instance and everything nested inside it,
// children before parents. DOM detachment is the caller's concern.
func (p *pass) releaseTree(inst *island.Instance) {
	for _, nested := range p.directNested(inst.Nodes, inst) {
		p.releaseTree(nested)
	}
	if inst.Comp != nil {
		inst.Comp.Unmount()
	}
	p.r.lifecycle.Unmount(inst)
	p.record(Edit{Op: OpUnmount, Island: inst.Identity(), Tag: inst.Type})
	p.r.registry.Release(inst)
}

// releaseNestedIn releases every instance whose range lives inside a plain
// subtree that is about to be discarded.
func (p *pass) releaseNestedIn(n *html.Node) {
	for _, nested := range p.directNested([]*html.Node{n}, nil) {
		p.releaseTree(nested)
	}
}

// directNested returns the top-level instances found inside the given node
// list, document order, without descending into their ranges.
func (p *pass) directNested(list []*html.Node, self *island.Instance) []*island.Instance {
	var out []*island.Instance
	var scan func(list []*html.Node)
	scan = func(list []*html.Node) {
		for i := 0; i < len(list); i++ {
			n := list[i]
			if owner := p.r.registry.OwnerOf(n); owner != nil && owner != self {
				out = append(out, owner)
				i += len(owner.Nodes) - 1
				continue
			}
			scan(dom.Children(n))
		}
	}
	scan(list)
	return out
}

// removeIsland releases an unclaimed instance and removes its live nodes.
func (p *pass) removeIsland(inst *island.Instance) {
	p.releaseTree(inst)
	for _, n := range inst.Nodes {
		p.record(Edit{Op: OpRemove, Path: dom.Path(n), Tag: nodeTag(n)})
		dom.Detach(n)
	}
}

// removePlain removes an unmatched plain subtree, releasing any instances
// inside it first.
func (p *pass) removePlain(n *html.Node) {
	p.releaseNestedIn(n)
	p.record(Edit{Op: OpRemove, Path: dom.Path(n), Tag: nodeTag(n)})
	dom.Detach(n)
}

func anchorNode() *html.Node {
	return &html.Node{Type: html.TextNode, Data: ""}
}

func nodeTag(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return n.Data
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	}
	return "#node"
}

func pathOf(nodes []*html.Node) string {
	if len(nodes) == 0 {
		return ""
	}
	return dom.Path(nodes[0])
}

func islandIdentity(u *unit) string {
	if u.isIsland && u.inst != nil {
		return u.inst.Identity()
	}
	return ""
}
