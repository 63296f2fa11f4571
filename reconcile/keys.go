package reconcile

import (
	"fmt"
	"strconv"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dompatch/dom"
	"github.com/hazyhaar/dompatch/envelope"
	"github.com/hazyhaar/dompatch/island"
)

// Derived keys are "type#n": the nth unkeyed occurrence of the type within
// the scope, counted left-to-right in document order at reconciliation
// time. Counting is scope-global (not sibling-local) so two same-type
// islands under different parents never collide, and counts only unkeyed
// instances so authored keys do not shift derived ones.

func derivedKey(typ string, n int) string {
	return typ + "#" + strconv.Itoa(n)
}

// rekeyLiveScope reassigns derived keys to the live instances of a scope
// in current document order, rooted at the scope's slot element. Must run
// before matching: positions may have shifted since the previous pass.
func rekeyLiveScope(reg *island.Registry, slot *html.Node, scope string) error {
	var ordered []*island.Instance
	var scan func(list []*html.Node, self *island.Instance)
	scan = func(list []*html.Node, self *island.Instance) {
		for i := 0; i < len(list); i++ {
			n := list[i]
			if owner := reg.OwnerOf(n); owner != nil && owner != self {
				ordered = append(ordered, owner)
				scan(owner.Nodes, owner)
				i += len(owner.Nodes) - 1
				continue
			}
			scan(dom.Children(n), self)
		}
	}
	scan(dom.Children(slot), nil)

	counters := map[string]int{}
	var derived []*island.Instance
	var keys []string
	for _, inst := range ordered {
		if inst.Explicit {
			continue
		}
		derived = append(derived, inst)
		keys = append(keys, derivedKey(inst.Type, counters[inst.Type]))
		counters[inst.Type]++
	}
	return reg.RekeyAll(derived, keys)
}

// liveTypeCounts returns how many unkeyed instances of each type are live
// in a scope. Seeds the new-tree counters for append/prepend so inserted
// derived keys never collide with live ones.
func liveTypeCounts(reg *island.Registry, scope string) map[string]int {
	counts := map[string]int{}
	for _, inst := range reg.InScope(scope) {
		if !inst.Explicit {
			counts[inst.Type]++
		}
	}
	return counts
}

// newKeys maps every island container in an incoming tree to its computed
// identity key.
type newKeys map[*html.Node]string

// assignNewKeys walks the incoming fragment content in document order and
// computes each island container's identity key: the authored key when
// present, a derived occurrence key otherwise. An island whose identity
// equals an enclosing island's identity in the same pass indicates a
// malformed tree.
func assignNewKeys(roots []*html.Node, seed map[string]int) (newKeys, error) {
	keys := make(newKeys)
	counters := map[string]int{}
	for t, n := range seed {
		counters[t] = n
	}
	claimed := map[string]bool{}

	var walk func(n *html.Node, stack []string) error
	walk = func(n *html.Node, stack []string) error {
		if envelope.IsIsland(n) {
			key := envelope.IslandKey(n)
			if key == "" {
				typ := envelope.IslandType(n)
				key = derivedKey(typ, counters[typ])
				counters[typ]++
			}
			for _, anc := range stack {
				if anc == key {
					return fmt.Errorf("%w: island identity %q nested inside itself", envelope.ErrMalformed, key)
				}
			}
			if claimed[key] {
				return usagef("island identity %q claimed twice in one pass", key)
			}
			claimed[key] = true
			keys[n] = key
			stack = append(stack, key)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c, stack); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := walk(root, nil); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
