// Package reconcile patches a live document from a parsed response
// envelope, fragment by fragment, preserving island instances whose
// (scope, key) identity and type survive the update.
package reconcile

// Op is the type of edit applied to the live tree.
type Op string

const (
	OpInsert  Op = "insert"  // new subtree inserted
	OpRemove  Op = "remove"  // old subtree removed
	OpMove    Op = "move"    // keyed subtree moved to a new position
	OpText    Op = "text"    // text node value updated
	OpAttr    Op = "attr"    // attribute set or changed
	OpAttrDel Op = "attr_del" // attribute removed
	OpReplace Op = "replace" // node replaced (tag or node-type change)
	OpMount   Op = "mount"   // island instance mounted
	OpUpdate  Op = "update"  // island instance props updated in place
	OpUnmount Op = "unmount" // island instance unmounted
)

// Edit is a single applied change. Paths are XPath-like locators captured
// at apply time, for logs and assertions; they are never used to
// re-locate nodes.
type Edit struct {
	Op       Op     `json:"op"`
	Path     string `json:"path,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Name     string `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string `json:"value,omitempty"`     // new value
	OldValue string `json:"old_value,omitempty"` // previous value
	Island   string `json:"island,omitempty"`    // identity for mount/update/unmount
}

// EditSequence is every edit one fragment application produced, in apply
// order. Edits for one fragment are applied in a single synchronous pass;
// no partial state is observable between them.
type EditSequence []Edit

// Ops returns just the operation kinds, for compact assertions.
func (es EditSequence) Ops() []Op {
	out := make([]Op, len(es))
	for i, e := range es {
		out[i] = e.Op
	}
	return out
}

// Count returns how many edits carry the given op.
func (es EditSequence) Count(op Op) int {
	n := 0
	for _, e := range es {
		if e.Op == op {
			n++
		}
	}
	return n
}
