package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Path returns an XPath-like locator for n ("/html/body/div[2]/p[1]").
// Paths appear in edit records for logging and debugging; they are not
// used to re-locate nodes.
func Path(n *html.Node) string {
	var segs []string
	for cur := n; cur != nil && cur.Type != html.DocumentNode; cur = cur.Parent {
		switch cur.Type {
		case html.ElementNode:
			idx := 1
			for sib := cur.PrevSibling; sib != nil; sib = sib.PrevSibling {
				if sib.Type == html.ElementNode && sib.Data == cur.Data {
					idx++
				}
			}
			segs = append(segs, fmt.Sprintf("%s[%d]", cur.Data, idx))
		case html.TextNode:
			segs = append(segs, "text()")
		case html.CommentNode:
			segs = append(segs, "comment()")
		}
	}
	// Reverse into document order.
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return "/" + strings.Join(segs, "/")
}
