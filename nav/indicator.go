package nav

import (
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dompatch/dom"
)

// DefaultIndicatorDelay is how long a navigation must run before the
// loading indicator shows. Fast responses never flash it.
const DefaultIndicatorDelay = 150 * time.Millisecond

// Indicator flags slow navigations in the document: LoadingAttr on the
// trigger element and aria-busy on the document element. DOM mutations
// run under the lock the caller provides, so the timer never races the
// reconciler.
type Indicator struct {
	Delay time.Duration
}

func NewIndicator(delay time.Duration) *Indicator {
	if delay <= 0 {
		delay = DefaultIndicatorDelay
	}
	return &Indicator{Delay: delay}
}

// Start arms the indicator for one navigation. The returned stop function
// disarms it and clears the attributes if they were shown; callers defer
// it unconditionally.
func (i *Indicator) Start(mu *sync.Mutex, doc *dom.Document, trigger *html.Node) (stop func()) {
	h := &indicatorHandle{mu: mu, doc: doc, trigger: trigger}
	h.timer = time.AfterFunc(i.Delay, h.show)
	return h.stop
}

type indicatorHandle struct {
	mu      *sync.Mutex
	doc     *dom.Document
	trigger *html.Node
	timer   *time.Timer

	stopped bool
	shown   bool
}

func (h *indicatorHandle) show() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if h.trigger != nil {
		dom.SetAttr(h.trigger, LoadingAttr, "true")
	}
	if root := h.doc.Html(); root != nil {
		dom.SetAttr(root, "aria-busy", "true")
	}
	h.shown = true
}

func (h *indicatorHandle) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	h.timer.Stop()
	if !h.shown {
		return
	}
	if h.trigger != nil {
		dom.RemoveAttr(h.trigger, LoadingAttr)
	}
	if root := h.doc.Html(); root != nil {
		dom.RemoveAttr(root, "aria-busy")
	}
	h.shown = false
}
