package island

import (
	"encoding/json"
	"log/slog"
)

// Lifecycle receives the explicit component lifecycle events the reconciler
// emits. Event order is deterministic: parents mount before children,
// children unmount before parents, and a type change at a stable identity
// is exactly one Unmount followed by exactly one Mount.
type Lifecycle interface {
	Mount(inst *Instance)
	Update(inst *Instance, oldProps, newProps json.RawMessage)
	Unmount(inst *Instance)
}

// LogLifecycle logs lifecycle transitions via slog. It is the default sink.
type LogLifecycle struct {
	Logger *slog.Logger
}

func (l *LogLifecycle) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *LogLifecycle) Mount(inst *Instance) {
	l.logger().Debug("island: mount", "identity", inst.Identity(), "type", inst.Type)
}

func (l *LogLifecycle) Update(inst *Instance, _, _ json.RawMessage) {
	l.logger().Debug("island: update", "identity", inst.Identity(), "type", inst.Type)
}

func (l *LogLifecycle) Unmount(inst *Instance) {
	l.logger().Debug("island: unmount", "identity", inst.Identity(), "type", inst.Type)
}

// Event is one recorded lifecycle transition.
type Event struct {
	Kind     string // "mount", "update", "unmount"
	Identity string
	Type     string
}

// Recorder captures lifecycle events in order. Test helper: ordering
// assertions in the reconciler suite run against it.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Mount(inst *Instance) {
	r.Events = append(r.Events, Event{Kind: "mount", Identity: inst.Identity(), Type: inst.Type})
}

func (r *Recorder) Update(inst *Instance, _, _ json.RawMessage) {
	r.Events = append(r.Events, Event{Kind: "update", Identity: inst.Identity(), Type: inst.Type})
}

func (r *Recorder) Unmount(inst *Instance) {
	r.Events = append(r.Events, Event{Kind: "unmount", Identity: inst.Identity(), Type: inst.Type})
}

// Kinds returns just the event kinds, for compact assertions.
func (r *Recorder) Kinds() []string {
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Kind
	}
	return out
}
