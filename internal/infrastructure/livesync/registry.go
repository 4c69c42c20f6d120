package livesync

import (
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// Subscription identifies a registered handler.
type Subscription struct {
	kind Kind
	id   uint64
}

// Kind returns the message kind the handler was registered for.
func (s Subscription) Kind() Kind { return s.kind }

type entry struct {
	id uint64
	fn func(Message)
}

// registry maps kinds to handler lists. Lists are never modified in place,
// so a dispatch pass iterates a stable slice.
type registry struct {
	nextID   atomic.Uint64
	handlers *xsync.Map[Kind, []entry]
}

func newRegistry() *registry {
	return &registry{handlers: xsync.NewMap[Kind, []entry]()}
}

func (r *registry) add(kind Kind, fn func(Message)) Subscription {
	id := r.nextID.Add(1)
	r.handlers.Compute(kind, func(old []entry, _ bool) ([]entry, xsync.ComputeOp) {
		next := make([]entry, len(old), len(old)+1)
		copy(next, old)
		return append(next, entry{id: id, fn: fn}), xsync.UpdateOp
	})
	return Subscription{kind: kind, id: id}
}

func (r *registry) remove(sub Subscription) bool {
	removed := false
	r.handlers.Compute(sub.kind, func(old []entry, loaded bool) ([]entry, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		idx := slices.IndexFunc(old, func(e entry) bool { return e.id == sub.id })
		if idx < 0 {
			return old, xsync.CancelOp
		}
		removed = true
		if len(old) == 1 {
			return nil, xsync.DeleteOp
		}
		return slices.Delete(slices.Clone(old), idx, idx+1), xsync.UpdateOp
	})
	return removed
}

// handlersFor returns the handlers a message is delivered to. Unknown
// messages also reach the catch-all handlers registered under the empty kind.
func (r *registry) handlersFor(msg Message) []entry {
	list, _ := r.handlers.Load(msg.Kind())
	if _, ok := msg.(UnknownMessage); !ok {
		return list
	}
	catchAll, _ := r.handlers.Load("")
	if len(catchAll) == 0 {
		return list
	}
	return append(slices.Clone(list), catchAll...)
}

// Subscribe registers handler for messages of type T. Handlers for the same
// kind run in registration order. Subscribing with UnknownMessage receives
// every frame whose type is not recognized.
func Subscribe[T Message](c *Channel, handler func(T)) Subscription {
	var zero T
	return c.registry.add(zero.Kind(), func(m Message) {
		if msg, ok := m.(T); ok {
			handler(msg)
		}
	})
}

// SubscribeKind registers handler for one unrecognized frame type.
func SubscribeKind(c *Channel, kind Kind, handler func(UnknownMessage)) Subscription {
	return c.registry.add(kind, func(m Message) {
		if msg, ok := m.(UnknownMessage); ok {
			handler(msg)
		}
	})
}
