package server

import (
	"sync"

	"github.com/MeKo-Tech/mapwarp/internal/overlay"
)

// outbox buffers messages for one WebSocket client. Styles are coalesced per
// element id, so a client that reads slowly only receives the latest style of
// each overlay. Other messages are delivered in order, before pending styles.
type outbox struct {
	mu     sync.Mutex
	styles map[string]StyleDTO
	order  []string
	queue  []ServerMessage
	closed bool

	wake chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		styles: make(map[string]StyleDTO),
		wake:   make(chan struct{}, 1),
	}
}

// Applied implements surface.Sink.
func (o *outbox) Applied(el *overlay.Element, st overlay.Style) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if _, ok := o.styles[el.ID]; !ok {
		o.order = append(o.order, el.ID)
	}
	o.styles[el.ID] = newStyleDTO(st)
	o.mu.Unlock()
	o.signal()
}

// Removed implements surface.Sink. A pending style for the element is
// dropped.
func (o *outbox) Removed(el *overlay.Element) {
	o.mu.Lock()
	if _, ok := o.styles[el.ID]; ok {
		delete(o.styles, el.ID)
		o.order = removeID(o.order, el.ID)
	}
	o.mu.Unlock()
	o.push(ServerMessage{Type: msgRemoved, ID: el.ID})
}

func (o *outbox) push(m ServerMessage) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// drain returns and clears everything pending.
func (o *outbox) drain() []ServerMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]ServerMessage, 0, len(o.queue)+len(o.order))
	out = append(out, o.queue...)
	for _, id := range o.order {
		st := o.styles[id]
		out = append(out, ServerMessage{Type: msgStyle, ID: id, Style: &st})
	}
	o.queue = nil
	o.order = nil
	clear(o.styles)
	return out
}

// pending reports the number of buffered messages.
func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue) + len(o.order)
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
