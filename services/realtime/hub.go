package realtime

import (
	"fmt"
	"sync"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
)

// Subscription is one connected session. Views are received on C until Close is called
// or the hub shuts down.
type Subscription struct {
	C <-chan notification.View

	identity core.Identity
	ch       chan notification.View
	hub      *Hub
	closed   bool // guarded by hub.mu
}

func (s *Subscription) Identity() core.Identity { return s.identity }

// Close unregisters the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub pushes persisted notifications to the sessions they are addressed to.
// Publishes are serialised, so each subscriber sees records in publish order, and never block:
// a subscriber whose buffer is full misses the record and reconciles on its next listing.
type Hub struct {
	mu     sync.Mutex
	subs   map[notification.Address]map[*Subscription]struct{}
	closed bool
	buffer int
	logger core.Logger
}

var _ notification.Publisher = (*Hub)(nil) // interface compliance check

func NewHub(conf *core.Config, logger core.Logger) *Hub {
	return &Hub{
		subs:   make(map[notification.Address]map[*Subscription]struct{}),
		buffer: conf.Notification.PushBuffer,
		logger: logger,
	}
}

// Subscribe registers a session for the Direct address of its email and the Broadcast address of its role.
// Once the hub is closed, the returned subscription is already closed.
func (h *Hub) Subscribe(id core.Identity) *Subscription {
	ch := make(chan notification.View, h.buffer)
	sub := &Subscription{C: ch, identity: id, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.closeSub(sub)
		return sub
	}
	for _, addr := range addresses(id) {
		set, ok := h.subs[addr]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.subs[addr] = set
		}
		set[sub] = struct{}{}
	}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, addr := range addresses(sub.identity) {
		if set, ok := h.subs[addr]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, addr)
			}
		}
	}
	h.closeSub(sub)
}

// closeSub must be called with h.mu held.
func (h *Hub) closeSub(sub *Subscription) {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Close ends every subscription and refuses new ones, so open streams return on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for addr, set := range h.subs {
		for sub := range set {
			h.closeSub(sub)
		}
		delete(h.subs, addr)
	}
}

// Subscribers returns the number of live sessions listening on `addr`.
func (h *Hub) Subscribers(addr notification.Address) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[addr])
}

type drop struct {
	view      notification.View
	recipient string
}

// Publish pushes every record to the subscribers it is visible to.
func (h *Hub) Publish(ns ...notification.Notification) {
	var dropped []drop

	h.mu.Lock()
	for _, n := range ns {
		for sub := range h.subs[n.Address] {
			if !n.IsVisibleTo(sub.identity) {
				continue
			}
			v := n.ViewFor(sub.identity)
			select {
			case sub.ch <- v:
			default:
				dropped = append(dropped, drop{view: v, recipient: sub.identity.Email})
			}
		}
	}
	h.mu.Unlock()

	for _, d := range dropped {
		h.logger.Warn(
			fmt.Sprintf("realtime delivery of %s to %s dropped: buffer full", d.view.ID, d.recipient),
			map[string]interface{}{"kind": d.view.Kind, "address": d.view.Address.String()},
		)
	}
}

func addresses(id core.Identity) []notification.Address {
	return []notification.Address{notification.Direct(id.Email), notification.Broadcast(id.Role)}
}
