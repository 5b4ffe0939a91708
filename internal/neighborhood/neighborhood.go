package neighborhood

import (
	"sync"

	"github.com/drexelwireless/smartlink/internal/radio"
)

// ARPHook is the TUN/TAP boundary a Neighborhood drives when a peer
// appears or disappears (spec.md §6's "add_arp_entry" /
// "delete_arp_entry").
type ARPHook interface {
	AddARPEntry(id radio.NodeId) error
	DeleteARPEntry(id radio.NodeId) error
}

// Neighborhood maps NodeId to per-peer Node state. Structural changes
// (Add/Remove) are guarded by a single mutex; a Node's own mutable
// fields are guarded by the Node itself so readers of, say, the MCS
// distribution don't contend with an unrelated peer being added.
type Neighborhood struct {
	mu    sync.RWMutex
	nodes map[radio.NodeId]*Node
	hook  ARPHook

	onAdd    []func(*Node)
	onRemove []func(radio.NodeId)
}

// New returns an empty Neighborhood. hook may be nil if no TUN/TAP ARP
// integration is wired (e.g. in tests or the simulated channel).
func New(hook ARPHook) *Neighborhood {
	return &Neighborhood{
		nodes: make(map[radio.NodeId]*Node),
		hook:  hook,
	}
}

// OnAdd registers a callback invoked, outside the structural lock,
// whenever a new Node is added.
func (nh *Neighborhood) OnAdd(f func(*Node)) {
	nh.mu.Lock()
	nh.onAdd = append(nh.onAdd, f)
	nh.mu.Unlock()
}

// OnRemove registers a callback invoked, outside the structural lock,
// whenever a Node is removed.
func (nh *Neighborhood) OnRemove(f func(radio.NodeId)) {
	nh.mu.Lock()
	nh.onRemove = append(nh.onRemove, f)
	nh.mu.Unlock()
}

// Get returns the Node for id, creating it on first observation (spec
// §3's Lifecycles: "Node entries: created on first observation").
func (nh *Neighborhood) Get(id radio.NodeId) *Node {
	nh.mu.RLock()
	n, ok := nh.nodes[id]
	nh.mu.RUnlock()
	if ok {
		return n
	}

	nh.mu.Lock()
	n, ok = nh.nodes[id]
	if !ok {
		n = NewNode(id)
		nh.nodes[id] = n
	}
	callbacks := append([]func(*Node){}, nh.onAdd...)
	hook := nh.hook
	nh.mu.Unlock()

	if !ok {
		if hook != nil {
			hook.AddARPEntry(id)
		}
		for _, f := range callbacks {
			f(n)
		}
	}
	return n
}

// Lookup returns the Node for id without creating it.
func (nh *Neighborhood) Lookup(id radio.NodeId) (*Node, bool) {
	nh.mu.RLock()
	defer nh.mu.RUnlock()
	n, ok := nh.nodes[id]
	return n, ok
}

// Remove destroys id's entry explicitly (spec §3: "destroyed on
// explicit remove"), triggering the ARP-delete hook and onRemove
// callbacks.
func (nh *Neighborhood) Remove(id radio.NodeId) {
	nh.mu.Lock()
	_, existed := nh.nodes[id]
	delete(nh.nodes, id)
	callbacks := append([]func(radio.NodeId){}, nh.onRemove...)
	hook := nh.hook
	nh.mu.Unlock()

	if existed {
		if hook != nil {
			hook.DeleteARPEntry(id)
		}
		for _, f := range callbacks {
			f(id)
		}
	}
}

// Peers returns the current set of known peer ids, in no particular
// order.
func (nh *Neighborhood) Peers() []radio.NodeId {
	nh.mu.RLock()
	defer nh.mu.RUnlock()
	ids := make([]radio.NodeId, 0, len(nh.nodes))
	for id := range nh.nodes {
		ids = append(ids, id)
	}
	return ids
}
