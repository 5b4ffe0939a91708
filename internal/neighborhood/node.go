// Package neighborhood maps peer NodeIds to per-peer state, notifying
// registered observers (TUN/TAP ARP hooks, discovery) when a peer is
// first observed or explicitly removed.
package neighborhood

import (
	"math"
	"sync"

	"github.com/drexelwireless/smartlink/internal/geo"
	"github.com/drexelwireless/smartlink/internal/radio"
)

// Node holds a peer's metadata. Its mutable fields (Loc, IsGateway,
// Emcon, Unreachable, gain) are guarded by their own mutex — not by the
// Neighborhood's structural lock — so readers don't contend with
// concurrent add/remove elsewhere in the map.
type Node struct {
	ID radio.NodeId

	mu          sync.Mutex
	loc         geo.Point
	isGateway   bool
	emcon       bool
	unreachable bool
	gain        float32 // linear multiplicative TX gain, 1.0 = unity
}

// NewNode returns a Node with unity gain and no other flags set.
func NewNode(id radio.NodeId) *Node {
	return &Node{ID: id, gain: 1.0}
}

func (n *Node) Loc() geo.Point {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loc
}

func (n *Node) SetLoc(p geo.Point) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loc = p
}

func (n *Node) IsGateway() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isGateway
}

func (n *Node) SetGateway(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isGateway = v
}

func (n *Node) Emcon() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.emcon
}

func (n *Node) SetEmcon(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emcon = v
}

// Unreachable reports whether this peer has been flagged unreachable
// after repeated retransmission exhaustion (spec §4.5/§7g).
func (n *Node) Unreachable() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unreachable
}

func (n *Node) SetUnreachable(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unreachable = v
}

// SoftGain returns the current linear multiplicative TX gain.
func (n *Node) SoftGain() float32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gain
}

// SetSoftGainDB sets the soft TX gain from a dBFS value.
func (n *Node) SetSoftGainDB(db float32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gain = float32(math.Pow(10, float64(db)/20.0))
}

// SoftGainDB returns the current soft TX gain in dBFS.
func (n *Node) SoftGainDB() float32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.gain <= 0 {
		return float32(math.Inf(-1))
	}
	return float32(20.0 * math.Log10(float64(n.gain)))
}
