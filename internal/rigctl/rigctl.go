// Package rigctl drives a transceiver's soft TX gain through Hamlib,
// backing Node.SoftGain (spec.md §3).
//
// Purpose:     Let a node turn its own or a peer's computed soft gain
//              into an actual RF power-level change on real hardware,
//              rather than only a software multiplier applied before
//              modulation.
//
// Description: The teacher leaves rig control to cgo'd Hamlib
//              (-DUSE_HAMLIB in direwolf.go's cgo flags); xylo04/goHamlib
//              is that same Hamlib wrapped for Go, so the dependency
//              carries over unchanged, just invoked directly instead of
//              through a cgo passthrough package.
package rigctl

import (
	"fmt"

	hamlib "github.com/xylo04/goHamlib"

	"github.com/drexelwireless/smartlink/internal/neighborhood"
)

// Controller drives one local rig's power level from a Node's
// SoftGain, keeping the two in sync as MCS adaptation or operator
// input changes the gain.
type Controller struct {
	rig hamlib.Rig
}

// Open initializes and opens a rig of the given Hamlib model number on
// device (e.g. "/dev/ttyUSB0").
func Open(model int, device string) (*Controller, error) {
	rig := hamlib.Rig{}
	if err := rig.Init(model); err != nil {
		return nil, fmt.Errorf("rigctl: init model %d: %w", model, err)
	}
	rig.SetConf("rig_pathname", device)
	if err := rig.Open(); err != nil {
		return nil, fmt.Errorf("rigctl: opening %s: %w", device, err)
	}
	return &Controller{rig: rig}, nil
}

// Close releases the underlying rig handle.
func (c *Controller) Close() error {
	return c.rig.Close()
}

// ApplyGainDB sets the rig's RF power level from a dBFS gain value,
// clamping to Hamlib's normalized [0.0, 1.0] power range.
func (c *Controller) ApplyGainDB(db float32) error {
	level := dbToNormalized(db)
	return c.rig.SetLevel(hamlib.RIG_LEVEL_RFPOWER, level)
}

// Sync applies node's current SoftGain to the rig, for use as a
// periodic poller or a callback off the MCS decision epoch.
func (c *Controller) Sync(node *neighborhood.Node) error {
	return c.ApplyGainDB(node.SoftGainDB())
}

func dbToNormalized(db float32) float64 {
	// -20dB..0dB maps onto Hamlib's 0.0..1.0 RFPOWER range; below -20dB
	// clamps to the floor rather than going negative.
	v := (float64(db) + 20) / 20
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
