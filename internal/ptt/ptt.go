// Package ptt drives the push-to-talk keying line the TDMA transmit
// driver asserts around a burst and releases afterward.
//
// Purpose:     Key an external PA/radio's PTT input for the duration of
//              a transmit burst, and release it immediately after, so
//              the stack behaves on real hardware the way it does on
//              loopback.
//
// Description: The teacher drives PTT through cm108.go (a USB HID
//              relay) and serial DTR/RTS lines, both reachable only via
//              cgo or raw device ioctls; warthog618/go-gpiocdev gives
//              the same keying contract — a single output line asserted
//              high for TX — over the Linux gpiochar character device,
//              without cgo. A NopKeyer stands in for loopback and
//              simulated-channel runs where there is no real PA to key.
package ptt

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Keyer asserts and releases a transmitter's push-to-talk line.
type Keyer interface {
	Key() error
	Unkey() error
	Close() error
}

// NopKeyer is a Keyer that does nothing, for loopback and simulated
// channel runs.
type NopKeyer struct{}

func (NopKeyer) Key() error   { return nil }
func (NopKeyer) Unkey() error { return nil }
func (NopKeyer) Close() error { return nil }

// GPIOKeyer keys PTT by driving a gpiochar output line high and low.
type GPIOKeyer struct {
	line *gpiocdev.Line
}

// NewGPIOKeyer requests offset on chip (e.g. "gpiochip0") as an output
// line, initially unkeyed (low).
func NewGPIOKeyer(chip string, offset int) (*GPIOKeyer, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("ptt: requesting %s line %d: %w", chip, offset, err)
	}
	return &GPIOKeyer{line: line}, nil
}

func (k *GPIOKeyer) Key() error   { return k.line.SetValue(1) }
func (k *GPIOKeyer) Unkey() error { return k.line.SetValue(0) }
func (k *GPIOKeyer) Close() error { return k.line.Close() }
