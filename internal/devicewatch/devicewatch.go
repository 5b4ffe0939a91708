// Package devicewatch watches udev for a radio front-end's USB device
// appearing or disappearing, so the rest of the stack can react to
// hot-plug events instead of assuming the device is always present.
//
// Purpose:     Tell the caller when the configured front-end device
//              node shows up or goes away. smartlinkd logs these
//              transitions; it does not reopen the IQTransport or PHY
//              on them.
//
// Description: The teacher's deviceid.go resolves a device's USB
//              vendor/product/serial via libudev through cgo;
//              jochenvg/go-udev wraps the same netlink-based udev
//              monitor in pure Go, which is what Watcher subscribes to
//              here, filtered to the subsystem the configured front-end
//              actually appears under (e.g. "usb" or "tty").
package devicewatch

import (
	"context"

	"github.com/jochenvg/go-udev"
)

// Event reports a device's presence transition.
type Event struct {
	Present bool
	Syspath string
	Action  string
}

// Watcher streams Events for devices matching a udev subsystem filter.
type Watcher struct {
	udev      udev.Udev
	subsystem string
}

// New returns a Watcher that will filter on the given udev subsystem
// (e.g. "usb", "tty").
func New(subsystem string) *Watcher {
	return &Watcher{subsystem: subsystem}
}

// Watch subscribes to udev netlink events and streams them as Events
// until ctx is cancelled. The returned channel is closed when the
// monitor stops.
func (w *Watcher) Watch(ctx context.Context) (<-chan Event, error) {
	mon := w.udev.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem(w.subsystem); err != nil {
		return nil, err
	}

	devices, errs := mon.DeviceChan(ctx)
	out := make(chan Event, 8)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				if err != nil {
					continue
				}
			case d, ok := <-devices:
				if !ok {
					return
				}
				action := d.Action()
				out <- Event{
					Present: action == "add" || action == "bind" || action == "online",
					Syspath: d.Syspath(),
					Action:  action,
				}
			}
		}
	}()

	return out, nil
}
