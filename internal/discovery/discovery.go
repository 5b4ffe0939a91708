// Package discovery announces this node and browses for peers over
// mDNS/DNS-SD, feeding what it finds straight into a Neighborhood
// (spec.md §3's "created on first observation").
//
// Purpose:     Let nodes find each other on a LAN or ad-hoc Wi-Fi link
//              used to bring up a radio mesh's control plane, without
//              a statically configured peer list.
//
// Description: Grounded on the teacher's dns_sd.go/dns_sd_avahi.go,
//              which announce/browse a direwolf-specific service type
//              over Avahi; brutella/dnssd is the pure-Go equivalent
//              used here so the whole stack stays cgo-free. The node
//              id travels in a TXT record since dnssd's browse
//              callback hands back host/port, not application data.
package discovery

import (
	"context"
	"fmt"
	"strconv"

	"github.com/brutella/dnssd"

	"github.com/drexelwireless/smartlink/internal/neighborhood"
	"github.com/drexelwireless/smartlink/internal/radio"
)

const serviceType = "_smartlink._udp"

// Logger is the minimal printf-style interface discovery logs through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

// Announcer advertises this node's presence so peers can discover it.
type Announcer struct {
	responder dnssd.Responder
	handle    dnssd.ServiceHandle
}

// Announce registers an mDNS service for self on domain, advertising
// port (the node's control-plane listen port, not a radio parameter)
// and its NodeId in a TXT record.
func Announce(ctx context.Context, self radio.NodeId, domain string, port int) (*Announcer, error) {
	cfg := dnssd.Config{
		Name:   fmt.Sprintf("smartlink-node-%d", self),
		Type:   serviceType,
		Domain: domain,
		Port:   port,
		Text:   map[string]string{"node_id": strconv.Itoa(int(self))},
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: building service: %w", err)
	}
	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: new responder: %w", err)
	}
	handle, err := responder.Add(service)
	if err != nil {
		return nil, fmt.Errorf("discovery: adding service: %w", err)
	}
	go responder.Respond(ctx)
	return &Announcer{responder: responder, handle: handle}, nil
}

// Browser watches for peer nodes appearing and disappearing, relaying
// both into a Neighborhood.
type Browser struct {
	nh  *neighborhood.Neighborhood
	log Logger
}

// NewBrowser returns a Browser that will populate nh as peers are
// found. log may be nil.
func NewBrowser(nh *neighborhood.Neighborhood, log Logger) *Browser {
	if log == nil {
		log = nopLogger{}
	}
	return &Browser{nh: nh, log: log}
}

// Run browses domain for peers until ctx is cancelled, blocking the
// calling goroutine; callers typically run it in its own goroutine.
func (b *Browser) Run(ctx context.Context, domain string) error {
	add := func(e dnssd.BrowseEntry) {
		id, ok := parseNodeID(e.Text)
		if !ok {
			b.log.Debugf("discovery: ignoring peer %s with no node_id TXT record", e.Name)
			return
		}
		b.log.Debugf("discovery: found peer node %d at %s:%d", id, e.IPs, e.Port)
		b.nh.Get(id)
	}
	remove := func(e dnssd.BrowseEntry) {
		id, ok := parseNodeID(e.Text)
		if !ok {
			return
		}
		b.log.Debugf("discovery: lost peer node %d", id)
		b.nh.Remove(id)
	}

	lookupType := fmt.Sprintf("%s.%s.", serviceType, domain)
	return dnssd.LookupType(ctx, lookupType, add, remove)
}

func parseNodeID(text map[string]string) (radio.NodeId, bool) {
	s, ok := text["node_id"]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0, false
	}
	return radio.NodeId(n), true
}
