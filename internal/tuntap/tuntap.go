// Package tuntap implements the TUN/TAP boundary spec.md §6 specifies:
// blocking read/write of IP datagrams, plus ARP-entry add/delete hooks
// a Neighborhood drives as peers come and go.
//
// Purpose:     Hand IP datagrams from the host kernel to the ARQ
//              controller's Send path, and deliver reassembled
//              datagrams back to the kernel, over a real Linux TUN
//              device on hardware and over a pty pair in loopback mode.
//
// Description: Grounded on the teacher's nettnc.go (its network-TNC
//              virtual interface) for the read/write-loop shape.
//              Linux opens /dev/net/tun directly via golang.org/x/sys/unix
//              ioctls (TUNSETIFF) rather than cgo, then uses
//              vishvananda/netlink to bring the interface up and attach
//              ARP entries for each peer. Loopback instead opens a
//              creack/pty pair and puts the slave side into raw mode
//              with github.com/pkg/term, so a single-process loopback
//              run still exercises a real blocking-read/write device
//              boundary instead of an in-memory channel.
package tuntap

import (
	"fmt"
	"net"
	"os"
	"unsafe"

	"github.com/creack/pty"
	"github.com/pkg/term"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/drexelwireless/smartlink/internal/radio"
)

const (
	ifReqSize  = 40
	tunSetIff  = 0x400454ca
	iffTun     = 0x0001
	iffNoPI    = 0x1000
)

// Device is the spec.md §6 TUN/TAP contract.
type Device interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	AddARPEntry(id radio.NodeId) error
	DeleteARPEntry(id radio.NodeId) error
	Close() error
}

// Linux is a real kernel TUN device, with an associated /24 address
// space used to synthesize each peer's ARP-reachable address from its
// NodeId (peer N gets <base>.N).
type Linux struct {
	f    *os.File
	name string
	link netlink.Link
	base net.IP // e.g. 10.0.0.0
}

// OpenLinux creates (or attaches to) a TUN interface named ifName,
// brings it up, and assigns it addr/prefixLen (e.g. "10.0.0.1/24").
func OpenLinux(ifName, addr string, prefixLen int) (*Linux, error) {
	f, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tuntap: opening /dev/net/tun: %w", err)
	}

	var ifr [ifReqSize]byte
	copy(ifr[:], ifName)
	*(*uint16)(unsafe.Pointer(&ifr[16])) = iffTun | iffNoPI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(tunSetIff), uintptr(unsafe.Pointer(&ifr[0]))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("tuntap: TUNSETIFF: %w", errno)
	}

	link, err := netlink.LinkByName(ifName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tuntap: resolving link %s: %w", ifName, err)
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		f.Close()
		return nil, fmt.Errorf("tuntap: invalid address %q", addr)
	}
	nlAddr := &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: net.CIDRMask(prefixLen, 32)}}
	if err := netlink.AddrAdd(link, nlAddr); err != nil {
		f.Close()
		return nil, fmt.Errorf("tuntap: assigning address: %w", err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		f.Close()
		return nil, fmt.Errorf("tuntap: bringing up %s: %w", ifName, err)
	}

	return &Linux{f: f, name: ifName, link: link, base: ip.Mask(net.CIDRMask(prefixLen, 32))}, nil
}

func (d *Linux) Read(buf []byte) (int, error)  { return d.f.Read(buf) }
func (d *Linux) Write(buf []byte) (int, error) { return d.f.Write(buf) }
func (d *Linux) Close() error                  { return d.f.Close() }

func (d *Linux) peerAddr(id radio.NodeId) *netlink.Neigh {
	ip := append(net.IP{}, d.base...)
	ip[len(ip)-1] = byte(id)
	return &netlink.Neigh{
		LinkIndex: d.link.Attrs().Index,
		IP:        ip,
		State:     netlink.NUD_PERMANENT,
	}
}

// AddARPEntry pins a permanent neighbor-table entry for id, matching
// spec.md §6's "add_arp_entry".
func (d *Linux) AddARPEntry(id radio.NodeId) error {
	return netlink.NeighAdd(d.peerAddr(id))
}

// DeleteARPEntry removes id's pinned neighbor-table entry.
func (d *Linux) DeleteARPEntry(id radio.NodeId) error {
	return netlink.NeighDel(d.peerAddr(id))
}

// Loopback is a pty-backed stand-in for a real TUN device, used by
// spec.md §6's -l flag, needing no kernel networking configuration.
// Read and Write both use the master side: Write feeds the slave
// side's input and Read returns what is written to the slave side.
// The process does no I/O on the slave itself, and with the slave in
// raw mode (no echo) its own writes are not read back.
type Loopback struct {
	master *os.File
	slave  *os.File
	raw    *term.Term
}

// OpenLoopback creates a pty pair and puts the slave side into raw
// mode so reads/writes behave like a character device rather than a
// line-buffered terminal.
func OpenLoopback() (*Loopback, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("tuntap: opening pty: %w", err)
	}
	raw, err := term.Open(slave.Name(), term.RawMode)
	if err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("tuntap: setting raw mode on %s: %w", slave.Name(), err)
	}
	return &Loopback{master: master, slave: slave, raw: raw}, nil
}

func (d *Loopback) Read(buf []byte) (int, error)  { return d.master.Read(buf) }
func (d *Loopback) Write(buf []byte) (int, error) { return d.master.Write(buf) }

// AddARPEntry and DeleteARPEntry are no-ops in loopback mode: there is
// no kernel neighbor table to pin, since the peer is this same process.
func (d *Loopback) AddARPEntry(radio.NodeId) error    { return nil }
func (d *Loopback) DeleteARPEntry(radio.NodeId) error { return nil }

func (d *Loopback) Close() error {
	d.raw.Close()
	d.slave.Close()
	return d.master.Close()
}
