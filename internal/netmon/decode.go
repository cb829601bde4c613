package netmon

import (
	"fmt"
	"net/netip"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// sizeofIfAddrmsg is the fixed header preceding the attributes in an
// rtnetlink address message (struct ifaddrmsg).
const sizeofIfAddrmsg = 8

// addrMsg is the decoded form of an rtnetlink address message, reduced to
// the fields this package cares about.
type addrMsg struct {
	family uint8
	index  uint32
	label  string
	addrs  []netip.Addr
}

func parseAddrMsg(data []byte) (addrMsg, error) {
	if len(data) < sizeofIfAddrmsg {
		return addrMsg{}, fmt.Errorf("address message too short: %d bytes", len(data))
	}
	m := addrMsg{
		family: data[0],
		index:  nlenc.Uint32(data[4:8]),
	}

	ad, err := netlink.NewAttributeDecoder(data[sizeofIfAddrmsg:])
	if err != nil {
		return addrMsg{}, fmt.Errorf("decoding address attributes: %w", err)
	}
	for ad.Next() {
		switch ad.Type() {
		case unix.IFA_ADDRESS:
			// Only 4-byte values are candidate IPv4 addresses; the
			// family check happens at the caller.
			if b := ad.Bytes(); len(b) == 4 {
				m.addrs = append(m.addrs, netip.AddrFrom4([4]byte(b)))
			}
		case unix.IFA_LABEL:
			m.label = ad.String()
		}
	}
	if err := ad.Err(); err != nil {
		return addrMsg{}, fmt.Errorf("decoding address attributes: %w", err)
	}
	return m, nil
}

// decode turns one raw netlink notification into an Event. It reports
// false for everything that is not an unambiguous IPv4 added/removed
// notification for the named interface.
func decode(log logrus.FieldLogger, ifname string, msg netlink.Message) (Event, bool) {
	var kind Kind
	switch msg.Header.Type {
	case unix.RTM_NEWADDR:
		kind = AddrAdded
	case unix.RTM_DELADDR:
		kind = AddrRemoved
	default:
		log.Debugf("netmon: ignoring netlink message type %#x", uint16(msg.Header.Type))
		return Event{}, false
	}

	m, err := parseAddrMsg(msg.Data)
	if err != nil {
		log.Warnf("netmon: dropping undecodable address message: %s", err)
		return Event{}, false
	}
	if m.family != unix.AF_INET {
		log.Debugf("netmon: ignoring non-IPv4 address message (family %d)", m.family)
		return Event{}, false
	}
	if m.label != ifname {
		log.Debugf("netmon: ignoring address %s on interface %q", kind, m.label)
		return Event{}, false
	}
	switch len(m.addrs) {
	case 1:
	case 0:
		log.Debugf("netmon: address message for %s carried no IPv4 address", ifname)
		return Event{}, false
	default:
		log.Warnf("netmon: dropping ambiguous notification with %d IPv4 addresses for %s: %v", len(m.addrs), ifname, m.addrs)
		return Event{}, false
	}

	return Event{Kind: kind, Interface: ifname, Addr: m.addrs[0]}, true
}
