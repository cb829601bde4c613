package netmon

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Query returns the IPv4 address currently assigned to the named
// interface. ok is false when the interface exists but has no IPv4
// address; during interface bring-up that is an expected state, not an
// error. A dedicated netlink socket is opened for the lookup and closed
// before returning.
func Query(ctx context.Context, ifname string) (addr netip.Addr, ok bool, err error) {
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("%w: %q: %v", ErrInterfaceNotFound, ifname, err)
	}

	conn, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("dialing rtnetlink: %w", err)
	}
	defer conn.Close()
	if deadline, set := ctx.Deadline(); set {
		_ = conn.SetDeadline(deadline)
	}

	req := netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_GETADDR,
			Flags: netlink.Request | netlink.Dump,
		},
		Data: marshalAddrDumpReq(unix.AF_INET),
	}
	msgs, err := conn.Execute(req)
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("address dump for %q: %w", ifname, err)
	}

	addrs, err := collectAddrs(ifi.Index, msgs)
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("address dump for %q: %w", ifname, err)
	}
	switch len(addrs) {
	case 0:
		return netip.Addr{}, false, nil
	case 1:
		return addrs[0], true, nil
	default:
		return netip.Addr{}, false, fmt.Errorf("%w: %q has %d", ErrAmbiguousAddress, ifname, len(addrs))
	}
}

// marshalAddrDumpReq builds the ifaddrmsg payload for an RTM_GETADDR
// dump request scoped to one address family.
func marshalAddrDumpReq(family uint8) []byte {
	b := make([]byte, sizeofIfAddrmsg)
	b[0] = family
	return b
}

// collectAddrs extracts the IFA_ADDRESS values belonging to one link
// index from an RTM_GETADDR dump response.
func collectAddrs(index int, msgs []netlink.Message) ([]netip.Addr, error) {
	var out []netip.Addr
	for _, msg := range msgs {
		if msg.Header.Type != unix.RTM_NEWADDR {
			continue
		}
		m, err := parseAddrMsg(msg.Data)
		if err != nil {
			return nil, err
		}
		if m.family != unix.AF_INET || int(m.index) != index {
			continue
		}
		out = append(out, m.addrs...)
	}
	return out, nil
}
