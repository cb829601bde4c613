package netmon

import (
	"io"
	"net/netip"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// addrMsgData builds the payload of an rtnetlink address message: an
// ifaddrmsg header followed by encoded attributes.
func addrMsgData(t *testing.T, family uint8, index uint32, attrs func(*netlink.AttributeEncoder)) []byte {
	t.Helper()

	ae := netlink.NewAttributeEncoder()
	if attrs != nil {
		attrs(ae)
	}
	b, err := ae.Encode()
	require.NoError(t, err)

	data := make([]byte, sizeofIfAddrmsg)
	data[0] = family
	nlenc.PutUint32(data[4:8], index)
	return append(data, b...)
}

func newAddrMessage(t *testing.T, typ uint16, family uint8, attrs func(*netlink.AttributeEncoder)) netlink.Message {
	t.Helper()
	return netlink.Message{
		Header: netlink.Header{Type: netlink.HeaderType(typ)},
		Data:   addrMsgData(t, family, 2, attrs),
	}
}

func TestDecode(t *testing.T) {
	addr := netip.MustParseAddr("192.168.1.5")

	tests := []struct {
		name string
		msg  netlink.Message
		want Event
		ok   bool
	}{
		{
			name: "new address for our interface",
			msg: newAddrMessage(t, unix.RTM_NEWADDR, unix.AF_INET, func(ae *netlink.AttributeEncoder) {
				ae.String(unix.IFA_LABEL, "eth0")
				ae.Bytes(unix.IFA_ADDRESS, addr.AsSlice())
			}),
			want: Event{Kind: AddrAdded, Interface: "eth0", Addr: addr},
			ok:   true,
		},
		{
			name: "deleted address for our interface",
			msg: newAddrMessage(t, unix.RTM_DELADDR, unix.AF_INET, func(ae *netlink.AttributeEncoder) {
				ae.String(unix.IFA_LABEL, "eth0")
				ae.Bytes(unix.IFA_ADDRESS, addr.AsSlice())
			}),
			want: Event{Kind: AddrRemoved, Interface: "eth0", Addr: addr},
			ok:   true,
		},
		{
			name: "attribute order does not matter",
			msg: newAddrMessage(t, unix.RTM_NEWADDR, unix.AF_INET, func(ae *netlink.AttributeEncoder) {
				ae.Bytes(unix.IFA_LOCAL, addr.AsSlice())
				ae.Bytes(unix.IFA_ADDRESS, addr.AsSlice())
				ae.String(unix.IFA_LABEL, "eth0")
			}),
			want: Event{Kind: AddrAdded, Interface: "eth0", Addr: addr},
			ok:   true,
		},
		{
			name: "other interface",
			msg: newAddrMessage(t, unix.RTM_NEWADDR, unix.AF_INET, func(ae *netlink.AttributeEncoder) {
				ae.String(unix.IFA_LABEL, "wlan0")
				ae.Bytes(unix.IFA_ADDRESS, addr.AsSlice())
			}),
		},
		{
			name: "no label attribute",
			msg: newAddrMessage(t, unix.RTM_NEWADDR, unix.AF_INET, func(ae *netlink.AttributeEncoder) {
				ae.Bytes(unix.IFA_ADDRESS, addr.AsSlice())
			}),
		},
		{
			name: "no address attribute",
			msg: newAddrMessage(t, unix.RTM_NEWADDR, unix.AF_INET, func(ae *netlink.AttributeEncoder) {
				ae.String(unix.IFA_LABEL, "eth0")
				ae.Bytes(unix.IFA_LOCAL, addr.AsSlice())
			}),
		},
		{
			name: "two address attributes",
			msg: newAddrMessage(t, unix.RTM_NEWADDR, unix.AF_INET, func(ae *netlink.AttributeEncoder) {
				ae.String(unix.IFA_LABEL, "eth0")
				ae.Bytes(unix.IFA_ADDRESS, []byte{10, 0, 0, 1})
				ae.Bytes(unix.IFA_ADDRESS, addr.AsSlice())
			}),
		},
		{
			name: "ipv6 family",
			msg: newAddrMessage(t, unix.RTM_NEWADDR, unix.AF_INET6, func(ae *netlink.AttributeEncoder) {
				ae.String(unix.IFA_LABEL, "eth0")
				ae.Bytes(unix.IFA_ADDRESS, netip.MustParseAddr("fe80::1").AsSlice())
			}),
		},
		{
			name: "unrelated message type",
			msg: newAddrMessage(t, unix.RTM_NEWLINK, unix.AF_INET, func(ae *netlink.AttributeEncoder) {
				ae.String(unix.IFA_LABEL, "eth0")
				ae.Bytes(unix.IFA_ADDRESS, addr.AsSlice())
			}),
		},
		{
			name: "truncated payload",
			msg: netlink.Message{
				Header: netlink.Header{Type: unix.RTM_NEWADDR},
				Data:   []byte{unix.AF_INET, 0, 0},
			},
		},
	}

	log := discardLogger()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := decode(log, "eth0", tt.msg)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, ev)
			}
		})
	}
}

func TestCollectAddrs(t *testing.T) {
	addr := netip.MustParseAddr("10.1.2.3")
	other := netip.MustParseAddr("172.16.0.9")

	msg := func(index uint32, family uint8, ip netip.Addr) netlink.Message {
		return netlink.Message{
			Header: netlink.Header{Type: unix.RTM_NEWADDR},
			Data: addrMsgData(t, family, index, func(ae *netlink.AttributeEncoder) {
				ae.Bytes(unix.IFA_ADDRESS, ip.AsSlice())
			}),
		}
	}

	t.Run("filters by index and family", func(t *testing.T) {
		addrs, err := collectAddrs(2, []netlink.Message{
			msg(2, unix.AF_INET, addr),
			msg(3, unix.AF_INET, other),
			msg(2, unix.AF_INET6, netip.MustParseAddr("fe80::1")),
		})
		require.NoError(t, err)
		assert.Equal(t, []netip.Addr{addr}, addrs)
	})

	t.Run("collects every address for the index", func(t *testing.T) {
		addrs, err := collectAddrs(2, []netlink.Message{
			msg(2, unix.AF_INET, addr),
			msg(2, unix.AF_INET, other),
		})
		require.NoError(t, err)
		assert.Len(t, addrs, 2)
	})

	t.Run("no records", func(t *testing.T) {
		addrs, err := collectAddrs(2, nil)
		require.NoError(t, err)
		assert.Empty(t, addrs)
	})
}

func TestMarshalAddrDumpReq(t *testing.T) {
	b := marshalAddrDumpReq(unix.AF_INET)
	require.Len(t, b, sizeofIfAddrmsg)
	assert.Equal(t, byte(unix.AF_INET), b[0])
}
