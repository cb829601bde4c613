// Package netmon observes the IPv4 address assigned to a single named
// network interface.
//
// [Query] performs a one-shot lookup over an rtnetlink address dump.
// [Watch] subscribes to the kernel's IPv4 address notification group and
// decodes every added/removed notification for the interface into an
// ordered stream of [Event] values.
package netmon

import (
	"errors"
	"net/netip"
)

// Kind describes what happened to an interface address.
type Kind uint8

const (
	// AddrAdded indicates an IPv4 address was assigned to the interface.
	AddrAdded Kind = iota
	// AddrRemoved indicates an IPv4 address was removed from the interface.
	AddrRemoved
)

func (k Kind) String() string {
	switch k {
	case AddrAdded:
		return "added"
	case AddrRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a single decoded interface-address change.
// Events are only emitted for the watched interface, only for the IPv4
// family, and only when the kernel notification carried exactly one
// address value.
type Event struct {
	Kind      Kind
	Interface string
	Addr      netip.Addr
}

var (
	// ErrInterfaceNotFound is returned by Query when no interface with
	// the given name exists.
	ErrInterfaceNotFound = errors.New("interface not found")

	// ErrAmbiguousAddress is returned by Query when an interface has more
	// than one IPv4 address assigned. Reconciling a single A record
	// against several candidate addresses is not possible, so callers
	// should treat this as a configuration error rather than retry.
	ErrAmbiguousAddress = errors.New("more than one IPv4 address assigned")
)
