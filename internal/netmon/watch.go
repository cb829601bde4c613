package netmon

import (
	"context"
	"fmt"
	"sync"

	"github.com/mdlayher/netlink"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// eventBuffer bounds the event channel. Kernel address changes arrive in
// small bursts; a stalled consumer blocks the decoder rather than growing
// an unbounded queue.
const eventBuffer = 64

// source is the raw notification feed: a *netlink.Conn joined to
// RTMGRP_IPV4_IFADDR in production, a scripted fake in tests.
type source interface {
	Receive() ([]netlink.Message, error)
	Close() error
}

// Watcher delivers address-change events for one interface in the order
// the kernel emitted them.
type Watcher struct {
	ifname string
	log    logrus.FieldLogger
	conn   source
	events chan Event

	mu       sync.Mutex
	err      error
	shutdown bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger used for dropped-notification diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Watcher) {
		w.log = log
	}
}

func withSource(s source) Option {
	return func(w *Watcher) {
		w.conn = s
	}
}

// Watch subscribes to the kernel's IPv4 address notification group and
// starts decoding notifications for ifname. Cancelling ctx closes the
// subscription. The Events channel is closed once the feed terminates;
// Err then reports the cause, which is nil only for a cancellation
// requested through ctx.
func Watch(ctx context.Context, ifname string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		ifname: ifname,
		log:    logrus.StandardLogger(),
		events: make(chan Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.conn == nil {
		conn, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{
			Groups: unix.RTMGRP_IPV4_IFADDR,
		})
		if err != nil {
			return nil, fmt.Errorf("subscribing to address notifications: %w", err)
		}
		w.conn = conn
	}
	go w.run(ctx)
	return w, nil
}

// Events returns the ordered stream of decoded address changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Err reports why the event channel closed. It is nil after a clean
// shutdown through context cancellation.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)

	// Closing the socket is the only way to unblock a pending Receive.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			w.close()
		case <-done:
		}
	}()
	defer w.close()

	for {
		msgs, err := w.conn.Receive()
		if err != nil {
			if !w.wasShutdown() {
				w.setErr(fmt.Errorf("receiving address notifications: %w", err))
			}
			return
		}
		for _, msg := range msgs {
			ev, ok := decode(w.log, w.ifname, msg)
			if !ok {
				continue
			}
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shutdown {
		return
	}
	w.shutdown = true
	if err := w.conn.Close(); err != nil {
		w.log.Warnf("netmon: closing notification socket: %s", err)
	}
}

func (w *Watcher) wasShutdown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shutdown
}

func (w *Watcher) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}
