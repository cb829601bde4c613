package nlddns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/haltcondition/nlddns/internal/netmon"
)

// Run drives the reconciliation loop: wait for the interface to have an
// address, reconcile the published record against it once, then consume
// kernel address-change notifications until ctx is cancelled or a fatal
// error occurs. The returned error is ctx.Err() on cancellation.
func (c *Client) Run(ctx context.Context) error {
	local, err := c.bootstrap(ctx)
	if err != nil {
		return err
	}
	c.logger.Infof("interface %s has address %s", c.iface, local)

	if err := c.initialSync(ctx, local); err != nil {
		return err
	}

	w, err := c.watch(ctx, c.iface)
	if err != nil {
		return fmt.Errorf("starting address monitor for %s: %w", c.iface, err)
	}
	c.logger.Infof("monitoring %s for address changes", c.iface)
	if c.onReady != nil {
		c.onReady()
	}
	return c.stream(ctx, w)
}

// bootstrap queries the interface address until one exists. Transient
// conditions (interface absent, no address assigned yet) are retried
// without bound; an ambiguous address aborts, since the single-address
// invariant this client rests on does not hold.
func (c *Client) bootstrap(ctx context.Context) (netip.Addr, error) {
	policy := c.newBootstrapPolicy()
	for attempt := 1; ; attempt++ {
		addr, ok, err := c.query(ctx, c.iface)
		if err == nil && ok {
			return addr, nil
		}
		if errors.Is(err, netmon.ErrAmbiguousAddress) {
			return netip.Addr{}, fmt.Errorf("querying interface %s: %w", c.iface, err)
		}

		logf := c.logger.Infof
		if attempt > bootstrapEscalateAfter {
			logf = c.logger.Warnf
		}
		if err != nil {
			logf("querying interface %s failed (attempt %d): %s", c.iface, attempt, err)
		} else {
			logf("interface %s has no IPv4 address yet (attempt %d)", c.iface, attempt)
		}

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			if err == nil {
				err = fmt.Errorf("no IPv4 address on interface %s", c.iface)
			}
			return netip.Addr{}, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return netip.Addr{}, ctx.Err()
		}
	}
}

// initialSync reconciles the published record against the interface
// address once, creating the record if it does not exist.
func (c *Client) initialSync(ctx context.Context, local netip.Addr) error {
	var (
		published netip.Addr
		exists    bool
	)
	err := c.withRetry(ctx, func() error {
		var err error
		published, exists, err = c.provider.GetRecord(ctx, c.host)
		return err
	})
	if err != nil {
		return fmt.Errorf("reading published record for %s: %w", c.host, err)
	}

	switch {
	case !exists:
		c.logger.Infof("no published record for %s; creating with %s", c.host, local)
		err := c.withRetry(ctx, func() error {
			return c.provider.CreateRecord(ctx, c.host, local)
		})
		if err != nil {
			return fmt.Errorf("creating record for %s: %w", c.host, err)
		}
	case published != local:
		c.logger.Infof("published record for %s is %s; updating to %s", c.host, published, local)
		err := c.withRetry(ctx, func() error {
			return c.provider.UpdateRecord(ctx, c.host, local)
		})
		if err != nil {
			return fmt.Errorf("updating record for %s: %w", c.host, err)
		}
	default:
		c.logger.Infof("published record for %s already matches %s", c.host, local)
	}

	c.lastPublished = local
	return nil
}

// stream consumes decoded address-change events until the context is
// cancelled. The monitor never terminates on its own under normal
// operation; a closed event channel without cancellation means the
// monitor died and the record can no longer be kept current, which is
// fatal.
func (c *Client) stream(ctx context.Context, w watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, open := <-w.Events():
			if !open {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := w.Err(); err != nil {
					return fmt.Errorf("address monitor failed: %w", err)
				}
				return errors.New("address monitor stopped unexpectedly")
			}
			if err := c.handleEvent(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, ev netmon.Event) error {
	switch ev.Kind {
	case netmon.AddrAdded:
		if ev.Addr == c.lastPublished {
			c.logger.Debugf("address %s already published for %s; skipping", ev.Addr, c.host)
			return nil
		}
		c.logger.Infof("interface %s has new address %s; updating record for %s", c.iface, ev.Addr, c.host)
		err := c.withRetry(ctx, func() error {
			return c.provider.UpdateRecord(ctx, c.host, ev.Addr)
		})
		if err != nil {
			return fmt.Errorf("updating record for %s: %w", c.host, err)
		}
		c.lastPublished = ev.Addr
	case netmon.AddrRemoved:
		// Removal is assumed transient (link flap, DHCP renew). The
		// record stays published and lastPublished keeps the old
		// address, so a re-add of the same address is a no-op.
		c.logger.Infof("address %s was removed from interface %s", ev.Addr, c.iface)
	}
	return nil
}

// withRetry runs one provider operation under the update policy. Errors
// classified as client errors abort immediately; everything else retries
// until the policy gives up.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(c.newUpdatePolicy(), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var ce interface{ ClientError() bool }
		if errors.As(err, &ce) && ce.ClientError() {
			return backoff.Permanent(err)
		}
		c.logger.Warnf("provider call failed; will retry: %s", err)
		return err
	}, policy)
}
