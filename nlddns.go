package nlddns

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/haltcondition/nlddns/internal/netmon"
)

const (
	// defaultTTL is applied to records created or updated by this
	// package unless a provider is configured otherwise.
	defaultTTL = 300

	// bootstrapDelay is the fixed wait between startup address queries.
	bootstrapDelay = 10 * time.Second

	// bootstrapEscalateAfter is the attempt count past which the startup
	// retry loop logs at warning instead of info level.
	bootstrapEscalateAfter = 30

	// maxUpdateRetries bounds retries of a failed provider call before
	// the failure becomes fatal.
	maxUpdateRetries = 4
)

// Client keeps the A record for one host label synchronized with the
// IPv4 address of one network interface.
//
// Construct it with [New]; [Client.Run] then blocks for the process
// lifetime, reconciling the published record whenever the kernel reports
// an address change.
type Client struct {
	provider Provider
	logger   logrus.FieldLogger
	host     string
	iface    string
	ttl      int
	dryRun   bool
	onReady  func()

	newBootstrapPolicy func() backoff.BackOff
	newUpdatePolicy    func() backoff.BackOff

	// seams for the kernel-facing collaborators, overridable in tests
	query func(ctx context.Context, ifname string) (netip.Addr, bool, error)
	watch func(ctx context.Context, ifname string) (watcher, error)

	// lastPublished is the address this client believes is currently
	// published. Owned exclusively by Run's goroutine; never persisted.
	lastPublished netip.Addr
}

// watcher is the subset of *netmon.Watcher the reconciler consumes.
type watcher interface {
	Events() <-chan netmon.Event
	Err() error
}

// New constructs a Client which keeps the A record for host up to date
// with the IPv4 address of a network interface. A DNS provider option
// (UsingCloudflare, UsingGandi, or UsingProvider) and UsingInterface are
// required.
func New(host string, options ...Option) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("nlddns.New: host cannot be empty")
	}
	c := &Client{
		host:   host,
		logger: logrus.StandardLogger(),
		ttl:    defaultTTL,
		query:  netmon.Query,
		newBootstrapPolicy: func() backoff.BackOff {
			return backoff.NewConstantBackOff(bootstrapDelay)
		},
		newUpdatePolicy: defaultUpdatePolicy,
	}
	c.watch = func(ctx context.Context, ifname string) (watcher, error) {
		return netmon.Watch(ctx, ifname, netmon.WithLogger(c.logger))
	}

	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("nlddns.New: option %d returned an error: %w", i, err)
		}
	}

	if c.provider == nil {
		return nil, fmt.Errorf("nlddns.New: no DNS provider was registered - use nlddns.UsingCloudflare or similar")
	}
	if c.iface == "" {
		return nil, fmt.Errorf("nlddns.New: no network interface was registered - use nlddns.UsingInterface")
	}

	// propagate settings to providers registered before WithLogger or
	// WithTTL was applied
	switch p := c.provider.(type) {
	case *cloudflareProvider:
		p.logger = c.logger
		p.ttl = c.ttl
	case *gandiProvider:
		p.logger = c.logger
		p.ttl = c.ttl
	}
	if c.dryRun {
		c.provider = &dryRunProvider{next: c.provider, logger: c.logger}
	}
	return c, nil
}

func defaultUpdatePolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxUpdateRetries)
}

// Option configures a Client during New.
type Option func(*Client) error

// UsingProvider registers any Provider implementation.
func UsingProvider(p Provider) Option {
	return func(c *Client) error {
		if p == nil {
			return fmt.Errorf("provider cannot be nil")
		}
		c.provider = p
		return nil
	}
}

// UsingCloudflare registers a Cloudflare DNS provider for the zone
// containing domain, authenticated with an API token.
func UsingCloudflare(apiToken string, domain string) Option {
	return func(c *Client) (err error) {
		if c.provider, err = newCloudflareProvider(apiToken, domain); err != nil {
			return fmt.Errorf("creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

// UsingGandi registers a Gandi LiveDNS provider for domain. Exactly one
// of the GandiAuth fields must be set.
func UsingGandi(domain string, auth GandiAuth) Option {
	return func(c *Client) (err error) {
		if c.provider, err = newGandiProvider(domain, auth); err != nil {
			return fmt.Errorf("creating gandi DNS provider: %w", err)
		}
		return nil
	}
}

// UsingInterface sets the network interface whose IPv4 address is
// monitored.
func UsingInterface(name string) Option {
	return func(c *Client) error {
		if name == "" {
			return fmt.Errorf("interface name cannot be empty")
		}
		c.iface = name
		return nil
	}
}

// WithLogger sets the logger. The default is the standard logrus logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTTL sets the TTL in seconds applied to records written through
// the built-in providers. The default is 300 seconds.
func WithTTL(seconds int) Option {
	return func(c *Client) error {
		if seconds <= 0 {
			return fmt.Errorf("ttl must be positive")
		}
		c.ttl = seconds
		return nil
	}
}

// WithDryRun makes record mutations log their intent instead of calling
// the provider. Reads still happen, so the startup reconciliation log
// reflects real published state.
func WithDryRun(enabled bool) Option {
	return func(c *Client) error {
		c.dryRun = enabled
		return nil
	}
}

// WithReadyFunc registers a callback invoked once the client has finished
// its startup reconciliation and is consuming kernel notifications. The
// daemon uses this for systemd readiness notification.
func WithReadyFunc(f func()) Option {
	return func(c *Client) error {
		c.onReady = f
		return nil
	}
}

// WithBootstrapPolicy replaces the retry policy used while waiting for
// the interface to come up. newPolicy is called once per Run. The
// default is an unbounded fixed 10 second delay.
func WithBootstrapPolicy(newPolicy func() backoff.BackOff) Option {
	return func(c *Client) error {
		if newPolicy == nil {
			return fmt.Errorf("bootstrap policy cannot be nil")
		}
		c.newBootstrapPolicy = newPolicy
		return nil
	}
}

// WithUpdatePolicy replaces the retry policy applied to provider calls.
// newPolicy is called once per provider operation. The default is an
// exponential backoff capped at four retries.
func WithUpdatePolicy(newPolicy func() backoff.BackOff) Option {
	return func(c *Client) error {
		if newPolicy == nil {
			return fmt.Errorf("update policy cannot be nil")
		}
		c.newUpdatePolicy = newPolicy
		return nil
	}
}
