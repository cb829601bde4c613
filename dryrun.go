package nlddns

import (
	"context"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// dryRunProvider wraps a Provider and turns record mutations into logged
// no-ops. Reads pass through so startup reconciliation still compares
// against real published state.
type dryRunProvider struct {
	next   Provider
	logger logrus.FieldLogger
}

func (d *dryRunProvider) GetRecord(ctx context.Context, host string) (netip.Addr, bool, error) {
	return d.next.GetRecord(ctx, host)
}

func (d *dryRunProvider) CreateRecord(_ context.Context, host string, addr netip.Addr) error {
	d.logger.Infof("dry-run: would create A record %s -> %s", host, addr)
	return nil
}

func (d *dryRunProvider) UpdateRecord(_ context.Context, host string, addr netip.Addr) error {
	d.logger.Infof("dry-run: would update A record %s -> %s", host, addr)
	return nil
}
