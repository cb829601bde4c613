package nlddns

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/cloudflare/cloudflare-go"
	"github.com/sirupsen/logrus"
)

func newCloudflareProvider(apiToken string, domain string) (cf *cloudflareProvider, err error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}
	cf = new(cloudflareProvider)
	cf.api, err = cloudflare.NewWithAPIToken(apiToken)
	if err != nil {
		return nil, fmt.Errorf("creating cloudflare api client: %w", err)
	}
	cf.domain = domain
	cf.logger = logrus.StandardLogger()
	cf.ttl = defaultTTL
	cf.comment = "managed by nlddns"
	return cf, nil
}

// cloudflareProvider implements Provider on top of the Cloudflare v4 API.
type cloudflareProvider struct {
	api     *cloudflare.API
	logger  logrus.FieldLogger
	domain  string
	ttl     int
	comment string // attached to each record written by this client
}

// fqdn returns the full record name for a host label within the domain.
func (cf *cloudflareProvider) fqdn(host string) string {
	if host == "" || host == "@" {
		return cf.domain
	}
	return host + "." + cf.domain
}

func (cf *cloudflareProvider) GetRecord(ctx context.Context, host string) (netip.Addr, bool, error) {
	zid, err := cf.getZoneIDFromDomain(ctx, cf.domain)
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("unable to get zone ID for %s: %w", cf.domain, err)
	}

	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.ListDNSRecordsParams{
		Type: "A",
		Name: cf.fqdn(host),
	})
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("listing A records for %s: %w", cf.fqdn(host), err)
	}
	switch len(records) {
	case 0:
		return netip.Addr{}, false, nil
	case 1:
	default:
		return netip.Addr{}, false, &malformedRecordError{
			msg: fmt.Sprintf("%s has %d published A records, expected at most 1", cf.fqdn(host), len(records)),
		}
	}

	addr, err := netip.ParseAddr(records[0].Content)
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("parsing IP from record content %q: %w", records[0].Content, err)
	}
	return addr, true, nil
}

func (cf *cloudflareProvider) CreateRecord(ctx context.Context, host string, addr netip.Addr) error {
	zid, err := cf.getZoneIDFromDomain(ctx, cf.domain)
	if err != nil {
		return fmt.Errorf("unable to get zone ID for %s: %w", cf.domain, err)
	}

	record, err := cf.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.CreateDNSRecordParams{
		Type:    "A",
		Name:    cf.fqdn(host),
		Content: addr.String(),
		TTL:     cf.ttl,
		Comment: cf.comment,
	})
	if err != nil {
		return fmt.Errorf("creating A record for %s: %w", cf.fqdn(host), err)
	}
	cf.logger.Debugf("created record %s: %s -> %s", record.ID, cf.fqdn(host), addr)
	return nil
}

func (cf *cloudflareProvider) UpdateRecord(ctx context.Context, host string, addr netip.Addr) error {
	zid, err := cf.getZoneIDFromDomain(ctx, cf.domain)
	if err != nil {
		return fmt.Errorf("unable to get zone ID for %s: %w", cf.domain, err)
	}

	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.ListDNSRecordsParams{
		Type: "A",
		Name: cf.fqdn(host),
	})
	if err != nil {
		return fmt.Errorf("listing A records for %s: %w", cf.fqdn(host), err)
	}
	if len(records) == 0 {
		// record disappeared out from under us; recreate it
		return cf.CreateRecord(ctx, host, addr)
	}

	_, err = cf.api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.UpdateDNSRecordParams{
		ID:      records[0].ID,
		Type:    "A",
		Name:    cf.fqdn(host),
		Content: addr.String(),
		TTL:     cf.ttl,
	})
	if err != nil {
		return fmt.Errorf("updating A record for %s: %w", cf.fqdn(host), err)
	}
	cf.logger.Debugf("updated record %s: %s -> %s", records[0].ID, cf.fqdn(host), addr)
	return nil
}

// getZoneIDFromDomain finds the zone whose name is the longest suffix of
// the domain, so delegated subdomains pick the most specific zone.
func (cf *cloudflareProvider) getZoneIDFromDomain(ctx context.Context, domain string) (zid string, err error) {
	zones, err := cf.api.ListZones(ctx)
	if err != nil {
		return "", fmt.Errorf("error listing zones: %w", err)
	}

	longest := 0
	for _, z := range zones {
		if strings.HasSuffix(domain, z.Name) && len(z.Name) > longest {
			longest, zid = len(z.Name), z.ID
		}
	}
	if longest == 0 {
		return "", fmt.Errorf("unable to find a zone matching %q", domain)
	}
	return zid, nil
}
