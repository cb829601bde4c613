package nlddns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// gandiAPIBase is the LiveDNS v5 endpoint.
// See https://api.gandi.net/docs/livedns/
const gandiAPIBase = "https://api.gandi.net/v5"

// GandiAuth selects one of Gandi's two authentication schemes. Exactly
// one field must be set; supplying both is rejected so a misconfigured
// credential cannot silently win over the intended one.
type GandiAuth struct {
	// APIKey is the legacy "Apikey" header scheme.
	APIKey string
	// PersonalAccessToken is the current bearer-token scheme.
	PersonalAccessToken string
}

func (a GandiAuth) header() (string, error) {
	switch {
	case a.APIKey != "" && a.PersonalAccessToken != "":
		return "", errors.New("gandi auth: api key and personal access token are mutually exclusive")
	case a.APIKey != "":
		return "Apikey " + a.APIKey, nil
	case a.PersonalAccessToken != "":
		return "Bearer " + a.PersonalAccessToken, nil
	default:
		return "", errors.New("gandi auth: no credentials set")
	}
}

func newGandiProvider(domain string, auth GandiAuth) (*gandiProvider, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}
	authHeader, err := auth.header()
	if err != nil {
		return nil, err
	}

	// transport-level retries only; the reconciler owns call-level retry policy
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 2
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second

	return &gandiProvider{
		httpClient: rc.StandardClient(),
		logger:     logrus.StandardLogger(),
		base:       gandiAPIBase,
		domain:     domain,
		auth:       authHeader,
		ttl:        defaultTTL,
	}, nil
}

// gandiProvider implements Provider on top of the Gandi LiveDNS v5 API.
type gandiProvider struct {
	httpClient *http.Client
	logger     logrus.FieldLogger
	base       string
	domain     string
	auth       string
	ttl        int
}

// gandiRecord is the LiveDNS rrset representation.
type gandiRecord struct {
	Name   string   `json:"rrset_name,omitempty"`
	Type   string   `json:"rrset_type,omitempty"`
	TTL    int      `json:"rrset_ttl,omitempty"`
	Values []string `json:"rrset_values"`
}

type gandiError struct {
	Message string `json:"message"`
}

func (g *gandiProvider) rrsetURL(host string) string {
	return g.base + "/livedns/domains/" + g.domain + "/records/" + host + "/A"
}

func (g *gandiProvider) recordsURL() string {
	return g.base + "/livedns/domains/" + g.domain + "/records"
}

func (g *gandiProvider) GetRecord(ctx context.Context, host string) (netip.Addr, bool, error) {
	resp, err := g.do(ctx, http.MethodGet, g.rrsetURL(host), nil)
	if err != nil {
		return netip.Addr{}, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		g.logger.Debugf("no published A record for %s.%s", host, g.domain)
		return netip.Addr{}, false, nil
	default:
		return netip.Addr{}, false, apiError(resp)
	}

	var rec gandiRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return netip.Addr{}, false, fmt.Errorf("decoding record for %s.%s: %w", host, g.domain, err)
	}
	switch len(rec.Values) {
	case 0:
		return netip.Addr{}, false, nil
	case 1:
	default:
		return netip.Addr{}, false, &malformedRecordError{
			msg: fmt.Sprintf("%s.%s has %d published values, expected at most 1", host, g.domain, len(rec.Values)),
		}
	}

	addr, err := netip.ParseAddr(rec.Values[0])
	if err != nil {
		return netip.Addr{}, false, fmt.Errorf("parsing IP from record value %q: %w", rec.Values[0], err)
	}
	return addr, true, nil
}

func (g *gandiProvider) CreateRecord(ctx context.Context, host string, addr netip.Addr) error {
	rec := gandiRecord{
		Name:   host,
		Type:   "A",
		TTL:    g.ttl,
		Values: []string{addr.String()},
	}
	resp, err := g.do(ctx, http.MethodPost, g.recordsURL(), rec)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	g.logger.Debugf("created A record %s.%s -> %s", host, g.domain, addr)
	return nil
}

func (g *gandiProvider) UpdateRecord(ctx context.Context, host string, addr netip.Addr) error {
	rec := gandiRecord{
		TTL:    g.ttl,
		Values: []string{addr.String()},
	}
	resp, err := g.do(ctx, http.MethodPut, g.rrsetURL(host), rec)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	g.logger.Debugf("updated A record %s.%s -> %s", host, g.domain, addr)
	return nil
}

func (g *gandiProvider) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", g.auth)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return resp, nil
}

// apiError drains an error response into an *APIError. The body is best
// effort; the status code alone is enough for retry classification.
func apiError(resp *http.Response) error {
	var ge gandiError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ge); err != nil {
		ge.Message = "status " + strconv.Itoa(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: ge.Message}
}
