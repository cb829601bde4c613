package nlddns

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
)

// Provider is the capability nlddns needs from a DNS vendor: read the
// current A record for a host label and create or replace it.
//
// GetRecord reports ok=false when no record exists; that is not an error.
// CreateRecord and UpdateRecord are idempotent from the caller's
// perspective: repeating a call with the same arguments must not produce
// an additional effect.
type Provider interface {
	GetRecord(ctx context.Context, host string) (addr netip.Addr, ok bool, err error)
	CreateRecord(ctx context.Context, host string, addr netip.Addr) error
	UpdateRecord(ctx context.Context, host string, addr netip.Addr) error
}

// APIError is a failed DNS provider API call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

// ClientError reports whether the failure was caused by the request
// itself (bad credentials, malformed record data) rather than the
// provider's service. Client errors are not worth retrying.
func (e *APIError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// malformedRecordError reports published record data that cannot be
// reconciled against a single interface address, such as an rrset
// carrying several values. Retrying cannot fix a malformed zone, so it
// classifies as a client error.
type malformedRecordError struct {
	msg string
}

func (e *malformedRecordError) Error() string { return e.msg }

func (e *malformedRecordError) ClientError() bool { return true }
