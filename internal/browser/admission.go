// internal/browser/admission.go
package browser

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/vantor-labs/concierge/api/schemas"
)

// blockedHostSuffixes are name suffixes that always resolve inside a private
// deployment and must never be reached from a customer-driven session.
var blockedHostSuffixes = []string{".local", ".internal", ".localhost"}

// cgnatBlock is 100.64.0.0/10, carrier-grade NAT space (RFC 6598).
var cgnatBlock = mustCIDR("100.64.0.0/10")

// uniqueLocalBlock is fc00::/7, the IPv6 analog of private address space.
var uniqueLocalBlock = mustCIDR("fc00::/7")

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// admitURL decides whether a navigation target is allowed to leave the
// sandbox. It returns the parsed URL on success and a SecurityError (or
// ValidationError for unparseable input) otherwise.
//
// Hostnames are IDNA-normalized before checking so that unicode lookalikes of
// blocked names do not slip through. Literal IPs are checked directly; names
// are resolved best-effort and every resolved address is checked. Resolution
// failures do not block the navigation here, since the browser will fail it
// anyway.
func admitURL(ctx context.Context, rawURL string, resolver hostResolver) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &schemas.ValidationError{Field: "url", Reason: "not a valid URL"}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &schemas.SecurityError{URL: rawURL, Reason: "scheme must be http or https"}
	}
	host := u.Hostname()
	if host == "" {
		return nil, &schemas.ValidationError{Field: "url", Reason: "missing host"}
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, &schemas.SecurityError{URL: rawURL, Reason: "hostname failed IDNA normalization"}
	}
	ascii = strings.TrimSuffix(strings.ToLower(ascii), ".")

	if ascii == "localhost" {
		return nil, &schemas.SecurityError{URL: rawURL, Reason: "loopback host"}
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(ascii, suffix) {
			return nil, &schemas.SecurityError{URL: rawURL, Reason: "reserved host suffix " + suffix}
		}
	}

	if ip := net.ParseIP(ascii); ip != nil {
		if reason := blockedIPReason(ip); reason != "" {
			return nil, &schemas.SecurityError{URL: rawURL, Reason: reason}
		}
		return u, nil
	}

	// Best-effort resolution; a name that resolves into a private range now
	// would land the browser inside the network.
	resolveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	addrs, err := resolver(resolveCtx, ascii)
	if err != nil {
		return u, nil
	}
	for _, addr := range addrs {
		if reason := blockedIPReason(addr.IP); reason != "" {
			return nil, &schemas.SecurityError{URL: rawURL, Reason: reason}
		}
	}
	return u, nil
}

// hostResolver abstracts DNS lookup so admission tests don't need the network.
type hostResolver func(ctx context.Context, host string) ([]net.IPAddr, error)

func defaultResolver(ctx context.Context, host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

// blockedIPReason returns a non-empty reason if the address must not be
// reached from a sandboxed session.
func blockedIPReason(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback address"
	case ip.IsPrivate():
		return "private address"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local address"
	case ip.IsUnspecified():
		return "unspecified address"
	case cgnatBlock.Contains(ip):
		return "carrier-grade NAT address"
	case uniqueLocalBlock.Contains(ip):
		return "unique-local address"
	}
	return ""
}
