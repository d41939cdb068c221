package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// dnsTimeout is the maximum time allowed for DNS resolution.
const dnsTimeout = 500 * time.Millisecond

// ErrBlockedAddress is returned when a helpdesk host resolves into a
// private, loopback or otherwise internal range.
var ErrBlockedAddress = errors.New("security: helpdesk host resolves to a blocked address")

var (
	ErrDNSTimeout       = errors.New("security: DNS resolution timeout")
	ErrDNSFailed        = errors.New("security: DNS resolution failed")
	ErrTooManyRedirects = errors.New("security: too many redirects")
)

// blockedCIDRs are never reachable through a SafeTransport. Freshdesk
// domains are user supplied, so a connection must not be usable to probe
// internal infrastructure.
var blockedCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16", // link-local, includes the cloud metadata service
	"0.0.0.0/8",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"100.64.0.0/10",
	"198.18.0.0/15",
	"fc00::/7",
	"fe80::/10",
	"::1/128",
}

var (
	blockedNets []*net.IPNet
	initOnce    sync.Once
	initErr     error
)

func initBlockedNets() {
	initOnce.Do(func() {
		blockedNets = make([]*net.IPNet, 0, len(blockedCIDRs))
		for _, cidr := range blockedCIDRs {
			_, ipNet, err := net.ParseCIDR(cidr)
			if err != nil {
				initErr = fmt.Errorf("security: bad CIDR %q: %w", cidr, err)
				return
			}
			blockedNets = append(blockedNets, ipNet)
		}
	})
}

func isBlockedIP(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SafeTransport is an http.RoundTripper that refuses to dial blocked
// addresses. Every resolved IP is checked before the first one is dialed.
type SafeTransport struct {
	Base *http.Transport
	// Resolver is used for DNS lookups. Nil means net.DefaultResolver.
	Resolver Resolver
}

// NewSafeTransport wraps base (or a clone of the default transport) and
// takes over its DialContext.
func NewSafeTransport(base *http.Transport) (*SafeTransport, error) {
	initBlockedNets()
	if initErr != nil {
		return nil, initErr
	}
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	st := &SafeTransport{Base: base}
	base.DialContext = st.dialContext
	return st, nil
}

func (st *SafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return st.Base.RoundTrip(req)
}

func (st *SafeTransport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("security: invalid address %q: %w", addr, err)
	}
	ip, err := resolveAllowed(ctx, st.resolver(), host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
}

func (st *SafeTransport) resolver() Resolver {
	if st.Resolver != nil {
		return st.Resolver
	}
	return net.DefaultResolver
}

// resolveAllowed returns the address to dial for host, or an error when any
// of its addresses is blocked.
func resolveAllowed(ctx context.Context, r Resolver, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
		}
		return ip, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()
	addrs, err := r.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q has no addresses", ErrDNSFailed, host)
	}
	for _, a := range addrs {
		if isBlockedIP(a.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrBlockedAddress, a.IP, host)
		}
	}
	return addrs[0].IP, nil
}

// CheckRedirect limits redirects and refuses ones that lead to a blocked
// address.
func CheckRedirect(maxRedirects int, r Resolver) func(req *http.Request, via []*http.Request) error {
	initBlockedNets()
	if r == nil {
		r = net.DefaultResolver
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect has no host", ErrBlockedAddress)
		}
		_, err := resolveAllowed(req.Context(), r, host)
		return err
	}
}

// NewHelpdeskHTTPClient returns the client used for calls to user-configured
// helpdesk domains.
func NewHelpdeskHTTPClient(timeout time.Duration) (*http.Client, error) {
	transport, err := NewSafeTransport(nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(5, nil),
	}, nil
}
