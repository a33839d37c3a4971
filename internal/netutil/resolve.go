package netutil

import (
	"context"
	"fmt"
	"net"

	"github.com/projectdiscovery/fastdialer/fastdialer"
)

// Resolver dials and resolves through a shared fastdialer instance, so the
// address lookup done before a scan and the probe connections use the same
// DNS cache.
type Resolver struct {
	dialer *fastdialer.Dialer
}

// NewResolver builds a Resolver with fastdialer defaults and system resolver
// fallback enabled.
func NewResolver() (*Resolver, error) {
	opts := fastdialer.DefaultOptions
	opts.EnableFallback = true
	d, err := fastdialer.NewDialer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating dialer: %w", err)
	}
	return &Resolver{dialer: d}, nil
}

// Dial matches probe.DialFunc.
func (r *Resolver) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return r.dialer.Dial(ctx, network, address)
}

// LookupHost returns every IPv4 then IPv6 address of host. IP literals are
// returned unchanged.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}
	data, err := r.dialer.GetDNSData(host)
	if err != nil {
		return nil, &net.DNSError{Err: err.Error(), Name: host, IsNotFound: true}
	}
	addrs := make([]string, 0, len(data.A)+len(data.AAAA))
	addrs = append(addrs, data.A...)
	addrs = append(addrs, data.AAAA...)
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

// Close releases the dialer cache.
func (r *Resolver) Close() {
	r.dialer.Close()
}
