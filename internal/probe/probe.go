// Package probe issues single HTTP requests against a target and returns the
// raw response header block.
package probe

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// Header is a response header exactly as the server sent it.
type Header struct {
	Name  string
	Value string
}

// RawResponse holds the header block of one probe response.
type RawResponse struct {
	StatusLine string
	Headers    []Header
	Received   time.Time
}

// Prober sends one request to target. When addr is non-empty the request is
// sent to that network address while the Host header still names the URL
// host. Implementations must be safe for concurrent use and must not retry.
type Prober interface {
	Probe(ctx context.Context, target, addr string) (*RawResponse, error)
}

// DialFunc opens a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures an HTTPProber.
type Options struct {
	UserAgent string
	Headers   map[string]string
	Dial      DialFunc // nil = net.Dialer
}

// HTTPProber speaks just enough HTTP/1.1 to read a response header block.
// Unlike net/http it keeps headers in the order they were received.
type HTTPProber struct {
	dial      DialFunc
	userAgent string
	headers   map[string]string
}

const defaultUserAgent = "Mozilla/5.0 (compatible; lbscan/1.0)"

// NewHTTPProber creates a prober from opts.
func NewHTTPProber(opts Options) *HTTPProber {
	dial := opts.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &HTTPProber{dial: dial, userAgent: ua, headers: opts.Headers}
}

// Probe sends a GET for target and reads the status line and headers. The
// body is never read. The connection is torn down as soon as ctx is done, so
// a hung server cannot hold the caller past its deadline.
func (p *HTTPProber) Probe(ctx context.Context, target, addr string) (*RawResponse, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Err: fmt.Errorf("invalid URL %q: %w", target, err)}
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	dialHost := host
	if addr != "" {
		dialHost = addr
	}

	raw, err := p.dial(ctx, "tcp", net.JoinHostPort(dialHost, port))
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer raw.Close()
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}

	var conn net.Conn = raw
	if u.Scheme == "https" {
		tc := tls.Client(raw, &tls.Config{ServerName: host, InsecureSkipVerify: true})
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, classify(ctx, err)
		}
		conn = tc
	}

	if _, err := conn.Write(p.buildRequest(u)); err != nil {
		return nil, classify(ctx, err)
	}

	resp, err := readHeaderBlock(bufio.NewReader(conn))
	if err != nil {
		return nil, classify(ctx, err)
	}
	return resp, nil
}

func (p *HTTPProber) buildRequest(u *url.URL) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", u.RequestURI())
	fmt.Fprintf(&b, "Host: %s\r\n", u.Host)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", p.userAgent)
	b.WriteString("Accept: */*\r\n")
	for k, v := range p.headers {
		switch strings.ToLower(k) {
		case "host", "connection", "user-agent":
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("Connection: close\r\n\r\n")
	return []byte(b.String())
}

func readHeaderBlock(br *bufio.Reader) (*RawResponse, error) {
	tp := textproto.NewReader(br)

	status, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	received := time.Now()
	if !strings.HasPrefix(status, "HTTP/") {
		return nil, &Error{Kind: KindProtocol, Err: fmt.Errorf("malformed status line %q", status)}
	}

	resp := &RawResponse{StatusLine: status, Received: received}
	for {
		line, err := tp.ReadContinuedLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &Error{Kind: KindProtocol, Err: fmt.Errorf("malformed header line %q", line)}
		}
		resp.Headers = append(resp.Headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return resp, nil
}
