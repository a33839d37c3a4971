package clue

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/maxvaer/lbscan/internal/probe"
)

func rawResponse(received time.Time, headers ...string) *probe.RawResponse {
	raw := &probe.RawResponse{StatusLine: "HTTP/1.1 200 OK", Received: received}
	for i := 0; i+1 < len(headers); i += 2 {
		raw.Headers = append(raw.Headers, probe.Header{Name: headers[i], Value: headers[i+1]})
	}
	return raw
}

func TestNewClue_ExtractsInfo(t *testing.T) {
	received := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw := rawResponse(received,
		"Server", " Apache/2.4 ",
		"Date", "Wed, 01 May 2024 12:00:07 GMT",
		"Content-Location", "index.html.en",
		"Set-Cookie", "a=1",
		"Set-Cookie", "b=2",
	)

	c := DefaultPolicy().NewClue(raw)

	if c.Server != "Apache/2.4" {
		t.Errorf("Server = %q, want %q", c.Server, "Apache/2.4")
	}
	if c.ContentLocation != "index.html.en" {
		t.Errorf("ContentLocation = %q", c.ContentLocation)
	}
	if diff := cmp.Diff([]string{"a=1", "b=2"}, c.Cookies); diff != "" {
		t.Errorf("Cookies mismatch (-want +got):\n%s", diff)
	}
	if c.Skew() != 7*time.Second {
		t.Errorf("Skew() = %s, want 7s", c.Skew())
	}
	if c.Count != 1 {
		t.Errorf("Count = %d, want 1", c.Count)
	}
	if c.Headers[0].Name != "server" {
		t.Errorf("header names should be lower-cased, got %q", c.Headers[0].Name)
	}
	if len(c.Headers) != 5 {
		t.Errorf("all headers should be retained, got %d", len(c.Headers))
	}
}

func TestNewClue_NoDateMeansNoSkew(t *testing.T) {
	c := DefaultPolicy().NewClue(rawResponse(time.Now(), "Server", "nginx"))
	if c.Skew() != 0 {
		t.Errorf("Skew() = %s, want 0", c.Skew())
	}
}

func TestDigest_IgnoresDateAndOrder(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now()

	a := p.NewClue(rawResponse(now, "Server", "nginx", "X-Id", "1", "Date", "Wed, 01 May 2024 12:00:00 GMT"))
	b := p.NewClue(rawResponse(now, "X-Id", "1", "Date", "Thu, 02 May 2024 08:30:00 GMT", "Server", "nginx"))

	if a.Digest != b.Digest {
		t.Errorf("digests differ for same backend: %s vs %s", a.Digest, b.Digest)
	}
}

func TestDigest_DistinctValues(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now()

	a := p.NewClue(rawResponse(now, "Server", "nginx", "X-Backend", "web1"))
	b := p.NewClue(rawResponse(now, "Server", "nginx", "X-Backend", "web2"))

	if a.Digest == b.Digest {
		t.Error("different X-Backend values should give different digests")
	}
}

func TestPolicy_CustomIgnored(t *testing.T) {
	p := NewPolicy("Date", "X-Request-ID")
	now := time.Now()

	a := p.NewClue(rawResponse(now, "Server", "nginx", "X-Request-Id", "abc"))
	b := p.NewClue(rawResponse(now, "Server", "nginx", "X-Request-Id", "def"))

	if a.Digest != b.Digest {
		t.Error("configured ignorable field should not affect the digest")
	}
	if !p.Ignores("x-request-id") {
		t.Error("Ignores should be case-insensitive")
	}
	if diff := cmp.Diff([]string{"date", "x-request-id"}, p.Ignored()); diff != "" {
		t.Errorf("Ignored() mismatch (-want +got):\n%s", diff)
	}
}

func TestClue_Values(t *testing.T) {
	c := DefaultPolicy().NewClue(rawResponse(time.Now(), "Vary", "Accept", "vary", "Cookie"))
	if diff := cmp.Diff([]string{"Accept", "Cookie"}, c.Values("VARY")); diff != "" {
		t.Errorf("Values mismatch (-want +got):\n%s", diff)
	}
}
