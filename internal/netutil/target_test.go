package netutil

import (
	"context"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare host", in: "example.com", want: "http://example.com/"},
		{name: "https kept", in: "https://example.com:8443/app", want: "https://example.com:8443/app"},
		{name: "trims space", in: "  http://example.com/  ", want: "http://example.com/"},
		{name: "empty", in: "", wantErr: true},
		{name: "ftp scheme", in: "ftp://example.com", wantErr: true},
		{name: "no host", in: "http:///path", wantErr: true},
		{name: "bad port", in: "http://example.com:99999/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeURL(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHostname(t *testing.T) {
	if got := Hostname("http://www.example.com:8080/x"); got != "www.example.com" {
		t.Errorf("Hostname = %q", got)
	}
}

func TestValidAddr(t *testing.T) {
	if !ValidAddr("10.0.0.1") || !ValidAddr("::1") {
		t.Error("IP literals should be valid")
	}
	if ValidAddr("example.com") {
		t.Error("host names are not addresses")
	}
}

func TestLookupHost_IPLiteral(t *testing.T) {
	r := &Resolver{}
	addrs, err := r.LookupHost(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != "127.0.0.1" {
		t.Errorf("addrs = %v", addrs)
	}
}
