// Package clue turns probe responses into header fingerprints and keeps a
// deduplicated, countable collection of them for one scan.
package clue

import (
	"net/http"
	"strings"
	"time"

	"github.com/maxvaer/lbscan/internal/probe"
)

// Header is one response header with its name lower-cased and its value
// trimmed.
type Header struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Clue is the fingerprint of one backend response. Count tracks how many
// responses with the same digest were merged into it.
type Clue struct {
	Headers         []Header  `json:"headers"`
	Status          string    `json:"status,omitempty"`
	Received        time.Time `json:"received"`
	Timestamp       time.Time `json:"timestamp"`
	Digest          string    `json:"digest"`
	Server          string    `json:"server,omitempty"`
	ContentLocation string    `json:"content_location,omitempty"`
	Cookies         []string  `json:"cookies,omitempty"`
	Count           int       `json:"count"`
}

// Skew is the offset of the backend clock (Date header) against the local
// receive time, rounded to seconds since Date has one-second resolution.
// It is zero when the response carried no usable Date header.
func (c Clue) Skew() time.Duration {
	return c.Timestamp.Sub(c.Received).Round(time.Second)
}

// Values returns every value of the named header in received order.
func (c Clue) Values(name string) []string {
	name = strings.ToLower(name)
	var vals []string
	for _, h := range c.Headers {
		if h.Name == name {
			vals = append(vals, h.Value)
		}
	}
	return vals
}

// NewClue builds a clue from a raw response using p to compute the digest.
// The full header list is retained; only the digest is filtered.
func (p Policy) NewClue(raw *probe.RawResponse) Clue {
	c := Clue{
		Headers:   make([]Header, 0, len(raw.Headers)),
		Status:    raw.StatusLine,
		Received:  raw.Received,
		Timestamp: raw.Received,
		Count:     1,
	}

	for _, h := range raw.Headers {
		hdr := Header{
			Name:  strings.ToLower(strings.TrimSpace(h.Name)),
			Value: strings.TrimSpace(h.Value),
		}
		c.Headers = append(c.Headers, hdr)

		switch hdr.Name {
		case "date":
			if t, err := http.ParseTime(hdr.Value); err == nil {
				c.Timestamp = t
			}
		case "server":
			c.Server = hdr.Value
		case "content-location":
			c.ContentLocation = hdr.Value
		case "set-cookie":
			c.Cookies = append(c.Cookies, hdr.Value)
		}
	}

	c.Digest = p.Digest(c.Headers)
	return c
}
