// Package analysis derives the load-balancer verdict and the per-backend
// annotations from a finished scan's clues. All functions are pure.
package analysis

import (
	"sort"
	"strings"
	"time"

	"github.com/maxvaer/lbscan/internal/clue"
)

// Verdict is the outcome of a scan.
type Verdict int

const (
	Inconclusive Verdict = iota
	NoLoadBalancer
	LoadBalanced
)

func (v Verdict) String() string {
	switch v {
	case NoLoadBalancer:
		return "no-load-balancer"
	case LoadBalanced:
		return "load-balanced"
	default:
		return "inconclusive"
	}
}

// Hits returns the number of successful probes behind clues.
func Hits(clues []clue.Clue) int {
	total := 0
	for _, c := range clues {
		total += c.Count
	}
	return total
}

// Classify decides whether clues show more than one backend. Without any
// hit the scan proves nothing either way.
func Classify(clues []clue.Clue) Verdict {
	if Hits(clues) == 0 {
		return Inconclusive
	}
	if len(clues) > 1 {
		return LoadBalanced
	}
	return NoLoadBalancer
}

// TimeDiff compares the clock offsets of two clues. Backends that share
// headers but run on different machines usually disagree on the time.
func TimeDiff(a, b clue.Clue) time.Duration {
	d := a.Skew() - b.Skew()
	if d < 0 {
		d = -d
	}
	return d
}

// DiffFields returns, sorted, the header fields whose value is not the same
// in every clue. A field missing from a clue counts as a distinct value, and
// repeated fields are compared by their full value list.
func DiffFields(clues []clue.Clue) []string {
	if len(clues) < 2 {
		return nil
	}

	type value struct {
		present bool
		joined  string
	}
	perClue := make([]map[string]value, len(clues))
	names := make(map[string]struct{})
	for i, c := range clues {
		m := make(map[string]value)
		for _, h := range c.Headers {
			v := m[h.Name]
			if v.present {
				v.joined += "\x00" + h.Value
			} else {
				v = value{present: true, joined: h.Value}
			}
			m[h.Name] = v
			names[h.Name] = struct{}{}
		}
		perClue[i] = m
	}

	var diff []string
	for name := range names {
		first := perClue[0][name]
		for _, m := range perClue[1:] {
			if m[name] != first {
				diff = append(diff, name)
				break
			}
		}
	}
	sort.Strings(diff)
	return diff
}

// Different returns the headers of c whose field is in fields, in received
// order.
func Different(c clue.Clue, fields []string) []clue.Header {
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	var out []clue.Header
	for _, h := range c.Headers {
		if _, ok := set[h.Name]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Percent is the share of hits that went to c.
func Percent(c clue.Clue, hits int) float64 {
	if hits == 0 {
		return 0
	}
	return float64(c.Count) * 100 / float64(hits)
}
