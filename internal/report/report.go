// Package report assembles the per-backend records of a finished scan and
// hands them to result sinks. It does no formatting.
package report

import (
	"time"

	"github.com/maxvaer/lbscan/internal/analysis"
	"github.com/maxvaer/lbscan/internal/clue"
	"github.com/maxvaer/lbscan/internal/strategy"
)

// Topic is the knowledge-base topic backend records are stored under.
const Topic = "loadbalancer"

// Record describes one detected backend.
type Record struct {
	Ordinal         int // 1-based, first-seen order
	Server          string
	Digest          string
	Status          string
	Hits            int
	Percent         float64
	TimeDiff        time.Duration // clock offset difference against backend 1
	Skew            time.Duration // backend clock minus local receive time
	ContentLocation string
	Cookies         []string
	Different       []clue.Header // headers whose field differs across backends
	Headers         []clue.Header
}

// Summary is the complete outcome of scanning one address.
type Summary struct {
	ID         string
	URL        string
	Addr       string
	Verdict    analysis.Verdict
	Outcome    string
	Backends   int
	Hits       int
	Probes     int
	Failures   int
	Elapsed    time.Duration
	DiffFields []string
	Records    []Record
}

// Build summarizes a finished scan.
func Build(res *strategy.Result) Summary {
	s := FromClues(res.URL, res.Addr, res.Clues)
	s.ID = res.ID
	s.Outcome = res.Outcome.String()
	s.Probes = res.Probes
	s.Failures = res.Failures
	s.Elapsed = res.Elapsed
	return s
}

// FromClues summarizes a clue set, e.g. one loaded from a clue file.
func FromClues(url, addr string, clues []clue.Clue) Summary {
	hits := analysis.Hits(clues)
	fields := analysis.DiffFields(clues)

	s := Summary{
		URL:        url,
		Addr:       addr,
		Verdict:    analysis.Classify(clues),
		Backends:   len(clues),
		Hits:       hits,
		Probes:     hits,
		DiffFields: fields,
		Records:    make([]Record, 0, len(clues)),
	}
	for i, c := range clues {
		s.Records = append(s.Records, Record{
			Ordinal:         i + 1,
			Server:          c.Server,
			Digest:          c.Digest,
			Status:          c.Status,
			Hits:            c.Count,
			Percent:         analysis.Percent(c, hits),
			TimeDiff:        analysis.TimeDiff(c, clues[0]),
			Skew:            c.Skew(),
			ContentLocation: c.ContentLocation,
			Cookies:         c.Cookies,
			Different:       analysis.Different(c, fields),
			Headers:         c.Headers,
		})
	}
	return s
}
