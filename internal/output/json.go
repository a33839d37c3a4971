package output

import (
	"encoding/json"
	"io"

	"github.com/maxvaer/lbscan/internal/report"
)

type jsonHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type jsonBackend struct {
	Ordinal         int          `json:"ordinal"`
	Server          string       `json:"server,omitempty"`
	Digest          string       `json:"digest"`
	Status          string       `json:"status,omitempty"`
	Hits            int          `json:"hits"`
	Percent         float64      `json:"percent"`
	TimeDiff        float64      `json:"time_diff_seconds"`
	Skew            float64      `json:"skew_seconds"`
	ContentLocation string       `json:"content_location,omitempty"`
	Cookies         []string     `json:"cookies,omitempty"`
	Different       []jsonHeader `json:"different_headers,omitempty"`
	Headers         []jsonHeader `json:"headers"`
}

type jsonSummary struct {
	ID         string        `json:"id,omitempty"`
	URL        string        `json:"url"`
	Addr       string        `json:"addr,omitempty"`
	Verdict    string        `json:"verdict"`
	Outcome    string        `json:"outcome,omitempty"`
	Backends   int           `json:"backends"`
	Hits       int           `json:"hits"`
	Probes     int           `json:"probes"`
	Failures   int           `json:"failures"`
	Elapsed    float64       `json:"elapsed_seconds"`
	DiffFields []string      `json:"diff_fields,omitempty"`
	Servers    []jsonBackend `json:"servers"`
}

func toJSONSummary(s report.Summary) jsonSummary {
	out := jsonSummary{
		ID:         s.ID,
		URL:        s.URL,
		Addr:       s.Addr,
		Verdict:    s.Verdict.String(),
		Outcome:    s.Outcome,
		Backends:   s.Backends,
		Hits:       s.Hits,
		Probes:     s.Probes,
		Failures:   s.Failures,
		Elapsed:    s.Elapsed.Seconds(),
		DiffFields: s.DiffFields,
		Servers:    make([]jsonBackend, 0, len(s.Records)),
	}
	for _, r := range s.Records {
		b := jsonBackend{
			Ordinal:         r.Ordinal,
			Server:          r.Server,
			Digest:          r.Digest,
			Status:          r.Status,
			Hits:            r.Hits,
			Percent:         r.Percent,
			TimeDiff:        r.TimeDiff.Seconds(),
			Skew:            r.Skew.Seconds(),
			ContentLocation: r.ContentLocation,
			Cookies:         r.Cookies,
			Headers:         make([]jsonHeader, 0, len(r.Headers)),
		}
		for _, h := range r.Different {
			b.Different = append(b.Different, jsonHeader{Name: h.Name, Value: h.Value})
		}
		for _, h := range r.Headers {
			b.Headers = append(b.Headers, jsonHeader{Name: h.Name, Value: h.Value})
		}
		out.Servers = append(out.Servers, b)
	}
	return out
}

// JSONWriter writes all summaries as one JSON array on Flush.
type JSONWriter struct {
	w       io.Writer
	closer  io.Closer
	entries []jsonSummary
}

// NewJSONWriter creates a JSON output writer.
func NewJSONWriter(outputFile string) (*JSONWriter, error) {
	w, closer, err := openOutput(outputFile)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{w: w, closer: closer}, nil
}

func (j *JSONWriter) WriteSummary(s report.Summary) error {
	j.entries = append(j.entries, toJSONSummary(s))
	return nil
}

func (j *JSONWriter) Flush() error {
	entries := j.entries
	if entries == nil {
		entries = []jsonSummary{}
	}
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func (j *JSONWriter) Close() error {
	return closeOutput(j.closer)
}
