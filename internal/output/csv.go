package output

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/maxvaer/lbscan/internal/report"
)

var csvColumns = []string{
	"url", "addr", "verdict", "backends", "server_no", "server",
	"digest", "hits", "percent", "time_diff_seconds", "content_location",
	"different_headers",
}

// CSVWriter writes one row per detected backend. Summaries without
// backends produce a single row with the backend columns empty.
type CSVWriter struct {
	w           *csv.Writer
	closer      io.Closer
	wroteHeader bool
}

// NewCSVWriter creates a CSV output writer.
func NewCSVWriter(outputFile string) (*CSVWriter, error) {
	w, closer, err := openOutput(outputFile)
	if err != nil {
		return nil, err
	}
	return &CSVWriter{w: csv.NewWriter(w), closer: closer}, nil
}

func (c *CSVWriter) writeHeader() error {
	if c.wroteHeader {
		return nil
	}
	c.wroteHeader = true
	return c.w.Write(csvColumns)
}

func (c *CSVWriter) WriteSummary(s report.Summary) error {
	if err := c.writeHeader(); err != nil {
		return err
	}
	prefix := []string{s.URL, s.Addr, s.Verdict.String(), strconv.Itoa(s.Backends)}
	if len(s.Records) == 0 {
		return c.w.Write(append(prefix, "", "", "", "0", "", "", "", ""))
	}
	for _, r := range s.Records {
		diff := make([]string, 0, len(r.Different))
		for _, h := range r.Different {
			diff = append(diff, h.Name+"="+h.Value)
		}
		row := append(append([]string(nil), prefix...),
			strconv.Itoa(r.Ordinal),
			r.Server,
			r.Digest,
			strconv.Itoa(r.Hits),
			strconv.FormatFloat(r.Percent, 'f', 2, 64),
			strconv.FormatInt(int64(r.TimeDiff.Seconds()), 10),
			r.ContentLocation,
			strings.Join(diff, "; "),
		)
		if err := c.w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (c *CSVWriter) Flush() error {
	if err := c.writeHeader(); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) Close() error {
	return closeOutput(c.closer)
}
