package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/maxvaer/lbscan/internal/analysis"
	"github.com/maxvaer/lbscan/internal/report"
)

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

const ruleWidth = 79

// TextWriter writes a human-readable report, one block per scanned address.
type TextWriter struct {
	w       io.Writer
	closer  io.Closer
	noColor bool
	debug   bool
}

// NewTextWriter creates a text output writer. If outputFile is empty, stdout
// is used. Color is disabled by noColor, when writing to a file, and when
// stdout is not a terminal. debug adds every header of each backend.
func NewTextWriter(outputFile string, noColor, debug bool) (*TextWriter, error) {
	w, closer, err := openOutput(outputFile)
	if err != nil {
		return nil, err
	}
	if closer != nil || !stdoutIsTerminal() {
		noColor = true
	}
	return &TextWriter{w: w, closer: closer, noColor: noColor, debug: debug}, nil
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (t *TextWriter) WriteSummary(s report.Summary) error {
	var b strings.Builder

	title := s.URL
	if s.Addr != "" {
		title += " (" + s.Addr + ")"
	}
	rule := strings.Repeat("=", ruleWidth)

	b.WriteString("\n" + rule + "\n")
	switch s.Verdict {
	case analysis.Inconclusive:
		fmt.Fprintf(&b, "%s: %s\n", title,
			t.paint(colorRed, fmt.Sprintf("inconclusive, no successful probes (%d failed)", s.Failures)))
		b.WriteString(rule + "\n")
		_, err := io.WriteString(t.w, b.String())
		return err
	case analysis.LoadBalanced:
		fmt.Fprintf(&b, "%s: %s\n", title, t.paint(colorGreen, fmt.Sprintf("%d real servers", s.Backends)))
	default:
		fmt.Fprintf(&b, "%s: %s\n", title, t.paint(colorCyan, "1 real server (no load balancer detected)"))
	}
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "%d successful requests, %d failed, %s\n",
		s.Hits, s.Failures, s.Elapsed.Round(10*time.Millisecond))
	if len(s.DiffFields) > 0 {
		fmt.Fprintf(&b, "differing fields: %s\n", strings.Join(s.DiffFields, ", "))
	}

	for _, r := range s.Records {
		t.writeRecord(&b, r)
	}

	_, err := io.WriteString(t.w, b.String())
	return err
}

func (t *TextWriter) writeRecord(b *strings.Builder, r report.Record) {
	server := r.Server
	if server == "" {
		server = "(no Server header)"
	}
	fmt.Fprintf(b, "\n%s\n", t.paint(colorBold, fmt.Sprintf("server %d: %s", r.Ordinal, server)))
	b.WriteString(strings.Repeat("-", ruleWidth) + "\n")

	fmt.Fprintf(b, "difference: %d seconds\n", int64(r.TimeDiff.Seconds()))
	fmt.Fprintf(b, "successful requests: %d hits (%.2f%%)\n", r.Hits, r.Percent)
	if r.ContentLocation != "" {
		fmt.Fprintf(b, "content-location: %s\n", r.ContentLocation)
	}
	if len(r.Cookies) > 0 {
		b.WriteString("cookie(s):\n")
		for _, c := range r.Cookies {
			fmt.Fprintf(b, "  %s\n", c)
		}
	}
	fmt.Fprintf(b, "header fingerprint: %s\n", r.Digest)

	if len(r.Different) > 0 {
		b.WriteString("different headers:\n")
		for i, h := range r.Different {
			fmt.Fprintf(b, "  %d. %s: %s\n", i+1, t.paint(colorYellow, h.Name), h.Value)
		}
	}

	if t.debug {
		if r.Status != "" {
			fmt.Fprintf(b, "status: %s\n", r.Status)
		}
		b.WriteString("headers:\n")
		for _, h := range r.Headers {
			fmt.Fprintf(b, "  %s: %s\n", h.Name, h.Value)
		}
	}
}

func (t *TextWriter) Flush() error { return nil }

func (t *TextWriter) Close() error {
	return closeOutput(t.closer)
}

func (t *TextWriter) paint(color, s string) string {
	if t.noColor {
		return s
	}
	return color + s + colorReset
}
