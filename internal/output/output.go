// Package output renders scan summaries as text, JSON, CSV or YAML.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/maxvaer/lbscan/internal/report"
)

// Writer is implemented by each output format.
type Writer interface {
	WriteSummary(s report.Summary) error
	// Flush writes anything buffered. It is called once, after the last
	// summary.
	Flush() error
	Close() error
}

// New returns the writer for format ("text", "json", "csv" or "yaml").
// An empty outputFile selects stdout.
func New(format, outputFile string, noColor, debug bool) (Writer, error) {
	switch format {
	case "json":
		return NewJSONWriter(outputFile)
	case "csv":
		return NewCSVWriter(outputFile)
	case "yaml":
		return NewYAMLWriter(outputFile)
	case "text", "":
		return NewTextWriter(outputFile, noColor, debug)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// openOutput returns stdout when path is empty. The returned closer is nil
// for stdout.
func openOutput(path string) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

func closeOutput(c io.Closer) error {
	if c != nil {
		return c.Close()
	}
	return nil
}

