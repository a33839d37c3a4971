package output

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/maxvaer/lbscan/internal/report"
)

type yamlBackend struct {
	Ordinal         int               `yaml:"ordinal"`
	Server          string            `yaml:"server,omitempty"`
	Digest          string            `yaml:"digest"`
	Hits            int               `yaml:"hits"`
	Percent         float64           `yaml:"percent"`
	TimeDiff        string            `yaml:"time_diff"`
	ContentLocation string            `yaml:"content_location,omitempty"`
	Cookies         []string          `yaml:"cookies,omitempty"`
	Different       map[string]string `yaml:"different_headers,omitempty"`
}

type yamlSummary struct {
	ID         string        `yaml:"id,omitempty"`
	URL        string        `yaml:"url"`
	Addr       string        `yaml:"addr,omitempty"`
	Verdict    string        `yaml:"verdict"`
	Outcome    string        `yaml:"outcome,omitempty"`
	Backends   int           `yaml:"backends"`
	Hits       int           `yaml:"hits"`
	Failures   int           `yaml:"failures"`
	Elapsed    string        `yaml:"elapsed"`
	DiffFields []string      `yaml:"diff_fields,omitempty"`
	Servers    []yamlBackend `yaml:"servers,omitempty"`
}

// YAMLWriter writes all summaries as one YAML sequence on Flush.
type YAMLWriter struct {
	w       io.Writer
	closer  io.Closer
	entries []yamlSummary
}

// NewYAMLWriter creates a YAML output writer.
func NewYAMLWriter(outputFile string) (*YAMLWriter, error) {
	w, closer, err := openOutput(outputFile)
	if err != nil {
		return nil, err
	}
	return &YAMLWriter{w: w, closer: closer}, nil
}

func (y *YAMLWriter) WriteSummary(s report.Summary) error {
	entry := yamlSummary{
		ID:         s.ID,
		URL:        s.URL,
		Addr:       s.Addr,
		Verdict:    s.Verdict.String(),
		Outcome:    s.Outcome,
		Backends:   s.Backends,
		Hits:       s.Hits,
		Failures:   s.Failures,
		Elapsed:    s.Elapsed.String(),
		DiffFields: s.DiffFields,
	}
	for _, r := range s.Records {
		b := yamlBackend{
			Ordinal:         r.Ordinal,
			Server:          r.Server,
			Digest:          r.Digest,
			Hits:            r.Hits,
			Percent:         r.Percent,
			TimeDiff:        r.TimeDiff.String(),
			ContentLocation: r.ContentLocation,
			Cookies:         r.Cookies,
		}
		if len(r.Different) > 0 {
			b.Different = make(map[string]string, len(r.Different))
			for _, h := range r.Different {
				if prev, ok := b.Different[h.Name]; ok {
					b.Different[h.Name] = prev + ", " + h.Value
					continue
				}
				b.Different[h.Name] = h.Value
			}
		}
		entry.Servers = append(entry.Servers, b)
	}
	y.entries = append(y.entries, entry)
	return nil
}

func (y *YAMLWriter) Flush() error {
	enc := yaml.NewEncoder(y.w)
	enc.SetIndent(2)
	entries := y.entries
	if entries == nil {
		entries = []yamlSummary{}
	}
	if err := enc.Encode(entries); err != nil {
		return err
	}
	return enc.Close()
}

func (y *YAMLWriter) Close() error {
	return closeOutput(y.closer)
}
