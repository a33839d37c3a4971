// Package cluefile saves the clues of a scan to disk and loads them back,
// so a scan can be analyzed again later without probing the target.
package cluefile

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/maxvaer/lbscan/internal/clue"
)

const formatVersion = 1

// File is the on-disk form of one address scan.
type File struct {
	Version int         `json:"version"`
	URL     string      `json:"url"`
	Addr    string      `json:"addr,omitempty"`
	Saved   time.Time   `json:"saved"`
	Ignored []string    `json:"ignored_fields,omitempty"`
	Clues   []clue.Clue `json:"clues"`
}

// Save writes clues to path, replacing any existing file.
func Save(path, url, addr string, policy clue.Policy, clues []clue.Clue) error {
	f := File{
		Version: formatVersion,
		URL:     url,
		Addr:    addr,
		Saved:   time.Now().UTC(),
		Ignored: policy.Ignored(),
		Clues:   clues,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing clues: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing clue file: %w", err)
	}
	return nil
}

// Load reads a clue file written by Save.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clue file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing clue file: %w", err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("unsupported clue file version %d", f.Version)
	}
	return &f, nil
}

// Store rebuilds a clue store from the file. Clues are re-digested with
// policy, so a saved scan can be analyzed with a different set of ignored
// fields; clues that become equal are merged.
func (f *File) Store(policy clue.Policy) *clue.Store {
	s := clue.NewStore()
	for _, c := range f.Clues {
		c.Digest = policy.Digest(c.Headers)
		_, _ = s.Insert(c)
	}
	return s
}
