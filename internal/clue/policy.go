package clue

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// DefaultIgnored lists header fields whose values change on every request
// regardless of which backend answered.
var DefaultIgnored = []string{"date", "expires", "age", "set-cookie"}

// Policy decides which header fields take part in the digest.
type Policy struct {
	ignore map[string]struct{}
}

// NewPolicy returns a policy that leaves the given fields out of the digest.
// Field names are matched case-insensitively.
func NewPolicy(ignored ...string) Policy {
	p := Policy{ignore: make(map[string]struct{}, len(ignored))}
	for _, name := range ignored {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			p.ignore[name] = struct{}{}
		}
	}
	return p
}

// DefaultPolicy ignores DefaultIgnored.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultIgnored...)
}

// Ignores reports whether name is excluded from the digest.
func (p Policy) Ignores(name string) bool {
	_, ok := p.ignore[strings.ToLower(name)]
	return ok
}

// Ignored returns the ignored field names, sorted.
func (p Policy) Ignored() []string {
	names := make([]string, 0, len(p.ignore))
	for name := range p.ignore {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Digest hashes the non-ignored headers. Headers are sorted by name and
// value first, so the digest does not depend on the order the server sent
// them in.
func (p Policy) Digest(headers []Header) string {
	kept := make([]Header, 0, len(headers))
	for _, h := range headers {
		name := strings.ToLower(h.Name)
		if p.Ignores(name) {
			continue
		}
		kept = append(kept, Header{Name: name, Value: strings.TrimSpace(h.Value)})
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Name != kept[j].Name {
			return kept[i].Name < kept[j].Name
		}
		return kept[i].Value < kept[j].Value
	})

	sum := sha1.New()
	for _, h := range kept {
		sum.Write([]byte(h.Name))
		sum.Write([]byte{':'})
		sum.Write([]byte(h.Value))
		sum.Write([]byte{'\n'})
	}
	return hex.EncodeToString(sum.Sum(nil))
}
