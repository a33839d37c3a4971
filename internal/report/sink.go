package report

import (
	"errors"
	"fmt"
	"sync"

	"github.com/maxvaer/lbscan/internal/analysis"
)

// Sink stores backend records. Implementations must be append-only.
type Sink interface {
	Append(pluginID, topic string, rec Record) error
}

// Publish appends every record of s to sink under Topic. Nothing is
// published unless the scan found more than one backend.
func Publish(sink Sink, pluginID string, s Summary) error {
	if s.Verdict != analysis.LoadBalanced {
		return nil
	}
	var errs []error
	for _, rec := range s.Records {
		if err := sink.Append(pluginID, Topic, rec); err != nil {
			errs = append(errs, fmt.Errorf("backend %d: %w", rec.Ordinal, err))
		}
	}
	return errors.Join(errs...)
}

type kbKey struct {
	pluginID string
	topic    string
}

// KnowledgeBase is an in-memory Sink.
type KnowledgeBase struct {
	mu      sync.Mutex
	entries map[kbKey][]Record
}

// NewKnowledgeBase returns an empty knowledge base.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{entries: make(map[kbKey][]Record)}
}

func (kb *KnowledgeBase) Append(pluginID, topic string, rec Record) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	k := kbKey{pluginID, topic}
	kb.entries[k] = append(kb.entries[k], rec)
	return nil
}

// Get returns a copy of the records stored under pluginID and topic.
func (kb *KnowledgeBase) Get(pluginID, topic string) []Record {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	recs := kb.entries[kbKey{pluginID, topic}]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}
