package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// Progress shows a live status line on stderr while a scan is running. It
// implements strategy.Observer.
type Progress struct {
	budget  time.Duration
	hits    atomic.Int64
	clues   atomic.Int64
	errors  atomic.Int64

	mu      sync.Mutex // guards start and addr
	start   time.Time
	addr    string
	done    chan struct{}
	stopped sync.Once
	enabled bool
	w       io.Writer
	width   int
}

// NewProgress creates a progress tracker for a scan with the given time
// budget. The display is disabled when quiet is set or stderr is not a
// terminal. Call Start to begin display updates.
func NewProgress(budget time.Duration, quiet bool) *Progress {
	fd := int(os.Stderr.Fd())
	p := &Progress{
		budget:  budget,
		start:   time.Now(),
		done:    make(chan struct{}),
		enabled: !quiet && term.IsTerminal(fd),
		w:       os.Stderr,
	}
	if w, _, err := term.GetSize(fd); err == nil {
		p.width = w
	}
	return p
}

// Start begins periodically printing progress to stderr.
func (p *Progress) Start() {
	if !p.enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.print()
			case <-p.done:
				p.print()
				fmt.Fprint(p.w, "\n")
				return
			}
		}
	}()
}

// ScanStarted resets the counters and the clock for the scan of addr, so
// with several addresses the line always describes the current one.
func (p *Progress) ScanStarted(addr string) {
	p.mu.Lock()
	p.start = time.Now()
	p.addr = addr
	p.hits.Store(0)
	p.clues.Store(0)
	p.errors.Store(0)
	p.mu.Unlock()
}

// ProbeSucceeded records a response; newClue marks a previously unseen
// fingerprint.
func (p *Progress) ProbeSucceeded(newClue bool) {
	p.hits.Add(1)
	if newClue {
		p.clues.Add(1)
	}
}

// ProbeFailed records a failed probe.
func (p *Progress) ProbeFailed() {
	p.errors.Add(1)
}

// Stop ends the progress display. It is safe to call more than once.
func (p *Progress) Stop() {
	p.stopped.Do(func() { close(p.done) })
}

func (p *Progress) line() string {
	p.mu.Lock()
	start, addr := p.start, p.addr
	p.mu.Unlock()

	elapsed := time.Since(start)
	if elapsed > p.budget {
		elapsed = p.budget
	}
	s := fmt.Sprintf("[%4.1fs/%s] ", elapsed.Seconds(), p.budget)
	if addr != "" {
		s += addr + " | "
	}
	s += fmt.Sprintf("Hits: %d | Servers: %d | Errors: %d",
		p.hits.Load(), p.clues.Load(), p.errors.Load())
	if p.width > 0 && len(s) >= p.width {
		s = s[:p.width-1]
	}
	return s
}

func (p *Progress) print() {
	fmt.Fprintf(p.w, "\r\033[K%s", p.line())
}
