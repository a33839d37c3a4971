package strategy

import (
	"time"

	"github.com/maxvaer/lbscan/internal/clue"
	"github.com/maxvaer/lbscan/internal/config"
)

// Task is the configuration and evidence of one scan against one address.
// The budget fields are fixed once the scan starts; Store only grows while
// the scan runs and is frozen when it ends.
type Task struct {
	URL  string
	Addr string

	ScanTime      time.Duration
	Parallelism   int
	ProbeTimeout  time.Duration
	ConvergeAfter int
	MaxFailures   int

	Delay            time.Duration
	AdaptiveThrottle bool

	Verbose bool
	Debug   bool

	Policy clue.Policy
	Store  *clue.Store
}

// NewTask builds a task from validated options.
func NewTask(opts *config.Options) *Task {
	ignored := append(append([]string{}, clue.DefaultIgnored...), opts.IgnoreHeaders...)
	return &Task{
		URL:              opts.URL,
		Addr:             opts.Addr,
		ScanTime:         opts.ScanTime,
		Parallelism:      opts.Parallelism,
		ProbeTimeout:     opts.ProbeTimeout,
		ConvergeAfter:    opts.ConvergeAfter,
		MaxFailures:      opts.MaxFailures,
		Delay:            opts.Delay,
		AdaptiveThrottle: opts.AdaptiveThrottle,
		Verbose:          opts.Verbose,
		Debug:            opts.Debug,
		Policy:           clue.NewPolicy(ignored...),
		Store:            clue.NewStore(),
	}
}

// ForAddr copies the task for a scan against addr with a fresh store.
func (t *Task) ForAddr(addr string) *Task {
	cp := *t
	cp.Addr = addr
	cp.Store = clue.NewStore()
	return &cp
}
