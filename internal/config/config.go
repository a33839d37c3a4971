package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/maxvaer/lbscan/internal/netutil"
)

// Defaults for a scan.
const (
	DefaultScanTime      = 9 * time.Second
	DefaultParallelism   = 20
	DefaultProbeTimeout  = 3 * time.Second
	DefaultConvergeAfter = 5
	DefaultMaxFailures   = 100
)

// ErrInvalid marks configuration errors. They are reported before any probe
// is sent.
var ErrInvalid = errors.New("invalid configuration")

// Options holds all configuration for an lbscan run.
type Options struct {
	// Target
	URL      string
	Addr     string // dial this address instead of resolving the host
	AllAddrs bool   // scan every address the host resolves to

	// Scan budget
	ScanTime      time.Duration
	Parallelism   int
	ProbeTimeout  time.Duration
	ConvergeAfter int // successful probes without a new clue before stopping; 0 = never
	MaxFailures   int // consecutive failed probes before aborting; 0 = unlimited

	// Pacing
	Delay            time.Duration
	AdaptiveThrottle bool

	// Fingerprinting
	IgnoreHeaders []string // added to the default ignorable fields

	// HTTP
	Headers   map[string]string
	UserAgent string

	// Output
	OutputFile   string
	OutputFormat string // "text", "json", "csv", "yaml"
	Quiet        bool
	NoColor      bool
	Verbose      bool
	Debug        bool

	// Clue files
	SaveFile string // write clues here after the scan
	ClueFile string // analyze these saved clues instead of scanning

	// Hooks
	OnBackendCmd string
}

// Default returns Options with every default applied.
func Default() Options {
	return Options{
		ScanTime:      DefaultScanTime,
		Parallelism:   DefaultParallelism,
		ProbeTimeout:  DefaultProbeTimeout,
		ConvergeAfter: DefaultConvergeAfter,
		MaxFailures:   DefaultMaxFailures,
		OutputFormat:  "text",
	}
}

// Validate normalizes the target URL in place and checks every value that
// would make a scan meaningless. Errors wrap ErrInvalid.
func (o *Options) Validate() error {
	if o.ClueFile == "" {
		if o.URL == "" {
			return fmt.Errorf("%w: target URL required", ErrInvalid)
		}
		u, err := netutil.NormalizeURL(o.URL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		o.URL = u
	}
	if o.Addr != "" && !netutil.ValidAddr(o.Addr) {
		return fmt.Errorf("%w: address %q is not an IP address", ErrInvalid, o.Addr)
	}
	if o.Addr != "" && o.AllAddrs {
		return fmt.Errorf("%w: --addr and --all-addrs are mutually exclusive", ErrInvalid)
	}
	if o.ScanTime <= 0 {
		return fmt.Errorf("%w: scan time must be positive, got %s", ErrInvalid, o.ScanTime)
	}
	if o.Parallelism < 1 {
		return fmt.Errorf("%w: parallelism must be at least 1, got %d", ErrInvalid, o.Parallelism)
	}
	if o.ProbeTimeout <= 0 {
		return fmt.Errorf("%w: probe timeout must be positive, got %s", ErrInvalid, o.ProbeTimeout)
	}
	if o.ConvergeAfter < 0 || o.MaxFailures < 0 || o.Delay < 0 {
		return fmt.Errorf("%w: converge-after, max-failures and delay cannot be negative", ErrInvalid)
	}
	switch o.OutputFormat {
	case "", "text", "json", "csv", "yaml":
	default:
		return fmt.Errorf("%w: --format must be one of: text, json, csv, yaml", ErrInvalid)
	}
	return nil
}
