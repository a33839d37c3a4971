// Package strategy runs the probing phase of a scan: it keeps a bounded
// number of probes in flight against the target until the time budget is
// spent or the clue set stops growing, and feeds every response into the
// task's clue store.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/maxvaer/lbscan/internal/clue"
	"github.com/maxvaer/lbscan/internal/netutil"
	"github.com/maxvaer/lbscan/internal/probe"
)

// ErrScanAborted is returned when a scan ends in StateFailed. The cause is
// wrapped alongside it.
var ErrScanAborted = errors.New("scan aborted")

var (
	errConverged = errors.New("clue set converged")
	errFailed    = errors.New("scan failed")
)

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Observer receives per-probe events, e.g. to drive a progress display.
// ScanStarted is called once per address scan, before its first probe.
type Observer interface {
	ScanStarted(addr string)
	ProbeSucceeded(newClue bool)
	ProbeFailed()
}

// Result is what a finished scan hands to analysis.
type Result struct {
	ID       string
	URL      string
	Addr     string
	Outcome  State // StateConverged, StateTimedOut or StateFailed
	Started  time.Time
	Elapsed  time.Duration
	Clues    []clue.Clue
	Probes   int
	Hits     int
	Failures int
}

// UniScan probes a single address of the target.
type UniScan struct {
	task      *Task
	prober    probe.Prober
	resolver  Resolver
	observer  Observer
	throttler *Throttler
	log       *zap.Logger

	mu    sync.Mutex
	state State
}

// NewUniScan prepares a scan of task. resolver may be nil; it is used to
// pin the scan to one address when task.Addr is empty.
func NewUniScan(task *Task, prober probe.Prober, resolver Resolver, log *zap.Logger) *UniScan {
	return &UniScan{
		task:      task,
		prober:    prober,
		resolver:  resolver,
		throttler: NewThrottler(task.Delay, task.ScanTime/2, task.AdaptiveThrottle, log),
		log:       log.With(zap.String("url", task.URL)),
	}
}

// SetObserver registers o for probe events. Call before Execute.
func (s *UniScan) SetObserver(o Observer) {
	s.observer = o
}

// State returns the current lifecycle state.
func (s *UniScan) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *UniScan) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return fmt.Errorf("invalid scan state transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

type outcome struct {
	resp *probe.RawResponse
	err  error
}

// Execute runs the scan. It returns an error wrapping ErrScanAborted when
// the target could not be scanned at all. A scan whose budget ran out
// before any probe completed is not an error; its Result has no hits.
func (s *UniScan) Execute(ctx context.Context) (*Result, error) {
	if err := s.transition(StateRunning); err != nil {
		return nil, err
	}
	task := s.task
	res := &Result{
		ID:      uuid.NewString(),
		URL:     task.URL,
		Addr:    task.Addr,
		Started: time.Now(),
	}

	scanCtx, cancelBudget := context.WithTimeout(ctx, task.ScanTime)
	defer cancelBudget()

	if task.Addr == "" && s.resolver != nil {
		host := netutil.Hostname(task.URL)
		addrs, err := s.resolver.LookupHost(scanCtx, host)
		if err != nil {
			return s.abort(res, fmt.Errorf("resolving %s: %w", host, err))
		}
		if len(addrs) == 0 {
			return s.abort(res, fmt.Errorf("resolving %s: no addresses", host))
		}
		task.Addr = addrs[0]
		res.Addr = addrs[0]
	}

	if s.observer != nil {
		s.observer.ScanStarted(task.Addr)
	}
	s.log.Info("scan started",
		zap.String("addr", task.Addr),
		zap.Duration("scan_time", task.ScanTime),
		zap.Int("parallelism", task.Parallelism))

	stopCtx, stop := context.WithCancelCause(scanCtx)
	defer stop(nil)

	outcomes := make(chan outcome, task.Parallelism)
	g, gctx := errgroup.WithContext(stopCtx)
	for i := 0; i < task.Parallelism; i++ {
		g.Go(func() error {
			s.work(gctx, outcomes)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(outcomes)
	}()

	var (
		decided     State
		cause       error
		sinceNew    int // successful probes since the last new clue
		consecutive int // failed probes in a row
		lastErr     error
	)
	for o := range outcomes {
		res.Probes++

		if o.err != nil {
			res.Failures++
			consecutive++
			lastErr = o.err
			if s.observer != nil {
				s.observer.ProbeFailed()
			}
			s.log.Debug("probe failed", zap.Stringer("kind", probe.KindOf(o.err)), zap.Error(o.err))
			if decided != 0 || res.Hits > 0 {
				continue
			}
			switch {
			case probe.KindOf(o.err) == probe.KindResolve:
				decided, cause = StateFailed, o.err
			case task.MaxFailures > 0 && consecutive >= task.MaxFailures:
				decided, cause = StateFailed, fmt.Errorf("%d consecutive probes failed, last: %w", consecutive, o.err)
			}
			if decided != 0 {
				stop(errFailed)
			}
			continue
		}
		consecutive = 0

		c := task.Policy.NewClue(o.resp)
		merged, err := task.Store.Insert(c)
		if err != nil {
			s.log.Error("dropping clue", zap.Error(err))
			continue
		}
		res.Hits++
		if s.observer != nil {
			s.observer.ProbeSucceeded(!merged)
		}
		if merged {
			sinceNew++
		} else {
			sinceNew = 0
			lvl := zap.DebugLevel
			if task.Verbose {
				lvl = zap.InfoLevel
			}
			if ce := s.log.Check(lvl, "new clue"); ce != nil {
				ce.Write(
					zap.String("digest", c.Digest),
					zap.String("server", c.Server),
					zap.Int("distinct", task.Store.Size()))
			}
		}

		if decided == 0 && task.ConvergeAfter > 0 && sinceNew >= task.ConvergeAfter {
			decided = StateConverged
			stop(errConverged)
		}
	}

	res.Elapsed = time.Since(res.Started)
	if decided == 0 {
		decided = StateTimedOut
		if ctx.Err() != nil {
			s.log.Warn("scan interrupted, analyzing what was gathered", zap.Error(ctx.Err()))
		}
	}
	if decided != StateFailed && res.Hits == 0 && res.Failures > 0 {
		decided, cause = StateFailed, fmt.Errorf("all %d probes failed, last: %w", res.Failures, lastErr)
	}
	if decided == StateFailed {
		return s.abort(res, cause)
	}

	if err := s.transition(decided); err != nil {
		return nil, err
	}
	res.Outcome = decided
	res.Clues = task.Store.Freeze()
	if err := s.transition(StateDone); err != nil {
		return nil, err
	}

	s.log.Info("scan finished",
		zap.Stringer("outcome", decided),
		zap.Int("hits", res.Hits),
		zap.Int("failures", res.Failures),
		zap.Int("clues", len(res.Clues)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (s *UniScan) abort(res *Result, cause error) (*Result, error) {
	res.Outcome = StateFailed
	res.Elapsed = time.Since(res.Started)
	s.task.Store.Freeze()
	if err := s.transition(StateFailed); err != nil {
		return nil, err
	}
	s.log.Error("scan aborted", zap.Error(cause))
	return res, fmt.Errorf("%w: %w", ErrScanAborted, cause)
}

// work probes until ctx is done. Responses that complete after ctx is
// cancelled are still delivered; failures caused by the cancellation are
// not.
func (s *UniScan) work(ctx context.Context, out chan<- outcome) {
	for ctx.Err() == nil {
		if d := s.throttler.Delay(); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}

		resp, err := s.probeOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.throttler.RecordError()
		} else {
			s.throttler.RecordStatus(statusCode(resp.StatusLine))
		}
		out <- outcome{resp: resp, err: err}
	}
}

// probeOnce runs one probe bounded by the task's probe timeout. A probe
// that overruns is abandoned: its goroutine finishes on its own and the
// result is discarded.
func (s *UniScan) probeOnce(ctx context.Context) (*probe.RawResponse, error) {
	pctx, cancel := context.WithTimeout(ctx, s.task.ProbeTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		resp, err := s.prober.Probe(pctx, s.task.URL, s.task.Addr)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		return o.resp, o.err
	case <-pctx.Done():
		select {
		case o := <-done:
			return o.resp, o.err
		default:
		}
		return nil, &probe.Error{Kind: probe.KindTimeout, Err: pctx.Err()}
	}
}
