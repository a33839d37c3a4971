package strategy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/maxvaer/lbscan/internal/analysis"
	"github.com/maxvaer/lbscan/internal/clue"
	"github.com/maxvaer/lbscan/internal/probe"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProber serves up to limit responses built by respond, then blocks
// until the probe context ends. limit <= 0 means unlimited.
type fakeProber struct {
	respond func(i int) (*probe.RawResponse, error)
	limit   int64
	delay   time.Duration

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64

	mu    sync.Mutex
	addrs []string
}

func (f *fakeProber) Probe(ctx context.Context, target, addr string) (*probe.RawResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	f.mu.Lock()
	f.addrs = append(f.addrs, addr)
	f.mu.Unlock()

	i := f.calls.Add(1) - 1
	if f.limit > 0 && i >= f.limit {
		<-ctx.Done()
		return nil, &probe.Error{Kind: probe.KindTimeout, Err: ctx.Err()}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &probe.Error{Kind: probe.KindTimeout, Err: ctx.Err()}
		}
	}
	return f.respond(int(i))
}

func response(headers ...string) *probe.RawResponse {
	raw := &probe.RawResponse{StatusLine: "HTTP/1.1 200 OK", Received: time.Now()}
	for i := 0; i+1 < len(headers); i += 2 {
		raw.Headers = append(raw.Headers, probe.Header{Name: headers[i], Value: headers[i+1]})
	}
	return raw
}

func testTask(scanTime time.Duration) *Task {
	return &Task{
		URL:          "http://lb.example.test/",
		Addr:         "192.0.2.1",
		ScanTime:     scanTime,
		Parallelism:  4,
		ProbeTimeout: 10 * time.Second,
		Policy:       clue.DefaultPolicy(),
		Store:        clue.NewStore(),
	}
}

func TestUniScan_SingleBackend(t *testing.T) {
	fp := &fakeProber{limit: 10, respond: func(i int) (*probe.RawResponse, error) {
		date := time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC).Format(time.RFC1123)
		return response("Server", "nginx", "Date", date, "X-Powered-By", "PHP"), nil
	}}
	task := testTask(300 * time.Millisecond)

	res, err := NewUniScan(task, fp, nil, zap.NewNop()).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Clues) != 1 {
		t.Fatalf("distinct clues = %d, want 1", len(res.Clues))
	}
	if res.Hits != 10 || res.Clues[0].Count != 10 {
		t.Errorf("hits = %d, count = %d, want 10", res.Hits, res.Clues[0].Count)
	}
	if res.Outcome != StateTimedOut {
		t.Errorf("outcome = %s, want timed-out", res.Outcome)
	}
	if res.Failures != 0 {
		t.Errorf("failures = %d; probes cut off by the budget must not count", res.Failures)
	}
	if got := analysis.Classify(res.Clues); got != analysis.NoLoadBalancer {
		t.Errorf("verdict = %s, want no-load-balancer", got)
	}
}

func TestUniScan_TwoBackendsAlternating(t *testing.T) {
	fp := &fakeProber{limit: 10, respond: func(i int) (*probe.RawResponse, error) {
		if i%2 == 0 {
			return response("Server", "Apache", "X-Node", "a"), nil
		}
		return response("Server", "Apache", "X-Node", "b"), nil
	}}
	task := testTask(300 * time.Millisecond)

	res, err := NewUniScan(task, fp, nil, zap.NewNop()).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Clues) != 2 {
		t.Fatalf("distinct clues = %d, want 2", len(res.Clues))
	}
	for _, c := range res.Clues {
		if c.Count != 5 {
			t.Errorf("clue %s count = %d, want 5", c.Digest, c.Count)
		}
		if p := analysis.Percent(c, analysis.Hits(res.Clues)); p != 50 {
			t.Errorf("percent = %v, want 50", p)
		}
	}
	if got := analysis.Classify(res.Clues); got != analysis.LoadBalanced {
		t.Errorf("verdict = %s, want load-balanced", got)
	}
}

func TestUniScan_BudgetExpiresBeforeAnyProbe(t *testing.T) {
	fp := &fakeProber{limit: -1, delay: time.Hour, respond: func(int) (*probe.RawResponse, error) {
		return response("Server", "x"), nil
	}}
	task := testTask(100 * time.Millisecond)

	res, err := NewUniScan(task, fp, nil, zap.NewNop()).Execute(context.Background())
	if err != nil {
		t.Fatalf("expected inconclusive result, got error %v", err)
	}
	if res.Hits != 0 || len(res.Clues) != 0 {
		t.Errorf("hits = %d, clues = %d, want none", res.Hits, len(res.Clues))
	}
	if got := analysis.Classify(res.Clues); got != analysis.Inconclusive {
		t.Errorf("verdict = %s, want inconclusive", got)
	}
}

func TestUniScan_Converges(t *testing.T) {
	fp := &fakeProber{respond: func(int) (*probe.RawResponse, error) {
		return response("Server", "nginx"), nil
	}}
	task := testTask(30 * time.Second)
	task.ConvergeAfter = 5

	start := time.Now()
	res, err := NewUniScan(task, fp, nil, zap.NewNop()).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != StateConverged {
		t.Errorf("outcome = %s, want converged", res.Outcome)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("convergence did not stop the scan early (%s)", time.Since(start))
	}
	if res.Hits < 6 {
		t.Errorf("hits = %d, want at least 6", res.Hits)
	}
}

func TestUniScan_AllProbesFail(t *testing.T) {
	refused := &probe.Error{Kind: probe.KindConnectionRefused, Err: errors.New("connection refused")}
	fp := &fakeProber{respond: func(int) (*probe.RawResponse, error) { return nil, refused }}

	tests := []struct {
		name        string
		maxFailures int
		scanTime    time.Duration
	}{
		{name: "max failures reached", maxFailures: 3, scanTime: 30 * time.Second},
		{name: "budget ends with only failures", maxFailures: 0, scanTime: 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := testTask(tt.scanTime)
			task.MaxFailures = tt.maxFailures

			scan := NewUniScan(task, fp, nil, zap.NewNop())
			res, err := scan.Execute(context.Background())
			if !errors.Is(err, ErrScanAborted) {
				t.Fatalf("err = %v, want ErrScanAborted", err)
			}
			if !errors.Is(err, refused) {
				t.Errorf("err = %v, should keep the probe error as cause", err)
			}
			if res.Outcome != StateFailed || scan.State() != StateFailed {
				t.Errorf("outcome = %s, state = %s, want failed", res.Outcome, scan.State())
			}
			if len(res.Clues) != 0 {
				t.Error("failed scans carry no clues")
			}
		})
	}
}

func TestUniScan_ResolveErrorIsFatal(t *testing.T) {
	dnsErr := &probe.Error{Kind: probe.KindResolve, Err: &net.DNSError{Err: "no such host", Name: "lb.example.test"}}
	fp := &fakeProber{respond: func(int) (*probe.RawResponse, error) { return nil, dnsErr }}
	task := testTask(30 * time.Second)

	start := time.Now()
	_, err := NewUniScan(task, fp, nil, zap.NewNop()).Execute(context.Background())
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("err = %v, want ErrScanAborted", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("resolution failure should abort immediately")
	}
}

func TestUniScan_FailuresAfterHitsDoNotAbort(t *testing.T) {
	refused := &probe.Error{Kind: probe.KindConnectionRefused, Err: errors.New("refused")}
	fp := &fakeProber{respond: func(i int) (*probe.RawResponse, error) {
		if i == 0 {
			return response("Server", "nginx"), nil
		}
		return nil, refused
	}}
	task := testTask(200 * time.Millisecond)
	task.Parallelism = 1
	task.MaxFailures = 2

	res, err := NewUniScan(task, fp, nil, zap.NewNop()).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Hits != 1 || res.Failures < 2 {
		t.Errorf("hits = %d, failures = %d", res.Hits, res.Failures)
	}
}

func TestUniScan_RespectsParallelism(t *testing.T) {
	fp := &fakeProber{delay: 5 * time.Millisecond, respond: func(int) (*probe.RawResponse, error) {
		return response("Server", "nginx"), nil
	}}
	task := testTask(150 * time.Millisecond)
	task.Parallelism = 3

	if _, err := NewUniScan(task, fp, nil, zap.NewNop()).Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := fp.maxSeen.Load(); got > 3 {
		t.Errorf("max in-flight probes = %d, want <= 3", got)
	}
}

// stubbornProber ignores its context until release is closed.
type stubbornProber struct {
	release chan struct{}
}

func (s *stubbornProber) Probe(ctx context.Context, target, addr string) (*probe.RawResponse, error) {
	<-s.release
	return nil, errors.New("released")
}

func TestUniScan_AbandonsHungProbes(t *testing.T) {
	sp := &stubbornProber{release: make(chan struct{})}
	defer close(sp.release)

	task := testTask(200 * time.Millisecond)
	task.ProbeTimeout = 50 * time.Millisecond
	task.Parallelism = 2

	start := time.Now()
	res, err := NewUniScan(task, sp, nil, zap.NewNop()).Execute(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("hung probes stalled the scan for %s", elapsed)
	}
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("err = %v, want abort since every probe timed out", err)
	}
	if res.Failures == 0 {
		t.Error("timed out probes should be counted as failures")
	}
}

type fakeResolver struct {
	addrs []string
	err   error
}

func (f fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return f.addrs, f.err
}

func TestUniScan_PinsResolvedAddress(t *testing.T) {
	fp := &fakeProber{limit: 3, respond: func(int) (*probe.RawResponse, error) {
		return response("Server", "nginx"), nil
	}}
	task := testTask(100 * time.Millisecond)
	task.Addr = ""

	res, err := NewUniScan(task, fp, fakeResolver{addrs: []string{"198.51.100.7", "198.51.100.8"}}, zap.NewNop()).
		Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Addr != "198.51.100.7" {
		t.Errorf("Addr = %q, want first resolved address", res.Addr)
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()
	for _, a := range fp.addrs {
		if a != "198.51.100.7" {
			t.Fatalf("probe sent to %q", a)
		}
	}
}

func TestUniScan_ResolverFailure(t *testing.T) {
	task := testTask(time.Second)
	task.Addr = ""
	_, err := NewUniScan(task, &fakeProber{}, fakeResolver{err: errors.New("nxdomain")}, zap.NewNop()).
		Execute(context.Background())
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("err = %v, want ErrScanAborted", err)
	}
}

func TestUniScan_ResolverReturnsNoAddresses(t *testing.T) {
	task := testTask(time.Second)
	task.Addr = ""
	scan := NewUniScan(task, &fakeProber{}, fakeResolver{}, zap.NewNop())

	_, err := scan.Execute(context.Background())
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("err = %v, want ErrScanAborted", err)
	}
	if scan.State() != StateFailed {
		t.Errorf("state = %s, want failed", scan.State())
	}
}

func TestUniScan_ExecuteOnlyOnce(t *testing.T) {
	fp := &fakeProber{limit: 1, respond: func(int) (*probe.RawResponse, error) {
		return response("Server", "nginx"), nil
	}}
	scan := NewUniScan(testTask(50*time.Millisecond), fp, nil, zap.NewNop())
	if _, err := scan.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if scan.State() != StateDone {
		t.Errorf("state = %s, want done", scan.State())
	}
	if _, err := scan.Execute(context.Background()); err == nil {
		t.Error("second Execute should fail")
	}
}

type countingObserver struct {
	ok, fresh, failed atomic.Int64

	mu      sync.Mutex
	started []string
}

func (c *countingObserver) ProbeSucceeded(newClue bool) {
	c.ok.Add(1)
	if newClue {
		c.fresh.Add(1)
	}
}

func (c *countingObserver) ProbeFailed() { c.failed.Add(1) }

func (c *countingObserver) ScanStarted(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, addr)
}

func TestUniScan_NotifiesObserver(t *testing.T) {
	fp := &fakeProber{limit: 4, respond: func(i int) (*probe.RawResponse, error) {
		return response("X-Node", fmt.Sprint(i%2)), nil
	}}
	obs := &countingObserver{}
	scan := NewUniScan(testTask(100*time.Millisecond), fp, nil, zap.NewNop())
	scan.SetObserver(obs)
	if _, err := scan.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if obs.ok.Load() != 4 || obs.fresh.Load() != 2 {
		t.Errorf("observer saw ok=%d fresh=%d, want 4 and 2", obs.ok.Load(), obs.fresh.Load())
	}
	if diff := cmp.Diff([]string{"192.0.2.1"}, obs.started); diff != "" {
		t.Errorf("scan starts mismatch (-want +got):\n%s", diff)
	}
}

func TestMultiScan_ScansEveryAddress(t *testing.T) {
	fp := &fakeProber{respond: func(int) (*probe.RawResponse, error) {
		return response("Server", "nginx"), nil
	}}
	task := testTask(100 * time.Millisecond)
	task.Addr = ""
	task.ConvergeAfter = 3

	obs := &countingObserver{}
	multi := NewMultiScan(task, fp, fakeResolver{addrs: []string{"192.0.2.1", "192.0.2.2"}}, zap.NewNop())
	multi.SetObserver(obs)
	results, err := multi.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"192.0.2.1", "192.0.2.2"}, obs.started); diff != "" {
		t.Errorf("scan starts mismatch (-want +got):\n%s", diff)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Addr != "192.0.2.1" || results[1].Addr != "192.0.2.2" {
		t.Errorf("addrs = %s, %s", results[0].Addr, results[1].Addr)
	}
	if results[0].ID == results[1].ID {
		t.Error("each address scan needs its own ID")
	}
}

func TestMultiScan_ResolveFailure(t *testing.T) {
	_, err := NewMultiScan(testTask(time.Second), &fakeProber{}, fakeResolver{err: errors.New("nxdomain")}, zap.NewNop()).
		Execute(context.Background())
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("err = %v, want ErrScanAborted", err)
	}
}

func TestMultiScan_NoAddresses(t *testing.T) {
	_, err := NewMultiScan(testTask(time.Second), &fakeProber{}, fakeResolver{}, zap.NewNop()).
		Execute(context.Background())
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("err = %v, want ErrScanAborted", err)
	}
}

func TestCanTransition(t *testing.T) {
	if !canTransition(StateIdle, StateRunning) || !canTransition(StateTimedOut, StateDone) {
		t.Error("expected valid transitions to be allowed")
	}
	if canTransition(StateFailed, StateDone) || canTransition(StateIdle, StateDone) {
		t.Error("failed scans never reach done, and idle scans cannot skip running")
	}
}
