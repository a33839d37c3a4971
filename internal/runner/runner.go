package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/maxvaer/lbscan/internal/analysis"
	"github.com/maxvaer/lbscan/internal/clue"
	"github.com/maxvaer/lbscan/internal/cluefile"
	"github.com/maxvaer/lbscan/internal/config"
	"github.com/maxvaer/lbscan/internal/hook"
	"github.com/maxvaer/lbscan/internal/netutil"
	"github.com/maxvaer/lbscan/internal/output"
	"github.com/maxvaer/lbscan/internal/probe"
	"github.com/maxvaer/lbscan/internal/report"
	"github.com/maxvaer/lbscan/internal/strategy"
	"github.com/maxvaer/lbscan/pkg/version"
)

// PluginID identifies lbscan's records in result sinks.
const PluginID = "lbscan"

// ErrInconclusive is returned when no scanned address answered a single
// probe.
var ErrInconclusive = errors.New("no successful probes, result inconclusive")

// Runner executes the scan pipeline: probe, analyze, publish, write.
type Runner struct {
	opts     *config.Options
	log      *zap.Logger
	prober   probe.Prober
	resolver strategy.Resolver
	kb       *report.KnowledgeBase
	hook     *hook.Runner
	closers  []func()
}

// New validates opts and builds a runner whose probes dial through a shared
// caching resolver.
func New(opts *config.Options, log *zap.Logger) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ClueFile != "" {
		return newRunner(opts, log, nil, nil), nil
	}
	res, err := netutil.NewResolver()
	if err != nil {
		return nil, err
	}
	prober := probe.NewHTTPProber(probe.Options{
		UserAgent: opts.UserAgent,
		Headers:   opts.Headers,
		Dial:      res.Dial,
	})
	r := newRunner(opts, log, prober, res)
	r.closers = append(r.closers, res.Close)
	return r, nil
}

func newRunner(opts *config.Options, log *zap.Logger, prober probe.Prober, resolver strategy.Resolver) *Runner {
	r := &Runner{
		opts:     opts,
		log:      log,
		prober:   prober,
		resolver: resolver,
		kb:       report.NewKnowledgeBase(),
	}
	if opts.OnBackendCmd != "" {
		r.hook = hook.NewRunner(opts.OnBackendCmd, log)
	}
	return r
}

// Run builds a Runner for opts, executes it and releases it.
func Run(ctx context.Context, opts *config.Options, log *zap.Logger) error {
	r, err := New(opts, log)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Run(ctx)
}

// KnowledgeBase returns the records published by the last Run.
func (r *Runner) KnowledgeBase() *report.KnowledgeBase {
	return r.kb
}

// Close releases the resolver.
func (r *Runner) Close() {
	for _, c := range r.closers {
		c()
	}
}

// Run scans the target, or analyzes a saved clue file, and writes one
// summary per scanned address.
func (r *Runner) Run(ctx context.Context) error {
	opts := r.opts

	var (
		summaries []report.Summary
		results   []*strategy.Result
		err       error
	)
	if opts.ClueFile != "" {
		s, err := r.analyzeClueFile()
		if err != nil {
			return err
		}
		summaries = []report.Summary{s}
	} else {
		if !opts.Quiet {
			printBanner(opts)
		}
		results, err = r.scan(ctx)
		if err != nil {
			return err
		}
		for _, res := range results {
			summaries = append(summaries, report.Build(res))
		}
	}

	out, err := output.New(opts.OutputFormat, opts.OutputFile, opts.NoColor, opts.Debug)
	if err != nil {
		return fmt.Errorf("creating output writer: %w", err)
	}
	defer out.Close()

	inconclusive := 0
	for _, s := range summaries {
		r.logVerdict(s)
		if s.Verdict == analysis.Inconclusive {
			inconclusive++
		}
		r.publish(s)
		if err := out.WriteSummary(s); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if opts.SaveFile != "" {
		for _, res := range results {
			path := savePath(opts.SaveFile, res.Addr, len(results) > 1)
			if err := cluefile.Save(path, res.URL, res.Addr, ignorePolicy(opts), res.Clues); err != nil {
				return err
			}
			r.log.Info("clues saved", zap.String("file", path), zap.Int("clues", len(res.Clues)))
		}
	}

	if inconclusive == len(summaries) {
		return ErrInconclusive
	}
	return nil
}

func (r *Runner) scan(ctx context.Context) ([]*strategy.Result, error) {
	opts := r.opts
	task := strategy.NewTask(opts)

	progress := output.NewProgress(opts.ScanTime, opts.Quiet)
	progress.Start()
	defer progress.Stop()

	if opts.AllAddrs {
		m := strategy.NewMultiScan(task, r.prober, r.resolver, r.log)
		m.SetObserver(progress)
		return m.Execute(ctx)
	}

	uni := strategy.NewUniScan(task, r.prober, r.resolver, r.log)
	uni.SetObserver(progress)
	res, err := uni.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return []*strategy.Result{res}, nil
}

func (r *Runner) analyzeClueFile() (report.Summary, error) {
	f, err := cluefile.Load(r.opts.ClueFile)
	if err != nil {
		return report.Summary{}, err
	}
	store := f.Store(ignorePolicy(r.opts))
	r.log.Info("analyzing saved clues",
		zap.String("file", r.opts.ClueFile),
		zap.String("url", f.URL),
		zap.Int("saved", len(f.Clues)),
		zap.Int("distinct", store.Size()))
	return report.FromClues(f.URL, f.Addr, store.Freeze()), nil
}

func ignorePolicy(opts *config.Options) clue.Policy {
	return clue.NewPolicy(append(append([]string{}, clue.DefaultIgnored...), opts.IgnoreHeaders...)...)
}

func (r *Runner) logVerdict(s report.Summary) {
	fields := []zap.Field{zap.String("url", s.URL), zap.String("addr", s.Addr)}
	switch s.Verdict {
	case analysis.NoLoadBalancer:
		r.log.Info("no load balancer detected", fields...)
	case analysis.LoadBalanced:
		r.log.Info("load balancer detected", append(fields, zap.Int("servers", s.Backends))...)
	default:
		r.log.Error(ErrInconclusive.Error(), append(fields, zap.Int("failures", s.Failures))...)
	}
}

// publish hands the backends of s to the knowledge base and the hook.
// Sink failures are logged, never fatal.
func (r *Runner) publish(s report.Summary) {
	if err := report.Publish(r.kb, PluginID, s); err != nil {
		r.log.Warn("storing records failed", zap.Error(err))
	}
	if r.hook != nil {
		if err := report.Publish(r.hook.Bind(s.URL, s.Addr), PluginID, s); err != nil {
			r.log.Warn("backend hook failed", zap.Error(err))
		}
	}
}

// savePath returns path unchanged for single-address scans and inserts the
// address before the extension otherwise.
func savePath(path, addr string, multi bool) string {
	if !multi || addr == "" {
		return path
	}
	ext := filepath.Ext(path)
	safe := strings.NewReplacer(":", "_", "/", "_").Replace(addr)
	return strings.TrimSuffix(path, ext) + "." + safe + ext
}

func printBanner(opts *config.Options) {
	const (
		cyan   = "\033[36m"
		white  = "\033[97m"
		dim    = "\033[2m"
		yellow = "\033[33m"
		reset  = "\033[0m"
	)

	c, w, d, y, rs := cyan, white, dim, yellow, reset
	if opts.NoColor {
		c, w, d, y, rs = "", "", "", "", ""
	}

	fmt.Fprintf(os.Stderr, "\n%s  lbscan%s %sv%s%s\n", c, rs, d, version.Version, rs)
	fmt.Fprintf(os.Stderr, "%s  HTTP load balancer detector%s\n", w, rs)

	fmt.Fprintf(os.Stderr, "%s  ──────────────────────────────────────%s\n", d, rs)
	fmt.Fprintf(os.Stderr, "  %sTarget:%s       %s%s%s\n", d, rs, w, opts.URL, rs)
	switch {
	case opts.Addr != "":
		fmt.Fprintf(os.Stderr, "  %sAddress:%s      %s%s%s\n", d, rs, w, opts.Addr, rs)
	case opts.AllAddrs:
		fmt.Fprintf(os.Stderr, "  %sAddress:%s      %sall resolved%s\n", d, rs, w, rs)
	}
	fmt.Fprintf(os.Stderr, "  %sScan time:%s    %s%s%s\n", d, rs, y, opts.ScanTime, rs)
	fmt.Fprintf(os.Stderr, "  %sParallelism:%s  %s%d%s\n", d, rs, y, opts.Parallelism, rs)
	if len(opts.IgnoreHeaders) > 0 {
		fmt.Fprintf(os.Stderr, "  %sIgnoring:%s     %s%s%s\n", d, rs, w, strings.Join(opts.IgnoreHeaders, ", "), rs)
	}
	fmt.Fprintf(os.Stderr, "%s  ──────────────────────────────────────%s\n\n", d, rs)
}
