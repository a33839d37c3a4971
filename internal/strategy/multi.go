package strategy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/maxvaer/lbscan/internal/netutil"
	"github.com/maxvaer/lbscan/internal/probe"
)

// MultiScan resolves every address of the target host and runs one UniScan
// per address, one after the other. Load balancing done through DNS shows
// up as several addresses; balancing behind each address shows up in that
// address's result.
type MultiScan struct {
	task     *Task
	prober   probe.Prober
	resolver Resolver
	observer Observer
	log      *zap.Logger
}

// NewMultiScan prepares a scan of every address of task.URL's host.
func NewMultiScan(task *Task, prober probe.Prober, resolver Resolver, log *zap.Logger) *MultiScan {
	return &MultiScan{task: task, prober: prober, resolver: resolver, log: log}
}

// SetObserver registers o for the probe events of every address scan.
func (m *MultiScan) SetObserver(o Observer) {
	m.observer = o
}

// Execute returns one result per address that could be scanned. It fails
// only when resolution fails or when every address scan was aborted.
func (m *MultiScan) Execute(ctx context.Context) ([]*Result, error) {
	host := netutil.Hostname(m.task.URL)
	addrs, err := m.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %w", ErrScanAborted, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: resolving %s: no addresses", ErrScanAborted, host)
	}
	m.log.Info("resolved target", zap.String("host", host), zap.Strings("addrs", addrs))

	var (
		results []*Result
		errs    []error
	)
	for _, addr := range addrs {
		if ctx.Err() != nil {
			break
		}
		uni := NewUniScan(m.task.ForAddr(addr), m.prober, nil, m.log)
		uni.SetObserver(m.observer)
		res, err := uni.Execute(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		results = append(results, res)
	}

	if len(results) == 0 {
		if len(errs) == 0 {
			return nil, fmt.Errorf("%w: %w", ErrScanAborted, ctx.Err())
		}
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		m.log.Error("address scan failed", zap.Error(err))
	}
	return results, nil
}
