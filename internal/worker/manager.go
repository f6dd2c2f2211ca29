package worker

import (
	"context"
	"errors"
	"time"
)

// Analyzer is the upstream the workers call. *analysis.Service satisfies it.
type Analyzer interface {
	AnalyzeRows(ctx context.Context, rows []map[string]any, query string) (string, error)
	SummarizeRows(ctx context.Context, rows []map[string]any) (string, error)
	SuggestCharts(ctx context.Context, columns []string, sample []map[string]any) (any, error)
}

// ErrDispatcherBusy is returned when the job queue is full. Callers should
// translate it into a retry-later response rather than block.
var ErrDispatcherBusy = errors.New("analysis dispatcher busy")

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

// Manager owns the dispatcher, the worker pool and the result cache, and is
// the only entry point handlers use to run analysis work.
type Manager struct {
	analyzer   Analyzer
	dispatcher *dispatcher
	pool       *jobChannelPool
	cache      *ResultCache
}

func NewManager(analyzer Analyzer, cache *ResultCache, cfg DispatcherConfig) *Manager {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	m := &Manager{analyzer: analyzer, cache: cache}
	m.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, m)
	m.dispatcher = newDispatcher(cfg.QueueSize, m.pool)
	m.dispatcher.Run()
	return m
}

// Ready reports whether an upstream analyzer is configured at all.
func (m *Manager) Ready() bool {
	return m != nil && m.analyzer != nil
}

// Submit runs one analysis request through the cache and the dispatcher,
// blocking until the result arrives or the request context ends.
func (m *Manager) Submit(req Request) (Result, error) {
	if !m.Ready() {
		return Result{}, errors.New("no analyzer configured")
	}
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
		req.Context = ctx
	}

	if cached, ok := m.cache.get(ctx, req); ok {
		return cached, nil
	}

	job := Job{req: req, done: make(chan Result, 1)}
	select {
	case m.dispatcher.jobQueue <- job:
	default:
		return Result{}, ErrDispatcherBusy
	}

	select {
	case res := <-job.done:
		if res.Err != nil {
			return Result{}, res.Err
		}
		m.cache.put(ctx, req, res)
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// InvalidateFile drops every cached result for the file, called on delete.
func (m *Manager) InvalidateFile(ctx context.Context, fileID string) {
	if m == nil {
		return
	}
	m.cache.invalidateFile(ctx, fileID)
}

func (m *Manager) execute(job Job) {
	var res Result
	switch job.req.Kind {
	case JobAnalyze:
		res.Text, res.Err = m.analyzer.AnalyzeRows(job.req.Context, job.req.Rows, job.req.Query)
	case JobSummarize:
		res.Text, res.Err = m.analyzer.SummarizeRows(job.req.Context, job.req.Rows)
	case JobCharts:
		res.Suggestions, res.Err = m.analyzer.SuggestCharts(job.req.Context, job.req.Columns, job.req.Rows)
	default:
		res.Err = errors.New("unknown job kind")
	}
	job.done <- res
}
