package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/internal/logging"
	"logistics/pkg/domain"
)

// ReportSource fetches a project report as a renamed, sorted table.
type ReportSource interface {
	FetchReport(ctx context.Context, p config.Project, reportID string) (domain.Table, error)
}

// Recorder receives per-project outcomes. It is satisfied by metrics.Recorder.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	Orders(project, kind string, n int)
}

type nopRecorder struct{}

func (nopRecorder) Observe(context.Context, string, bool, time.Duration) {}
func (nopRecorder) Orders(string, string, int)                           {}

// ProjectResult is the outcome of one project's pass.
type ProjectResult struct {
	Project string
	Orders  []domain.Order
	Err     error
}

// Result collects every project's outcome in configuration order.
type Result struct {
	Projects []ProjectResult
}

// Orders returns the combined orders of all successful projects.
func (r Result) Orders() []domain.Order {
	var out []domain.Order
	for _, p := range r.Projects {
		out = append(out, p.Orders...)
	}
	return out
}

// Failed lists projects whose pass returned an error.
func (r Result) Failed() []string {
	var out []string
	for _, p := range r.Projects {
		if p.Err != nil {
			out = append(out, p.Project)
		}
	}
	return out
}

// Engine runs each project's strategy over its report. Projects are processed
// sequentially and a failure in one does not stop the others.
type Engine struct {
	source   ReportSource
	registry *Registry
	recorder Recorder
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEngine wires a report source to a strategy registry. A nil registry uses
// the built-in strategies.
func NewEngine(source ReportSource, registry *Registry, logger *zap.Logger, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	e := &Engine{
		source:   source,
		registry: registry,
		recorder: nopRecorder{},
		logger:   logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes projects in order. Invalid projects are reported as failed
// with their configuration error and are never fetched.
func (e *Engine) Run(ctx context.Context, projects []config.Project, invalid map[string]error) Result {
	var res Result
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			res.Projects = append(res.Projects, ProjectResult{Project: p.Name, Err: err})
			continue
		}
		orders, err := e.RunProject(ctx, p)
		res.Projects = append(res.Projects, ProjectResult{Project: p.Name, Orders: orders, Err: err})
	}
	names := make([]string, 0, len(invalid))
	for name := range invalid {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err := invalid[name]
		e.logger.Error("skipping project", zap.String("project", name), zap.Error(err))
		res.Projects = append(res.Projects, ProjectResult{Project: name, Err: err})
	}
	return res
}

// RunProject fetches and filters one project's orders. Errors are logged at
// this boundary and returned; they never carry partial orders.
func (e *Engine) RunProject(ctx context.Context, p config.Project) (orders []domain.Order, err error) {
	logger := e.logger.With(zap.String("project", p.Name))
	start := time.Now()
	defer func() {
		e.recorder.Observe(ctx, "orders."+p.Name, err == nil, time.Since(start))
		if err != nil {
			logger.Error("failed to generate orders", zap.Error(err))
			orders = nil
			return
		}
		e.recorder.Orders(p.Name, "delivery", len(orders))
		logger.Info("generated orders", zap.Int("orders", len(orders)))
	}()

	strategy, err := e.registry.Strategy(p, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrProjectConfig, err)
	}
	table, err := e.source.FetchReport(ctx, p, p.ReportID)
	if err != nil {
		return nil, fmt.Errorf("fetch report %s: %w", p.ReportID, err)
	}
	if table.Len() == 0 {
		logger.Info("report is empty")
		return nil, nil
	}
	orders, err = strategy.FilterOrders(ctx, table)
	if err != nil {
		if errors.Is(err, ErrDataShape) {
			logger.Warn("order data rejected", zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("filter orders: %w", err)
	}
	return orders, nil
}
