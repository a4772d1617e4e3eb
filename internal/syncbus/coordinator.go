package syncbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const meterName = "github.com/Aidin1998/finsync/internal/syncbus"

// DefaultEscalationThreshold is the batch size above which a batch
// invalidates every group.
const DefaultEscalationThreshold = 5

// Store is the query cache the coordinator drives.
type Store interface {
	Invalidate(ctx context.Context, group string) error
	Refetch(ctx context.Context, group string) error
}

type CoordinatorOption func(*Coordinator)

func WithEscalationThreshold(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.threshold = n
		}
	}
}

func WithCoordinatorLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

func WithCoordinatorClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

func WithMeterProvider(mp metric.MeterProvider) CoordinatorOption {
	return func(c *Coordinator) { c.meter = mp.Meter(meterName) }
}

// Coordinator translates event batches into invalidations and refetches
// using a dependency Graph. It is the bus's BatchHandler.
type Coordinator struct {
	store     Store
	graph     *Graph
	threshold int
	clock     clockwork.Clock
	logger    *zap.Logger
	meter     metric.Meter

	invalidations metric.Int64Counter
	refetches     metric.Int64Counter
	escalations   metric.Int64Counter
	failures      metric.Int64Counter
	passDuration  metric.Float64Histogram
}

// NewCoordinator creates a coordinator over store. A nil graph uses
// DefaultGraph.
func NewCoordinator(store Store, graph *Graph, opts ...CoordinatorOption) (*Coordinator, error) {
	if graph == nil {
		graph = DefaultGraph()
	}
	c := &Coordinator{
		store:     store,
		graph:     graph,
		threshold: DefaultEscalationThreshold,
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.meter == nil {
		c.meter = otel.Meter(meterName)
	}
	c.logger = c.logger.Named("coordinator")

	var err error
	if c.invalidations, err = c.meter.Int64Counter("finsync.sync.invalidations",
		metric.WithDescription("Resource groups invalidated")); err != nil {
		return nil, fmt.Errorf("create invalidations counter: %w", err)
	}
	if c.refetches, err = c.meter.Int64Counter("finsync.sync.refetches",
		metric.WithDescription("Critical resource groups refetched")); err != nil {
		return nil, fmt.Errorf("create refetches counter: %w", err)
	}
	if c.escalations, err = c.meter.Int64Counter("finsync.sync.escalations",
		metric.WithDescription("Batches escalated to a full invalidation")); err != nil {
		return nil, fmt.Errorf("create escalations counter: %w", err)
	}
	if c.failures, err = c.meter.Int64Counter("finsync.sync.failures",
		metric.WithDescription("Invalidations or refetches that failed")); err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}
	if c.passDuration, err = c.meter.Float64Histogram("finsync.sync.pass.duration",
		metric.WithDescription("Coordinator pass duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create pass duration histogram: %w", err)
	}
	return c, nil
}

func (c *Coordinator) Graph() *Graph { return c.graph }

// pass tracks what one drain pass has already done.
type pass struct {
	invalidated map[string]struct{}
	refetch     []string
	queued      map[string]struct{}
}

func newPass() *pass {
	return &pass{invalidated: make(map[string]struct{}), queued: make(map[string]struct{})}
}

// HandleBatches invalidates the groups each batch affects, once per pass,
// then refetches the affected critical groups. Failures are logged and
// skipped.
func (c *Coordinator) HandleBatches(ctx context.Context, batches []EventBatch) {
	start := c.clock.Now()
	p := newPass()
	for _, batch := range batches {
		groups := c.resolve(ctx, batch)
		c.invalidate(ctx, p, groups)
	}
	c.refetchCritical(ctx, p.refetch)
	c.passDuration.Record(ctx, c.clock.Since(start).Seconds())
}

// resolve returns the groups a batch affects, escalating to every known
// group for large batches and unknown entity types.
func (c *Coordinator) resolve(ctx context.Context, batch EventBatch) []string {
	reason := ""
	groups, known := c.graph.Groups(batch.Type)
	switch {
	case !known:
		reason = "unknown_entity"
	case len(batch.Events) > c.threshold:
		reason = "batch_size"
	}
	if reason == "" {
		return groups
	}

	c.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	c.logger.Info("escalating batch to full invalidation",
		zap.String("type", string(batch.Type)),
		zap.String("action", string(batch.Action)),
		zap.Int("events", len(batch.Events)),
		zap.String("reason", reason))
	return c.graph.All()
}

func (c *Coordinator) invalidate(ctx context.Context, p *pass, groups []string) {
	for _, g := range groups {
		if _, done := p.invalidated[g]; done {
			continue
		}
		p.invalidated[g] = struct{}{}

		if err := c.store.Invalidate(ctx, g); err != nil {
			c.fail(ctx, "invalidate", g, err)
			continue
		}
		c.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("group", g)))

		if c.graph.IsCritical(g) {
			if _, queued := p.queued[g]; !queued {
				p.queued[g] = struct{}{}
				p.refetch = append(p.refetch, g)
			}
		}
	}
}

// refetchCritical refetches groups concurrently and reports failures.
func (c *Coordinator) refetchCritical(ctx context.Context, groups []string) error {
	var eg errgroup.Group
	errs := make([]error, len(groups))
	for i, g := range groups {
		i, g := i, g
		eg.Go(func() error {
			if err := c.store.Refetch(ctx, g); err != nil {
				c.fail(ctx, "refetch", g, err)
				errs[i] = fmt.Errorf("refetch %s: %w", g, err)
				return nil
			}
			c.refetches.Add(ctx, 1, metric.WithAttributes(attribute.String("group", g)))
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

func (c *Coordinator) fail(ctx context.Context, op, group string, err error) {
	c.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("group", group)))
	c.logger.Warn("sync step failed, continuing",
		zap.String("op", op),
		zap.String("group", group),
		zap.Error(err))
}

// FullSync invalidates every known group and refetches the critical subset.
// Unlike a pass it reports what failed.
func (c *Coordinator) FullSync(ctx context.Context) error {
	var errs []error
	for _, g := range c.graph.All() {
		if err := c.store.Invalidate(ctx, g); err != nil {
			c.fail(ctx, "invalidate", g, err)
			errs = append(errs, fmt.Errorf("invalidate %s: %w", g, err))
			continue
		}
		c.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("group", g)))
	}
	if err := c.refetchCritical(ctx, c.graph.Critical()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
