package cache

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Warm refetches groups (all registered groups when none are given) with at
// most workers loads in flight. Failures are logged and joined; a failing
// group does not stop the others.
func (q *QueryCache) Warm(ctx context.Context, workers int, groups ...string) error {
	if len(groups) == 0 {
		groups = q.Groups()
	}
	if workers < 1 {
		workers = 1
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(workers)
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			mu.Lock()
			errs = errors.Join(errs, err)
			mu.Unlock()
			break
		}
		group := group
		g.Go(func() error {
			if err := q.Refetch(ctx, group); err != nil {
				q.logger.Warn("cache warming failed", zap.String("group", group), zap.Error(err))
				mu.Lock()
				errs = errors.Join(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	q.logger.Info("cache warming finished", zap.Int("groups", len(groups)), zap.Bool("ok", errs == nil))
	return errs
}
