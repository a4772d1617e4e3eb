package scheduler

import (
	"context"
	"time"

	"github.com/Aidin1998/finsync/internal/cache"
)

// Runner adapts the scheduler to cache.Runner so query refetches share the
// scheduler's concurrency and rate limits. Refetches never use the result
// cache.
func (s *Scheduler) Runner(priority Priority, maxRetries int, timeout time.Duration) cache.Runner {
	return cache.RunnerFunc(func(ctx context.Context, _ string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
		f, err := s.Submit(ctx, Operation(fn), Options{
			Priority:   priority,
			MaxRetries: maxRetries,
			Timeout:    timeout,
		})
		if err != nil {
			return nil, err
		}
		return f.Await(ctx)
	})
}
