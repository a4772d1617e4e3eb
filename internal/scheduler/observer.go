package scheduler

import "time"

// Observer receives request lifecycle notifications. Calls are made outside
// the scheduler lock, so observers may call back into the scheduler.
type Observer interface {
	OnQueued(req QueuedRequest)
	OnStarted(req QueuedRequest)
	OnRetry(req QueuedRequest, delay time.Duration, err error)
	OnSucceeded(req QueuedRequest, elapsed time.Duration)
	OnFailed(req QueuedRequest, err error)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) OnQueued(QueuedRequest)                      {}
func (NopObserver) OnStarted(QueuedRequest)                     {}
func (NopObserver) OnRetry(QueuedRequest, time.Duration, error) {}
func (NopObserver) OnSucceeded(QueuedRequest, time.Duration)    {}
func (NopObserver) OnFailed(QueuedRequest, error)               {}
