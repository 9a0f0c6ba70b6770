// README: Bounded queue of bookings waiting for their next cascade assignment pass.
package dispatch

import (
	"context"

	"fleetdispatch/internal/logger"
	"fleetdispatch/internal/types"
)

const DefaultQueueCapacity = 64

// CascadeQueue decouples the follow-up assignment from the rejection
// transaction. A full queue drops the job; the scheduler still finds the
// booking on its next tick.
type CascadeQueue struct {
	jobs    chan types.ID
	log     logger.Logger
	metrics *Metrics
}

func NewCascadeQueue(capacity int, log logger.Logger, m *Metrics) *CascadeQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &CascadeQueue{jobs: make(chan types.ID, capacity), log: log, metrics: m}
}

// Enqueue never blocks. It reports false when the job was dropped.
func (q *CascadeQueue) Enqueue(bookingID types.ID) bool {
	select {
	case q.jobs <- bookingID:
		return true
	default:
		q.metrics.dropped()
		return false
	}
}

func (q *CascadeQueue) Len() int { return len(q.jobs) }

// Run hands queued bookings to handle one at a time until ctx is done.
func (q *CascadeQueue) Run(ctx context.Context, handle func(context.Context, types.ID)) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			handle(ctx, id)
		}
	}
}

// Drain handles queued jobs on the calling goroutine until the queue is
// empty, including jobs enqueued by handle itself, and returns the count.
func (q *CascadeQueue) Drain(ctx context.Context, handle func(context.Context, types.ID)) int {
	n := 0
	for {
		select {
		case id := <-q.jobs:
			handle(ctx, id)
			n++
		default:
			return n
		}
	}
}

// RunCascades processes the cascade queue until ctx is done.
func (s *Service) RunCascades(ctx context.Context) {
	s.log.Infof("cascade worker started")
	s.queue.Run(ctx, s.cascade)
	s.log.Infof("cascade worker stopped")
}

// DrainCascades runs every queued cascade pass synchronously.
func (s *Service) DrainCascades(ctx context.Context) int {
	return s.queue.Drain(ctx, s.cascade)
}

func (s *Service) cascade(ctx context.Context, bookingID types.ID) {
	res, err := s.Assign(ctx, bookingID)
	if err != nil {
		s.log.Warnf("cascade assignment for booking %s: %v", bookingID, err)
		return
	}
	s.log.Debugw("cascade assignment", map[string]any{
		"booking_id": string(bookingID),
		"outcome":    string(res.Outcome),
		"driver_id":  string(res.DriverID),
		"attempts":   res.Attempts,
	})
}
