// README: Dispatch scheduler: periodic single-flight scan that feeds pending bookings to Assign.
package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"fleetdispatch/internal/logger"
	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/tenant"
)

var ErrTickInProgress = errors.New("scheduler tick already running")

// TickReport summarizes one tick.
type TickReport struct {
	Expired    int
	Considered int
	Assigned   int
	NoDrivers  int
	StopSell   int
	BelowFare  int
	Failed     int
}

type Scheduler struct {
	svc      *Service
	interval time.Duration
	lease    Lease
	log      logger.Logger
	running  atomic.Bool
}

// NewScheduler returns a scheduler ticking every interval. lease may be nil.
func NewScheduler(svc *Service, interval time.Duration, lease Lease, log logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Scheduler{svc: svc, interval: interval, lease: lease, log: log}
}

// Run ticks until ctx is done. Ticks run on the calling goroutine, so ticker
// fires during a slow tick are dropped and Run returns only after the tick
// in flight has finished.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Infof("dispatch scheduler started, interval %s", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Infof("dispatch scheduler stopped")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	rep, err := s.Tick(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		s.log.Warnf("previous dispatch tick still running, skipping")
	case err != nil:
		s.log.Errorf("dispatch tick: %v", err)
	case rep.Considered > 0 || rep.Expired > 0:
		s.log.Infof("dispatch tick: considered=%d assigned=%d no_drivers=%d stop_sell=%d below_fare=%d failed=%d expired=%d",
			rep.Considered, rep.Assigned, rep.NoDrivers, rep.StopSell, rep.BelowFare, rep.Failed, rep.Expired)
	}
}

// Tick runs one scan. It returns ErrTickInProgress when another tick holds
// the single-flight guard and a zero report when another instance holds the
// lease.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.svc.metrics.tick("skipped", -1)
		return TickReport{}, ErrTickInProgress
	}
	defer s.running.Store(false)

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			s.svc.metrics.tick("error", -1)
			return TickReport{}, err
		}
		if !ok {
			s.svc.metrics.tick("not_leader", -1)
			return TickReport{}, nil
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warnf("release scheduler lease: %v", err)
			}
		}()
	}

	start := time.Now()
	rep, err := s.scan(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.svc.metrics.tick(result, time.Since(start).Seconds())
	return rep, err
}

func (s *Scheduler) scan(ctx context.Context) (TickReport, error) {
	svc := s.svc
	var rep TickReport

	expired, err := svc.ExpireOffers(ctx)
	rep.Expired = expired
	if err != nil {
		s.log.Errorf("offer expiry sweep: %v", err)
	}

	now := svc.now()
	bookings, err := svc.repo.ListDispatchable(ctx, bookingQuery(now, svc.cfg))
	if err != nil {
		return rep, err
	}
	settings := tenant.NewMemo(svc.settings)
	for _, b := range bookings {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Considered++
		// The store filters on persisted settings; the provider may be a
		// cache that has seen a newer change.
		st, err := settings.Settings(ctx, b.TenantID)
		if err != nil {
			rep.Failed++
			s.log.Errorf("tenant settings for booking %s: %v", b.ID, err)
			continue
		}
		if st.StopSell {
			rep.StopSell++
			continue
		}
		if b.FareEstimate != nil && !b.FareEstimate.AtLeast(st.AutoAssignMinFare) {
			rep.BelowFare++
			continue
		}
		res, err := svc.Assign(ctx, b.ID)
		if err != nil {
			rep.Failed++
			s.log.Warnf("assign booking %s: %v", b.ID, err)
			continue
		}
		switch res.Outcome {
		case OutcomeAssigned:
			rep.Assigned++
		case OutcomeNoEligibleDrivers:
			rep.NoDrivers++
		}
	}
	return rep, nil
}

func bookingQuery(now time.Time, cfg Config) booking.DispatchQuery {
	return booking.DispatchQuery{
		After:        now,
		Until:        now.Add(cfg.Horizon),
		CascadeLimit: cfg.CascadeLimit,
		Limit:        cfg.BatchSize,
	}
}
