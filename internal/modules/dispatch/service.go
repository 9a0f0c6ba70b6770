// README: Dispatch service wiring: assignment, cascade, expiry and driver availability share these deps.
package dispatch

import (
	"context"
	"time"

	"fleetdispatch/internal/logger"
	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/modules/notify"
	"fleetdispatch/internal/modules/tenant"
	"fleetdispatch/internal/types"
)

const DefaultCascadeLimit = 5

// Outcome is the result of an assignment pass or a declined offer. None of
// these are errors.
type Outcome string

const (
	OutcomeAssigned          Outcome = "assigned"
	OutcomeNoEligibleDrivers Outcome = "no_eligible_drivers"
	OutcomeRequeued          Outcome = "requeued"
	OutcomeCascadeExhausted  Outcome = "cascade_exhausted"
	OutcomeManualRequired    Outcome = "manual_required"
)

type Result struct {
	Outcome   Outcome
	BookingID types.ID
	DriverID  types.ID
	Attempts  int
}

// Eligibility is satisfied by *schedule.Index.
type Eligibility interface {
	Eligible(ctx context.Context, pickupAt time.Time, vehicleType string, tenantID types.ID) ([]driver.Driver, error)
}

type Config struct {
	CascadeLimit   int
	ConflictBuffer time.Duration
	// OfferTimeout of zero leaves offers open until answered.
	OfferTimeout time.Duration
	Horizon      time.Duration
	BatchSize    int
}

func (c *Config) setDefaults() {
	if c.CascadeLimit <= 0 {
		c.CascadeLimit = DefaultCascadeLimit
	}
	if c.ConflictBuffer <= 0 {
		c.ConflictBuffer = DefaultConflictBuffer
	}
	if c.Horizon <= 0 {
		c.Horizon = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
}

type Deps struct {
	Repo     booking.Repository
	Events   booking.EventLog
	Index    Eligibility
	Settings tenant.SettingsProvider
	Notifier notify.Notifier
	Queue    *CascadeQueue
	Metrics  *Metrics
	Log      logger.Logger
	Now      func() time.Time
	Config   Config
}

type Service struct {
	repo      booking.Repository
	events    booking.EventLog
	index     Eligibility
	settings  tenant.SettingsProvider
	notifier  notify.Notifier
	queue     *CascadeQueue
	metrics   *Metrics
	log       logger.Logger
	now       func() time.Time
	cfg       Config
	conflicts ConflictDetector
}

func NewService(d Deps) *Service {
	d.Config.setDefaults()
	s := &Service{
		repo:      d.Repo,
		events:    d.Events,
		index:     d.Index,
		settings:  d.Settings,
		notifier:  d.Notifier,
		queue:     d.Queue,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       d.Now,
		cfg:       d.Config,
		conflicts: ConflictDetector{Buffer: d.Config.ConflictBuffer},
	}
	if s.log == nil {
		s.log = logger.NopLogger{}
	}
	if s.notifier == nil {
		s.notifier = notify.Adapt(notify.Nop{})
	}
	if s.settings == nil {
		s.settings = tenant.Static{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.queue == nil {
		s.queue = NewCascadeQueue(DefaultQueueCapacity, s.log, s.metrics)
	}
	return s
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) Queue() *CascadeQueue { return s.queue }

func (s *Service) record(ctx context.Context, b *booking.Booking, typ booking.EventType, from, to booking.Status, actor booking.Actor, details map[string]any) {
	booking.Record(ctx, s.events, s.log, booking.Event{
		BookingID:  b.ID,
		TenantID:   b.TenantID,
		Type:       typ,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Details:    details,
		CreatedAt:  s.now(),
	})
}

func (s *Service) notifyFailed(ctx context.Context, b *booking.Booking, reason string) {
	if err := s.notifier.NotifyAdminAssignmentFailed(ctx, notify.AssignmentFailed{
		TenantID:  b.TenantID,
		BookingID: b.ID,
		Reason:    reason,
		Attempts:  b.AutoAttempts,
	}); err != nil {
		s.log.Warnf("assignment failed notice for booking %s: %v", b.ID, err)
	}
}

func (s *Service) notifyAssigned(ctx context.Context, b *booking.Booking, a *booking.AssignmentAttempt) {
	if err := s.notifier.NotifyDriverOffer(ctx, notify.Offer{
		TenantID:  b.TenantID,
		BookingID: b.ID,
		DriverID:  a.DriverID,
		PickupAt:  b.PickupAt,
		Pickup:    b.Pickup,
		ExpiresAt: a.ExpiresAt,
		Attempt:   b.AutoAttempts,
	}); err != nil {
		s.log.Warnf("driver offer for booking %s to %s: %v", b.ID, a.DriverID, err)
	}
	if err := s.notifier.NotifyAdminAssignmentSucceeded(ctx, notify.AssignmentSucceeded{
		TenantID:  b.TenantID,
		BookingID: b.ID,
		DriverID:  a.DriverID,
		Method:    string(a.Method),
		Attempt:   b.AutoAttempts,
	}); err != nil {
		s.log.Warnf("assignment notice for booking %s: %v", b.ID, err)
	}
}
