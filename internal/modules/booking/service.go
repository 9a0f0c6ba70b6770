// README: Booking service implements lifecycle transitions (arrive, start, complete, cancel, no-show, override).
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleetdispatch/internal/logger"
	"fleetdispatch/internal/modules/driver"
	"fleetdispatch/internal/modules/geo"
	"fleetdispatch/internal/modules/notify"
	"fleetdispatch/internal/types"
)

const DefaultTripDuration = 30 * time.Minute

// Actor identifies who performed an operation.
type Actor struct {
	Type ActorType
	ID   *types.ID
}

func SystemActor() Actor { return Actor{Type: ActorSystem} }

func DriverActor(id types.ID) Actor { return Actor{Type: ActorDriver, ID: types.IDPtr(id)} }

func AdminActor(id types.ID) Actor { return Actor{Type: ActorAdmin, ID: types.IDPtr(id)} }

type Deps struct {
	Repo      Repository
	Events    EventLog
	Notifier  notify.Notifier
	Estimator DurationEstimator
	Geo       geo.Policy
	// NoShowMinWait is the minimum time between waiting_started and a
	// no-show request. Zero disables the check.
	NoShowMinWait time.Duration
	Log           logger.Logger
	Now           func() time.Time
}

type Service struct {
	repo          Repository
	events        EventLog
	notifier      notify.Notifier
	estimator     DurationEstimator
	geo           geo.Policy
	noShowMinWait time.Duration
	log           logger.Logger
	now           func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:          d.Repo,
		events:        d.Events,
		notifier:      d.Notifier,
		estimator:     d.Estimator,
		geo:           d.Geo,
		noShowMinWait: d.NoShowMinWait,
		log:           d.Log,
		now:           d.Now,
	}
	if s.notifier == nil {
		s.notifier = notify.Adapt(notify.Nop{})
	}
	if s.log == nil {
		s.log = logger.NopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.geo.RadiusMeters <= 0 || s.geo.AccuracyMeters <= 0 {
		s.geo = geo.DefaultPolicy()
	}
	return s
}

type CreateCommand struct {
	TenantID          types.ID
	PassengerID       types.ID
	Pickup            types.Point
	Dropoff           types.Point
	PickupAt          time.Time
	EstimatedDuration time.Duration
	VehicleType       string
	FareEstimate      *types.Money
	Notes             string
}

type ArriveCommand struct {
	BookingID types.ID
	DriverID  types.ID
	Location  geo.Reading
}

type StartCommand struct {
	BookingID types.ID
	DriverID  types.ID
}

type CompleteCommand struct {
	BookingID types.ID
	DriverID  types.ID
	FareFinal *types.Money
	Notes     string
}

type CancelCommand struct {
	BookingID types.ID
	Actor     Actor
	Reason    string
}

type NoShowCommand struct {
	BookingID   types.ID
	DriverID    types.ID
	EvidenceIDs []string
	Notes       string
}

type ReviewNoShowCommand struct {
	BookingID types.ID
	AdminID   types.ID
	Notes     string
}

type OverrideCommand struct {
	BookingID types.ID
	AdminID   types.ID
	Status    Status
	Reason    string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if cmd.TenantID == "" || strings.TrimSpace(cmd.VehicleType) == "" || cmd.PickupAt.IsZero() {
		return "", fmt.Errorf("%w: tenant, vehicle type and pickup time are required", ErrBadRequest)
	}
	if cmd.EstimatedDuration < 0 {
		return "", fmt.Errorf("%w: negative duration", ErrBadRequest)
	}
	if cmd.FareEstimate != nil && cmd.FareEstimate.Amount < 0 {
		return "", fmt.Errorf("%w: negative fare", ErrBadRequest)
	}
	duration := cmd.EstimatedDuration
	if duration == 0 {
		duration = s.estimate(ctx, cmd.Pickup, cmd.Dropoff)
	}

	now := s.now()
	b := &Booking{
		ID:                types.NewID(),
		TenantID:          cmd.TenantID,
		PassengerID:       types.IDPtr(cmd.PassengerID),
		Status:            StatusPending,
		Pickup:            cmd.Pickup,
		Dropoff:           cmd.Dropoff,
		PickupAt:          cmd.PickupAt,
		EstimatedDuration: duration,
		VehicleType:       strings.TrimSpace(cmd.VehicleType),
		FareEstimate:      cmd.FareEstimate,
		Notes:             cmd.Notes,
		CreatedAt:         now,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return "", err
	}
	actor := SystemActor()
	if b.PassengerID != nil {
		actor = Actor{Type: ActorPassenger, ID: b.PassengerID}
	}
	s.record(ctx, b, EventBookingCreated, StatusNone, StatusPending, actor, map[string]any{
		"pickup_at":    b.PickupAt,
		"vehicle_type": b.VehicleType,
	})
	return b.ID, nil
}

func (s *Service) estimate(ctx context.Context, from, to types.Point) time.Duration {
	if s.estimator == nil {
		return DefaultTripDuration
	}
	d, err := s.estimator.EstimateDuration(ctx, from, to)
	if err != nil || d <= 0 {
		s.log.Warnf("trip duration estimate unavailable, using default: %v", err)
		return DefaultTripDuration
	}
	return d
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Attempts(ctx context.Context, id types.ID) ([]AssignmentAttempt, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Attempts(ctx, id)
}

// MarkArrived verifies the driver's reported position against the pickup
// point and moves the booking through arrived into waiting_started.
func (s *Service) MarkArrived(ctx context.Context, cmd ArriveCommand) error {
	var from Status
	var after *Booking
	err := s.repo.InTx(ctx, func(tx Tx) error {
		b, err := tx.LockBooking(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if !b.AssignedTo(cmd.DriverID) {
			return ErrDriverMismatch
		}
		if !CanTransition(b.Status, StatusArrived) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, StatusArrived)
		}
		res := geo.Validate(cmd.Location, b.Pickup, s.geo)
		if !res.AccuracyAcceptable {
			return &GeoCheckError{Reason: GeoUnverifiable, Distance: res.Distance, Accuracy: cmd.Location.AccuracyMeters, Limit: s.geo.AccuracyMeters}
		}
		if !res.WithinRadius {
			return &GeoCheckError{Reason: GeoTooFar, Distance: res.Distance, Accuracy: cmd.Location.AccuracyMeters, Limit: s.geo.RadiusMeters}
		}
		from = b.Status
		now := s.now()
		if err := b.MoveTo(StatusArrived, now); err != nil {
			return err
		}
		if err := b.MoveTo(StatusWaitingStarted, now); err != nil {
			return err
		}
		after = b
		return tx.SaveBooking(ctx, b)
	})
	if err != nil {
		return err
	}
	actor := DriverActor(cmd.DriverID)
	s.record(ctx, after, EventDriverArrived, from, StatusArrived, actor, map[string]any{
		"lat": cmd.Location.Lat, "lng": cmd.Location.Lng, "accuracy_m": cmd.Location.AccuracyMeters,
	})
	s.record(ctx, after, EventWaitingStarted, StatusArrived, StatusWaitingStarted, actor, nil)
	return nil
}

func (s *Service) StartTrip(ctx context.Context, cmd StartCommand) error {
	b, from, err := s.driverTransition(ctx, cmd.BookingID, cmd.DriverID, StatusStarted, nil)
	if err != nil {
		return err
	}
	s.record(ctx, b, EventTripStarted, from, StatusStarted, DriverActor(cmd.DriverID), nil)
	return nil
}

// CompleteTrip finishes the trip and detaches and releases the driver. The
// driver stays recorded on the event and on the assignment attempts.
func (s *Service) CompleteTrip(ctx context.Context, cmd CompleteCommand) error {
	if cmd.FareFinal != nil && cmd.FareFinal.Amount < 0 {
		return fmt.Errorf("%w: negative fare", ErrBadRequest)
	}
	b, from, err := s.driverTransition(ctx, cmd.BookingID, cmd.DriverID, StatusCompleted, func(tx Tx, b *Booking) error {
		if cmd.FareFinal != nil {
			fare := *cmd.FareFinal
			b.FareFinal = &fare
		}
		if cmd.Notes != "" {
			b.Notes = joinNotes(b.Notes, cmd.Notes)
		}
		b.ClearDriver()
		return ReleaseDriver(ctx, tx, cmd.DriverID, b.ID)
	})
	if err != nil {
		return err
	}
	details := map[string]any{"driver_id": string(cmd.DriverID)}
	if b.FareFinal != nil {
		details["fare_final"] = b.FareFinal.Amount
	}
	s.record(ctx, b, EventTripCompleted, from, StatusCompleted, DriverActor(cmd.DriverID), details)
	return nil
}

// Cancel is valid from every non-terminal status. A held driver is detached
// and freed, and a pending offer is withdrawn.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	var from Status
	var after *Booking
	var freed types.ID
	err := s.repo.InTx(ctx, func(tx Tx) error {
		b, err := tx.LockBooking(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if cmd.Actor.Type == ActorDriver && (cmd.Actor.ID == nil || !b.AssignedTo(*cmd.Actor.ID)) {
			return ErrDriverMismatch
		}
		from = b.Status
		now := s.now()
		if err := b.MoveTo(StatusCancelled, now); err != nil {
			return err
		}
		if cmd.Reason != "" {
			reason := cmd.Reason
			b.CancelReason = &reason
		}
		if err := WithdrawOffer(ctx, tx, b.ID, AttemptExpired, "booking_cancelled", now); err != nil {
			return err
		}
		if id, ok := b.ClearDriver(); ok {
			freed = id
			if err := ReleaseDriver(ctx, tx, id, b.ID); err != nil {
				return err
			}
		}
		after = b
		return tx.SaveBooking(ctx, b)
	})
	if err != nil {
		return err
	}
	details := map[string]any{"reason": cmd.Reason}
	if freed != "" {
		details["released_driver_id"] = string(freed)
	}
	s.record(ctx, after, EventBookingCancelled, from, StatusCancelled, cmd.Actor, details)
	return nil
}

func (s *Service) RequestNoShow(ctx context.Context, cmd NoShowCommand) error {
	evidence := make([]string, 0, len(cmd.EvidenceIDs))
	for _, id := range cmd.EvidenceIDs {
		if id = strings.TrimSpace(id); id != "" {
			evidence = append(evidence, id)
		}
	}
	if len(evidence) == 0 {
		return fmt.Errorf("%w: no-show requires evidence", ErrBadRequest)
	}
	b, from, err := s.driverTransition(ctx, cmd.BookingID, cmd.DriverID, StatusNoShowRequested, func(_ Tx, b *Booking) error {
		if s.noShowMinWait > 0 {
			if b.WaitingStartedAt == nil || s.now().Sub(*b.WaitingStartedAt) < s.noShowMinWait {
				return fmt.Errorf("%w: minimum wait of %s not reached", ErrBadRequest, s.noShowMinWait)
			}
		}
		b.NoShowEvidenceIDs = evidence
		b.NoShowNotes = cmd.Notes
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, b, EventNoShowRequested, from, StatusNoShowRequested, DriverActor(cmd.DriverID), map[string]any{
		"evidence_ids": evidence,
	})
	if err := s.notifier.NotifyAdminNoShowAlert(ctx, notify.NoShowAlert{
		TenantID:    b.TenantID,
		BookingID:   b.ID,
		DriverID:    cmd.DriverID,
		EvidenceIDs: evidence,
		Notes:       cmd.Notes,
	}); err != nil {
		s.log.Warnf("no-show alert for booking %s: %v", b.ID, err)
	}
	return nil
}

// ConfirmNoShow closes the booking as a no-show and detaches and frees the
// driver.
func (s *Service) ConfirmNoShow(ctx context.Context, cmd ReviewNoShowCommand) error {
	var freed types.ID
	b, from, err := s.adminTransition(ctx, cmd.BookingID, StatusNoShowConfirmed, func(tx Tx, b *Booking) error {
		if cmd.Notes != "" {
			b.NoShowNotes = joinNotes(b.NoShowNotes, cmd.Notes)
		}
		if id, ok := b.ClearDriver(); ok {
			freed = id
			return ReleaseDriver(ctx, tx, id, b.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	var details map[string]any
	if freed != "" {
		details = map[string]any{"driver_id": string(freed)}
	}
	s.record(ctx, b, EventNoShowConfirmed, from, StatusNoShowConfirmed, AdminActor(cmd.AdminID), details)
	return nil
}

// RejectNoShow hands the trip back to the driver, who may then start it.
func (s *Service) RejectNoShow(ctx context.Context, cmd ReviewNoShowCommand) error {
	b, from, err := s.adminTransition(ctx, cmd.BookingID, StatusNoShowRejected, func(_ Tx, b *Booking) error {
		if cmd.Notes != "" {
			b.NoShowNotes = joinNotes(b.NoShowNotes, cmd.Notes)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, b, EventNoShowRejected, from, StatusNoShowRejected, AdminActor(cmd.AdminID), nil)
	return nil
}

// AdminOverride writes the requested status without consulting the
// transition table. Driver bookkeeping still follows the target status:
// statuses that do not hold a driver detach and free it, and
// driver-holding statuses require one.
func (s *Service) AdminOverride(ctx context.Context, cmd OverrideCommand) error {
	if !cmd.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrBadRequest, cmd.Status)
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return fmt.Errorf("%w: override reason is required", ErrBadRequest)
	}
	var from Status
	var after *Booking
	var freed types.ID
	err := s.repo.InTx(ctx, func(tx Tx) error {
		b, err := tx.LockBooking(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if cmd.Status.HoldsDriver() && !b.HasDriver() {
			return fmt.Errorf("%w: %s requires an assigned driver", ErrBadRequest, cmd.Status)
		}
		from = b.Status
		now := s.now()
		b.ForceStatus(cmd.Status, now)
		if cmd.Status != StatusAssigned {
			if err := WithdrawOffer(ctx, tx, b.ID, AttemptExpired, "admin_override", now); err != nil {
				return err
			}
		}
		if !cmd.Status.HoldsDriver() {
			if id, ok := b.ClearDriver(); ok {
				freed = id
				if err := ReleaseDriver(ctx, tx, id, b.ID); err != nil {
					return err
				}
			}
		}
		after = b
		return tx.SaveBooking(ctx, b)
	})
	if err != nil {
		return err
	}
	s.log.Warnw("admin override", map[string]any{
		"booking_id": string(cmd.BookingID),
		"from":       string(from),
		"to":         string(cmd.Status),
		"admin_id":   string(cmd.AdminID),
		"reason":     cmd.Reason,
	})
	details := map[string]any{"reason": cmd.Reason}
	if freed != "" {
		details["driver_id"] = string(freed)
	}
	s.record(ctx, after, EventAdminOverride, from, cmd.Status, AdminActor(cmd.AdminID), details)
	return nil
}

// driverTransition locks the booking, checks the acting driver holds it and
// applies a regular transition to to.
func (s *Service) driverTransition(ctx context.Context, bookingID, driverID types.ID, to Status, mutate func(Tx, *Booking) error) (*Booking, Status, error) {
	return s.transition(ctx, bookingID, to, func(tx Tx, b *Booking) error {
		if !b.AssignedTo(driverID) {
			return ErrDriverMismatch
		}
		if mutate != nil {
			return mutate(tx, b)
		}
		return nil
	})
}

func (s *Service) adminTransition(ctx context.Context, bookingID types.ID, to Status, mutate func(Tx, *Booking) error) (*Booking, Status, error) {
	return s.transition(ctx, bookingID, to, mutate)
}

func (s *Service) transition(ctx context.Context, bookingID types.ID, to Status, check func(Tx, *Booking) error) (*Booking, Status, error) {
	var from Status
	var after *Booking
	err := s.repo.InTx(ctx, func(tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !CanTransition(b.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
		}
		if check != nil {
			if err := check(tx, b); err != nil {
				return err
			}
		}
		from = b.Status
		if err := b.MoveTo(to, s.now()); err != nil {
			return err
		}
		after = b
		return tx.SaveBooking(ctx, b)
	})
	if err != nil {
		return nil, "", err
	}
	return after, from, nil
}

// record appends to the event log. Failures are logged and never undo the
// committed transition.
func (s *Service) record(ctx context.Context, b *Booking, typ EventType, from, to Status, actor Actor, details map[string]any) {
	Record(ctx, s.events, s.log, Event{
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

// Record appends e to log, logging instead of returning failures.
func Record(ctx context.Context, log EventLog, l logger.Logger, e Event) {
	if log == nil {
		return
	}
	if err := log.Append(ctx, e); err != nil {
		l.Errorf("append %s event for booking %s: %v", e.Type, e.BookingID, err)
	}
}

// ReleaseDriver marks a busy driver available again unless another
// non-terminal booking still holds them.
func ReleaseDriver(ctx context.Context, tx Tx, driverID, bookingID types.ID) error {
	d, err := tx.LockDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.Availability != driver.Busy {
		return nil
	}
	others, err := tx.ActiveBookings(ctx, []types.ID{driverID}, bookingID)
	if err != nil {
		return err
	}
	for _, o := range others {
		if o.Status.HoldsDriver() {
			return nil
		}
	}
	return tx.SetDriverAvailability(ctx, driverID, driver.Available)
}

// WithdrawOffer closes the booking's pending current attempt, if any.
func WithdrawOffer(ctx context.Context, tx Tx, bookingID types.ID, status AttemptStatus, reason string, now time.Time) error {
	a, err := tx.CurrentAttempt(ctx, bookingID)
	if err != nil || a == nil {
		return err
	}
	a.Status = status
	a.IsCurrent = false
	a.RejectionReason = &reason
	a.RespondedAt = &now
	return tx.UpdateAttempt(ctx, a)
}

func joinNotes(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}
