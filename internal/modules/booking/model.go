// README: Booking aggregate, assignment attempts and lifecycle status definitions.
package booking

import (
	"time"

	"fleetdispatch/internal/types"
)

type Status string

const (
	StatusNone            Status = "none"
	StatusPending         Status = "pending"
	StatusAssigned        Status = "assigned"
	StatusAccepted        Status = "accepted"
	StatusArrived         Status = "arrived"
	StatusWaitingStarted  Status = "waiting_started"
	StatusStarted         Status = "started"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusNoShowRequested Status = "no_show_requested"
	StatusNoShowConfirmed Status = "no_show_confirmed"
	StatusNoShowRejected  Status = "no_show_rejected"
)

// AssignmentMethod records how the current or last driver was chosen. The
// empty value means the booking has never been assigned.
type AssignmentMethod string

const (
	MethodNone       AssignmentMethod = ""
	MethodManual     AssignmentMethod = "manual"
	MethodAuto       AssignmentMethod = "auto"
	MethodAutoFailed AssignmentMethod = "auto_failed"
)

type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptAccepted AttemptStatus = "accepted"
	AttemptRejected AttemptStatus = "rejected"
	AttemptExpired  AttemptStatus = "expired"
)

// Failure reasons recorded in Booking.FailureReason.
const (
	ReasonNoEligibleDrivers = "no_eligible_drivers"
	ReasonCascadeExhausted  = "cascade_exhausted"
	ReasonDriverRejected    = "driver_rejected"
	ReasonOfferExpired      = "offer_expired"
)

type Booking struct {
	ID                types.ID
	TenantID          types.ID
	PassengerID       *types.ID
	DriverID          *types.ID
	Status            Status
	StatusVersion     int
	Pickup            types.Point
	Dropoff           types.Point
	PickupAt          time.Time
	EstimatedDuration time.Duration
	VehicleType       string
	FareEstimate      *types.Money
	FareFinal         *types.Money
	Notes             string

	AssignmentMethod  AssignmentMethod
	AutoAttempts      int
	FailureReason     *string
	LastAttemptAt     *time.Time
	CancelReason      *string
	NoShowEvidenceIDs []string
	NoShowNotes       string

	CreatedAt        time.Time
	AssignedAt       *time.Time
	AcceptedAt       *time.Time
	ArrivedAt        *time.Time
	WaitingStartedAt *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
}

// HasDriver reports whether the booking currently holds a driver.
func (b *Booking) HasDriver() bool {
	return b.DriverID != nil && *b.DriverID != ""
}

// AssignedTo reports whether driverID is the booking's current driver.
func (b *Booking) AssignedTo(driverID types.ID) bool {
	return b.HasDriver() && *b.DriverID == driverID
}

// Clone returns a deep copy safe to mutate.
func (b *Booking) Clone() *Booking {
	cp := *b
	if b.DriverID != nil {
		cp.DriverID = types.IDPtr(*b.DriverID)
	}
	if b.NoShowEvidenceIDs != nil {
		cp.NoShowEvidenceIDs = append([]string(nil), b.NoShowEvidenceIDs...)
	}
	return &cp
}

type AssignmentAttempt struct {
	ID              types.ID
	BookingID       types.ID
	DriverID        types.ID
	Method          AssignmentMethod
	Status          AttemptStatus
	RejectionReason *string
	IsCurrent       bool
	CreatedAt       time.Time
	RespondedAt     *time.Time
	ExpiresAt       *time.Time
}

// Cursor is the per-tenant round-robin position.
type Cursor struct {
	TenantID       types.ID
	LastDriverID   *types.ID
	LastAssignedAt *time.Time
	Count          int64
}

// Event is an append-only timeline entry.
type Event struct {
	ID         int64
	BookingID  types.ID
	TenantID   types.ID
	Type       EventType
	FromStatus Status
	ToStatus   Status
	ActorType  ActorType
	ActorID    *types.ID
	Details    map[string]any
	CreatedAt  time.Time
}

type EventType string

const (
	EventBookingCreated      EventType = "booking_created"
	EventDriverAssigned      EventType = "driver_assigned"
	EventDriverAccepted      EventType = "driver_accepted"
	EventDriverRejected      EventType = "driver_rejected"
	EventOfferExpired        EventType = "offer_expired"
	EventAssignmentFailed    EventType = "assignment_failed"
	EventAssignmentExhausted EventType = "assignment_exhausted"
	EventDriverArrived       EventType = "driver_arrived"
	EventWaitingStarted      EventType = "waiting_started"
	EventTripStarted         EventType = "trip_started"
	EventTripCompleted       EventType = "trip_completed"
	EventBookingCancelled    EventType = "booking_cancelled"
	EventNoShowRequested     EventType = "no_show_requested"
	EventNoShowConfirmed     EventType = "no_show_confirmed"
	EventNoShowRejected      EventType = "no_show_rejected"
	EventAdminOverride       EventType = "admin_override"
)

type ActorType string

const (
	ActorSystem    ActorType = "system"
	ActorDriver    ActorType = "driver"
	ActorAdmin     ActorType = "admin"
	ActorPassenger ActorType = "passenger"
)
