// README: Append-only booking_events table behind booking.EventLog and booking.Timeline.
package postgres

import (
	"context"

	"fleetdispatch/internal/modules/booking"
	"fleetdispatch/internal/types"
)

func (s *Store) Append(ctx context.Context, e booking.Event) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO booking_events (
			booking_id, tenant_id, event_type, from_status, to_status,
			actor_type, actor_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(e.BookingID), string(e.TenantID), string(e.Type),
		string(e.FromStatus), string(e.ToStatus),
		string(e.ActorType), fromIDPtr(e.ActorID), details, e.CreatedAt,
	)
	return err
}

func (s *Store) Events(ctx context.Context, bookingID types.ID) ([]booking.Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, tenant_id, event_type, from_status, to_status,
		       actor_type, actor_id, details, created_at
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY id`, string(bookingID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []booking.Event
	for rows.Next() {
		var e booking.Event
		var bid, tid, typ, from, to, actorType string
		var actorID *string
		if err := rows.Scan(&e.ID, &bid, &tid, &typ, &from, &to, &actorType, &actorID, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.BookingID = types.ID(bid)
		e.TenantID = types.ID(tid)
		e.Type = booking.EventType(typ)
		e.FromStatus = booking.Status(from)
		e.ToStatus = booking.Status(to)
		e.ActorType = booking.ActorType(actorType)
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}
