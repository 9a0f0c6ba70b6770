// README: Transition table tests (no storage).
package booking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// happy path
		{StatusPending, StatusAssigned, true},
		{StatusAssigned, StatusAccepted, true},
		{StatusAccepted, StatusArrived, true},
		{StatusArrived, StatusWaitingStarted, true},
		{StatusWaitingStarted, StatusStarted, true},
		{StatusStarted, StatusCompleted, true},
		// rejection / expiry reset
		{StatusAssigned, StatusPending, true},
		// cancel from every non-terminal state
		{StatusPending, StatusCancelled, true},
		{StatusAssigned, StatusCancelled, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusArrived, StatusCancelled, true},
		{StatusWaitingStarted, StatusCancelled, true},
		{StatusStarted, StatusCancelled, true},
		{StatusNoShowRequested, StatusCancelled, true},
		{StatusNoShowRejected, StatusCancelled, true},
		// no-show flow
		{StatusArrived, StatusNoShowRequested, true},
		{StatusWaitingStarted, StatusNoShowRequested, true},
		{StatusNoShowRequested, StatusNoShowConfirmed, true},
		{StatusNoShowRequested, StatusNoShowRejected, true},
		{StatusNoShowRejected, StatusStarted, true},
		// terminal states
		{StatusCompleted, StatusPending, false},
		{StatusCancelled, StatusPending, false},
		{StatusNoShowConfirmed, StatusStarted, false},
		// skipping states
		{StatusPending, StatusAccepted, false},
		{StatusAssigned, StatusArrived, false},
		{StatusAccepted, StatusStarted, false},
		{StatusStarted, StatusNoShowRequested, false},
		{StatusAccepted, StatusPending, false},
		{StatusPending, StatusPending, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShowConfirmed} {
		assert.True(t, s.Terminal())
		assert.Empty(t, AllowedTransitions[s])
	}
	for from := range AllowedTransitions {
		assert.False(t, from.Terminal(), "%s has outgoing edges", from)
	}
}

func TestMoveToStampsAndVersions(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := &Booking{Status: StatusPending}

	require.NoError(t, b.MoveTo(StatusAssigned, now))
	require.NotNil(t, b.AssignedAt)
	assert.Equal(t, 1, b.StatusVersion)

	require.NoError(t, b.MoveTo(StatusPending, now.Add(time.Minute)))
	assert.Nil(t, b.AssignedAt)

	err := b.MoveTo(StatusStarted, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, 2, b.StatusVersion)
}

func TestGeoCheckError(t *testing.T) {
	far := &GeoCheckError{Reason: GeoTooFar, Distance: 299.7, Limit: 150}
	assert.ErrorIs(t, far, ErrGeoTooFar)
	assert.Contains(t, far.Error(), "300m")

	blurry := &GeoCheckError{Reason: GeoUnverifiable, Accuracy: 80, Limit: 50}
	assert.ErrorIs(t, blurry, ErrGeoUnverifiable)
	assert.NotErrorIs(t, blurry, ErrGeoTooFar)
	assert.Contains(t, blurry.Error(), "override")
}
