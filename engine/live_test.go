package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hitme/models"
)

func TestGoLiveSetsEndTime(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.GoLive(30)
	require.NoError(t, err)

	live := e.LiveSession()
	assert.True(t, live.Active)
	require.NotNil(t, live.EndTime)
	assert.Equal(t, t0.Add(1_800_000*time.Millisecond), *live.EndTime)
}

func TestTickBeforeDeadlineStaysLive(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	e.GoLive(30)

	clk.Set(t0.Add(1_799_999 * time.Millisecond))
	remaining, ended := e.Tick()

	assert.False(t, ended)
	assert.Equal(t, time.Millisecond, remaining)
	assert.True(t, e.LiveSession().Active)
	assert.Empty(t, rec.events)
}

func TestTickAfterDeadlineGoesOfflineOnce(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	e.GoLive(30)

	clk.Set(t0.Add(1_800_001 * time.Millisecond))
	remaining, ended := e.Tick()

	assert.True(t, ended)
	assert.Zero(t, remaining)
	assert.Equal(t, models.LiveSession{}, e.LiveSession())
	require.Len(t, rec.events, 1)
	assert.Equal(t, EventLiveEnded, rec.events[0].Kind)

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		_, ended = e.Tick()
		assert.False(t, ended)
	}
	assert.Len(t, rec.events, 1)
}

func TestTickAtExactDeadlineEnds(t *testing.T) {
	e, clk, _ := newTestEngine(t)
	e.GoLive(1)

	clk.Set(t0.Add(time.Minute))
	_, ended := e.Tick()
	assert.True(t, ended)
}

func TestGoLiveRejectsNonPositive(t *testing.T) {
	e, _, rec := newTestEngine(t)

	_, err := e.GoLive(0)
	require.ErrorIs(t, err, ErrInvalidDuration)
	_, err = e.GoLive(-5)
	require.ErrorIs(t, err, ErrInvalidDuration)

	assert.False(t, e.LiveSession().Active)
	assert.Empty(t, rec.states)
}

func TestGoLiveWhileLiveRearms(t *testing.T) {
	e, clk, _ := newTestEngine(t)
	e.GoLive(30)

	now := clk.Advance(10 * time.Minute)
	_, err := e.GoLive(5)
	require.NoError(t, err)

	assert.Equal(t, now.Add(5*time.Minute), *e.LiveSession().EndTime)
	assert.Equal(t, 5*time.Minute, e.Remaining())
}

func TestGoOffline(t *testing.T) {
	e, _, rec := newTestEngine(t)

	assert.False(t, e.GoOffline())

	e.GoLive(30)
	assert.True(t, e.GoOffline())
	assert.Equal(t, models.LiveSession{}, e.LiveSession())
	assert.Zero(t, e.Remaining())

	_, ended := e.Tick()
	assert.False(t, ended)
	assert.Empty(t, rec.events, "a manual stop is not a countdown expiry")
}

func TestGoLiveReturnsPendingInbound(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.ReceiveInboundRequest(models.HitRequest{ID: "a", SenderID: "ann", ReceiverID: "me", Urgency: models.UrgencyLow, Status: models.StatusPending})
	e.ReceiveInboundRequest(models.HitRequest{ID: "b", SenderID: "bob", ReceiverID: "me", Urgency: models.UrgencyHigh, Status: models.StatusPending})
	e.ReceiveInboundRequest(models.HitRequest{ID: "c", SenderID: "cat", ReceiverID: "me", Status: models.StatusDismissed})
	e.AddOutboundRequest("me", "dan", "", models.UrgencyHigh, nil)

	waiting, err := e.GoLive(15)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(waiting))
}

func TestRestoreDropsStaleEndTime(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Restore(models.State{Live: models.LiveSession{Active: false, EndTime: at(time.Hour)}})

	assert.Nil(t, e.LiveSession().EndTime)
	assert.Equal(t, "me", e.Profile().ID)
}

func TestCountdownClampsToOneHertz(t *testing.T) {
	c := NewCountdown(time.Minute, func() {}, nil)
	assert.Equal(t, time.Second, c.interval)

	c = NewCountdown(0, func() {}, nil)
	assert.Equal(t, time.Second, c.interval)

	c = NewCountdown(250*time.Millisecond, func() {}, nil)
	assert.Equal(t, 250*time.Millisecond, c.interval)
}

func TestCountdownStartStop(t *testing.T) {
	var ticks atomic.Int32
	c := NewCountdown(time.Millisecond, func() { ticks.Add(1) }, nil)

	c.Start()
	c.Start()
	require.True(t, c.Running())
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	c.Stop()
	assert.False(t, c.Running())
	n := ticks.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, ticks.Load())
	c.Stop()
}
