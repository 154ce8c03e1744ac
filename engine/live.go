package engine

import (
	"log/slog"
	"time"

	"hitme/models"
)

const DefaultCountdownInterval = time.Second

func (e *Engine) LiveSession() models.LiveSession { return cloneLive(e.live) }

// GoLive opens a broadcast window of minutes from now. Calling it while live
// re-arms the window with the new end time. It returns the pending inbound
// requests, whose senders are waiting to hear that the owner is available.
func (e *Engine) GoLive(minutes int) ([]models.HitRequest, error) {
	if minutes <= 0 {
		return nil, ErrInvalidDuration
	}
	end := e.clock.Now().Add(time.Duration(minutes) * time.Minute)
	rearm := e.live.Active
	e.live = models.LiveSession{Active: true, EndTime: &end}
	e.persist()
	e.log.Info("live_started", "minutes", minutes, "end", end, "rearm", rearm)
	return Inbox(e.inbound), nil
}

// GoOffline ends the live session now.
func (e *Engine) GoOffline() bool {
	if !e.live.Active {
		return false
	}
	e.live = models.LiveSession{}
	e.persist()
	e.log.Info("live_stopped")
	return true
}

// Remaining returns the time left in the live session, or zero when offline.
func (e *Engine) Remaining() time.Duration {
	if !e.live.Active || e.live.EndTime == nil {
		return 0
	}
	if d := e.live.EndTime.Sub(e.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Tick advances the countdown. When the window has run out it ends the
// session and reports ended; that happens once per session because the
// session is offline afterwards.
func (e *Engine) Tick() (remaining time.Duration, ended bool) {
	if !e.live.Active || e.live.EndTime == nil {
		return 0, false
	}
	now := e.clock.Now()
	remaining = e.live.EndTime.Sub(now)
	if remaining > 0 {
		return remaining, false
	}

	e.live = models.LiveSession{}
	e.persist()
	e.notify(Event{Kind: EventLiveEnded, At: now})
	e.log.Info("live_expired")
	return 0, true
}

// Countdown calls a tick function on a fixed interval, at least once a
// second by default.
type Countdown struct {
	interval time.Duration
	tick     func()
	log      *slog.Logger
	loop     loop
}

func NewCountdown(interval time.Duration, tick func(), log *slog.Logger) *Countdown {
	if interval <= 0 || interval > DefaultCountdownInterval {
		interval = DefaultCountdownInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Countdown{interval: interval, tick: tick, log: log}
}

// Start begins ticking. A countdown that is already running is restarted.
func (c *Countdown) Start() {
	c.loop.start(c.interval, c.tick)
	c.log.Debug("countdown_started", "interval", c.interval.String())
}

func (c *Countdown) Stop() {
	if !c.loop.running() {
		return
	}
	c.loop.halt()
	c.log.Debug("countdown_stopped")
}

func (c *Countdown) Running() bool { return c.loop.running() }
