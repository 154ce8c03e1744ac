package engine

import (
	"log/slog"
	"time"

	"hitme/models"
)

const DefaultSweepInterval = time.Minute

// ExpireStale moves every pending request whose deadline is before now to
// expired, in place, and returns the indexes it changed. Favorites never
// expire.
func ExpireStale(reqs []models.HitRequest, now time.Time) []int {
	var changed []int
	for i := range reqs {
		r := &reqs[i]
		if r.Status != models.StatusPending || r.ExpiresAt == nil {
			continue
		}
		if r.ExpiresAt.Before(now) {
			r.Status = models.StatusExpired
			changed = append(changed, i)
		}
	}
	return changed
}

// Sweep expires stale requests in both collections and returns how many
// changed. Running it again without the clock moving changes nothing.
func (e *Engine) Sweep() int {
	now := e.clock.Now()
	out := ExpireStale(e.outbound, now)
	in := ExpireStale(e.inbound, now)
	if len(out)+len(in) == 0 {
		return 0
	}

	e.persist()
	for _, i := range out {
		e.notify(Event{Kind: EventRequestExpired, Request: e.outbound[i].Clone(), At: now})
	}
	for _, i := range in {
		e.notify(Event{Kind: EventRequestExpired, Request: e.inbound[i].Clone(), Inbound: true, At: now})
	}
	e.log.Debug("sweep", "outbound_expired", len(out), "inbound_expired", len(in))
	return len(out) + len(in)
}

// Sweeper calls a sweep function on a fixed interval. The function usually
// sweeps every loaded account.
type Sweeper struct {
	interval time.Duration
	sweep    func() int
	log      *slog.Logger
	loop     loop
}

func NewSweeper(interval time.Duration, sweep func() int, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{interval: interval, sweep: sweep, log: log}
}

// Start begins sweeping. A sweeper that is already running is restarted.
func (s *Sweeper) Start() {
	s.loop.start(s.interval, func() { s.SweepNow() })
	s.log.Info("sweeper_started", "interval", s.interval.String())
}

func (s *Sweeper) Stop() {
	if !s.loop.running() {
		return
	}
	s.loop.halt()
	s.log.Info("sweeper_stopped")
}

func (s *Sweeper) Running() bool { return s.loop.running() }

// SweepNow runs one sweep on the caller's goroutine.
func (s *Sweeper) SweepNow() int {
	n := s.sweep()
	if n > 0 {
		s.log.Info("sweep_expired", "count", n)
	}
	return n
}
