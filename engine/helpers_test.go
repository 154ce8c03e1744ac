package engine

import (
	"fmt"
	"testing"
	"time"

	"hitme/clock"
	"hitme/models"
)

var t0 = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	states []models.State
	events []Event
}

func (r *recorder) Persist(st models.State) { r.states = append(r.states, st) }

func (r *recorder) Notify(ev Event) { r.events = append(r.events, ev) }

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *clock.Fake, *recorder) {
	t.Helper()

	clk := clock.NewFake(t0)
	rec := &recorder{}
	seq := 0
	base := []Option{
		WithClock(clk),
		WithPersister(rec),
		WithNotifier(rec),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("r%d", seq)
		}),
		WithModes("work", "family", "social"),
	}
	return New("me", append(base, opts...)...), clk, rec
}

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

func ids(reqs []models.HitRequest) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.ID)
	}
	return out
}

func contactIDs(cs []models.Contact) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
