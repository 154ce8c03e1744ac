// Package engine holds one account's request and availability state: the
// outbound and inbound hit requests, the contact book with its per-mode
// rankings, and the live session.
//
// An Engine is a single-writer state container. It is not safe for
// concurrent use; callers serialize access (the server keeps one mutex per
// account). Every mutation that changes state hands a snapshot to the
// configured Persister.
package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hitme/clock"
	"hitme/models"
)

const DefaultExtendDuration = time.Hour

// Persister durably stores a snapshot. Errors are the persister's to report;
// the engine does not wait on or retry a write.
type Persister interface {
	Persist(state models.State)
}

type PersisterFunc func(state models.State)

func (f PersisterFunc) Persist(state models.State) { f(state) }

type EventKind string

const (
	EventRequestExpired EventKind = "request_expired"
	EventLiveEnded      EventKind = "live_ended"
)

type Event struct {
	Kind    EventKind
	Owner   string
	Request models.HitRequest
	Inbound bool
	At      time.Time
}

// Notifier receives transitions made by the engine itself (sweeps and the
// live countdown), as opposed to ones requested by the caller.
type Notifier interface {
	Notify(ev Event)
}

type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persister = p }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithModes sets the modes that always get a ranking list, in display order.
func WithModes(modes ...string) Option {
	return func(e *Engine) { e.modes = append([]string(nil), modes...) }
}

// WithExtendDuration sets how far into the future ExtendRequest pushes an
// expired request.
func WithExtendDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.extendBy = d
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

type Engine struct {
	owner     string
	clock     clock.Clock
	log       *slog.Logger
	persister Persister
	notifier  Notifier
	modes     []string
	extendBy  time.Duration
	newID     func() string

	profile      models.Profile
	contacts     []models.Contact
	outbound     []models.HitRequest
	inbound      []models.HitRequest
	liveDuration int
	onboarded    bool
	rankings     models.ModeRankings
	live         models.LiveSession
}

func New(owner string, opts ...Option) *Engine {
	e := &Engine{
		owner:    owner,
		clock:    clock.Real{},
		log:      slog.Default(),
		extendBy: DefaultExtendDuration,
		newID:    newRequestID,
		profile:  models.Profile{ID: owner},
		rankings: models.ModeRankings{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("owner", owner)
	return e
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (e *Engine) Owner() string { return e.owner }

func (e *Engine) Now() time.Time { return e.clock.Now() }

// Restore replaces the whole state with a previously persisted snapshot.
// It does not trigger a persist.
func (e *Engine) Restore(st models.State) {
	e.profile = st.Profile
	if e.profile.ID == "" {
		e.profile.ID = e.owner
	}
	e.contacts = cloneContacts(st.Contacts)
	e.outbound = cloneRequests(st.Outbound)
	e.inbound = cloneRequests(st.Inbound)
	e.liveDuration = st.LiveDuration
	e.onboarded = st.Onboarded
	e.rankings = cloneRankings(st.Rankings)
	e.live = cloneLive(st.Live)
	if !e.live.Active {
		e.live.EndTime = nil
	}
}

// State returns a deep copy of the current state.
func (e *Engine) State() models.State {
	return models.State{
		Profile:      e.profile,
		Contacts:     cloneContacts(e.contacts),
		Outbound:     cloneRequests(e.outbound),
		Inbound:      cloneRequests(e.inbound),
		LiveDuration: e.liveDuration,
		Onboarded:    e.onboarded,
		Rankings:     cloneRankings(e.rankings),
		Live:         cloneLive(e.live),
	}
}

func (e *Engine) persist() {
	if e.persister == nil {
		return
	}
	e.persister.Persist(e.State())
}

func (e *Engine) notify(ev Event) {
	if e.notifier == nil {
		return
	}
	ev.Owner = e.owner
	e.notifier.Notify(ev)
}

func cloneRequests(in []models.HitRequest) []models.HitRequest {
	if in == nil {
		return nil
	}
	out := make([]models.HitRequest, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

func cloneContacts(in []models.Contact) []models.Contact {
	if in == nil {
		return nil
	}
	out := make([]models.Contact, len(in))
	for i, c := range in {
		out[i] = cloneContact(c)
	}
	return out
}

func cloneContact(c models.Contact) models.Contact {
	if c.LastSeen != nil {
		t := *c.LastSeen
		c.LastSeen = &t
	}
	if c.LastOnline != nil {
		t := *c.LastOnline
		c.LastOnline = &t
	}
	if c.Modes != nil {
		c.Modes = append([]string(nil), c.Modes...)
	}
	return c
}

func cloneRankings(in models.ModeRankings) models.ModeRankings {
	out := make(models.ModeRankings, len(in))
	for mode, ids := range in {
		out[mode] = append(make([]string, 0, len(ids)), ids...)
	}
	return out
}

func cloneLive(l models.LiveSession) models.LiveSession {
	if l.EndTime != nil {
		t := *l.EndTime
		l.EndTime = &t
	}
	return l
}
