package server

import (
	"errors"
	"fmt"
	"sync"

	"hitme/engine"
	"hitme/models"
)

var errUnknownUser = errors.New("unknown user")

// account is one login's engine. mu serializes all access to the engine;
// events raised while it is held are queued and dispatched after unlock.
type account struct {
	mu      sync.Mutex
	engine  *engine.Engine
	ready   bool
	pending []engine.Event
}

func (s *Server) loadAccount(login string) (*account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	if a, ok := s.accounts[login]; ok {
		return a, nil
	}

	exists, err := s.db.UserExists(login)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errUnknownUser
	}

	st, err := s.db.LoadState(login)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", login, err)
	}

	a := &account{}
	a.engine = engine.New(login,
		engine.WithClock(s.clock),
		engine.WithLogger(s.log),
		engine.WithModes(s.config.Modes...),
		engine.WithExtendDuration(s.config.ExtendDuration),
		engine.WithPersister(engine.PersisterFunc(func(st models.State) {
			if err := s.db.SaveState(login, st); err != nil {
				s.log.Error("state_save_failed", "login", login, "err", err)
			}
		})),
		engine.WithNotifier(engine.NotifierFunc(func(ev engine.Event) {
			// called with a.mu held
			a.pending = append(a.pending, ev)
		})),
	)
	a.engine.Restore(st)
	s.accounts[login] = a
	s.log.Debug("account_loaded", "login", login)
	return a, nil
}

// withAccount runs fn against login's engine. The first use of an account
// catches it up with time that passed while it was not loaded.
func (s *Server) withAccount(login string, fn func(e *engine.Engine)) error {
	a, err := s.loadAccount(login)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if !a.ready {
		a.engine.Sweep()
		a.engine.Tick()
		a.ready = true
	}
	fn(a.engine)
	events := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, ev := range events {
		s.dispatch(ev)
	}
	return nil
}

func (s *Server) loadedLogins() []string {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	logins := make([]string, 0, len(s.accounts))
	for login := range s.accounts {
		logins = append(logins, login)
	}
	return logins
}

// SweepAll expires stale requests in every loaded account and returns how
// many changed.
func (s *Server) SweepAll() int {
	total := 0
	for _, login := range s.loadedLogins() {
		err := s.withAccount(login, func(e *engine.Engine) {
			total += e.Sweep()
		})
		if err != nil {
			s.log.Warn("sweep_failed", "login", login, "err", err)
		}
	}
	return total
}

// TickAll advances the live countdown of every loaded account.
func (s *Server) TickAll() {
	for _, login := range s.loadedLogins() {
		err := s.withAccount(login, func(e *engine.Engine) {
			e.Tick()
		})
		if err != nil {
			s.log.Warn("tick_failed", "login", login, "err", err)
		}
	}
}

// State returns a snapshot of login's state.
func (s *Server) State(login string) (models.State, error) {
	var st models.State
	err := s.withAccount(login, func(e *engine.Engine) {
		st = e.State()
	})
	return st, err
}
