package server

import (
	"errors"
	"time"

	"hitme/engine"
	"hitme/models"
	"hitme/protocol"
)

// dispatch delivers an engine event. It must be called without any account
// lock held.
func (s *Server) dispatch(ev engine.Event) {
	switch ev.Kind {
	case engine.EventRequestExpired:
		direction := "out"
		if ev.Inbound {
			direction = "in"
		}
		s.push(ev.Owner, "exp", ev.Request.ID, direction)
		if !ev.Inbound {
			s.mirror(ev.Request, false)
		}
	case engine.EventLiveEnded:
		s.broadcastUnlive(ev.Owner)
	}
}

// mirror copies an outbound request's current fields onto the receiver's
// inbound copy. The receiver's status only follows along a legal edge;
// revive lets an expired copy return to pending after an extend.
func (s *Server) mirror(req models.HitRequest, revive bool) {
	if req.ReceiverID == req.SenderID {
		return
	}
	var synced bool
	var mirrored models.HitRequest
	err := s.withAccount(req.ReceiverID, func(e *engine.Engine) {
		mirrored, synced = e.MirrorRequest(req, revive)
	})
	if err != nil && !errors.Is(err, errUnknownUser) {
		s.log.Warn("mirror_failed", "id", req.ID, "receiver", req.ReceiverID, "err", err)
		return
	}
	if synced {
		s.pushList(req.ReceiverID, "upd", protocol.RequestItem(mirrored))
	}
}

func (s *Server) mirrorDelete(req models.HitRequest) {
	if req.ReceiverID == req.SenderID {
		return
	}
	var removed bool
	err := s.withAccount(req.ReceiverID, func(e *engine.Engine) {
		removed = e.DeleteRequest(req.ID)
	})
	if err != nil && !errors.Is(err, errUnknownUser) {
		s.log.Warn("mirror_failed", "id", req.ID, "receiver", req.ReceiverID, "err", err)
		return
	}
	if removed {
		s.push(req.ReceiverID, "rdel", req.ID)
	}
}

// contactsOf returns the ids in login's contact book.
func (s *Server) contactsOf(login string) []string {
	var ids []string
	err := s.withAccount(login, func(e *engine.Engine) {
		for _, c := range e.Contacts() {
			ids = append(ids, c.ID)
		}
	})
	if err != nil {
		s.log.Warn("contacts_load_failed", "login", login, "err", err)
	}
	return ids
}

// notifyContactsPresence tells login's online contacts that login went on or
// off, and records the time in their own contact books.
func (s *Server) notifyContactsPresence(login, status string, timestamp time.Time) {
	ts := protocol.FormatTime(timestamp)
	for _, contact := range s.contactsOf(login) {
		if !s.isOnline(contact) {
			continue
		}
		err := s.withAccount(contact, func(e *engine.Engine) {
			if status == "on" {
				e.MarkContactOnline(login, timestamp)
			} else {
				e.MarkContactSeen(login, timestamp)
			}
		})
		if err != nil && !errors.Is(err, errUnknownUser) {
			s.log.Warn("presence_update_failed", "login", contact, "err", err)
		}
		s.push(contact, status, login, ts)
	}
}

// broadcastLive tells waiting senders and online contacts in mode that login
// is live until end. An empty mode reaches every online contact.
func (s *Server) broadcastLive(login, mode string, end time.Time, waiting []models.HitRequest) {
	ts := protocol.FormatTime(end)
	sent := map[string]bool{login: true}

	for _, req := range waiting {
		if sent[req.SenderID] {
			continue
		}
		sent[req.SenderID] = true
		s.push(req.SenderID, "live", login, ts)
	}

	var targets []string
	err := s.withAccount(login, func(e *engine.Engine) {
		contacts := e.Contacts()
		if mode != "" {
			contacts = e.ContactsInMode(mode)
		}
		for _, c := range contacts {
			targets = append(targets, c.ID)
		}
	})
	if err != nil {
		s.log.Warn("live_broadcast_failed", "login", login, "err", err)
		return
	}
	for _, id := range targets {
		if sent[id] {
			continue
		}
		sent[id] = true
		s.push(id, "live", login, ts)
	}
}

// broadcastUnlive tells login and its online contacts that the live session
// is over.
func (s *Server) broadcastUnlive(login string) {
	s.push(login, "unlive", login)
	for _, contact := range s.contactsOf(login) {
		if contact == login {
			continue
		}
		s.push(contact, "unlive", login)
	}
}
