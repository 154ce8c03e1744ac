package server

import (
	"strings"

	"hitme/engine"
	"hitme/models"
	"hitme/protocol"
)

// parseModes splits a space separated mode field.
func parseModes(field string) []string {
	return strings.Fields(field)
}

// handleAddContact: add|contact|name|phone|modes
func (s *Server) handleAddContact(session *Session, login string, pkt *protocol.Packet) {
	contact := strings.TrimSpace(pkt.Arg(0))
	if contact == "" {
		s.sendError(session, "add", "Invalid data")
		return
	}
	if contact == login {
		s.sendError(session, "add", "Cannot add yourself")
		return
	}

	c := models.Contact{
		ID:    contact,
		Name:  pkt.Arg(1),
		Phone: pkt.Arg(2),
		Modes: parseModes(pkt.Arg(3)),
	}
	if lastOnline, _, err := s.db.GetUserStatus(contact); err == nil && !lastOnline.IsZero() {
		c.LastOnline = &lastOnline
	}

	var added bool
	err := s.withAccount(login, func(e *engine.Engine) {
		added = e.AddContact(c)
	})
	if err != nil {
		s.internalError(session, "add", login, err)
		return
	}
	if !added {
		s.sendError(session, "add", "Contact already exists")
		return
	}
	s.sendOK(session, "add")
}

// handleRenameContact: ren|contact|name
func (s *Server) handleRenameContact(session *Session, login string, pkt *protocol.Packet) {
	contact, name := pkt.Arg(0), pkt.Arg(1)
	if contact == "" {
		s.sendError(session, "ren", "Invalid data")
		return
	}
	if name == "" {
		name = contact
	}
	s.updateContact(session, login, "ren", contact, engine.ContactPatch{Name: &name})
}

// handleTagContact: tag|contact|modes
func (s *Server) handleTagContact(session *Session, login string, pkt *protocol.Packet) {
	contact := pkt.Arg(0)
	if contact == "" {
		s.sendError(session, "tag", "Invalid data")
		return
	}
	modes := parseModes(pkt.Arg(1))
	s.updateContact(session, login, "tag", contact, engine.ContactPatch{Modes: &modes})
}

func (s *Server) updateContact(session *Session, login, op, contact string, patch engine.ContactPatch) {
	var updated bool
	err := s.withAccount(login, func(e *engine.Engine) {
		updated = e.UpdateContact(contact, patch)
	})
	if err != nil {
		s.internalError(session, op, login, err)
		return
	}
	if !updated {
		s.sendError(session, op, "Contact not found")
		return
	}
	s.sendOK(session, op)
}

// handleDeleteContact: del|contact. Requests to and from the contact go with
// it, and the contact's copies of our requests are withdrawn.
func (s *Server) handleDeleteContact(session *Session, login string, pkt *protocol.Packet) {
	contact := pkt.Arg(0)
	if contact == "" {
		s.sendError(session, "del", "Invalid data")
		return
	}

	var withdrawn []models.HitRequest
	var removed bool
	err := s.withAccount(login, func(e *engine.Engine) {
		withdrawn, removed = e.RemoveContact(contact)
	})
	if err != nil {
		s.internalError(session, "del", login, err)
		return
	}
	if !removed {
		s.sendError(session, "del", "Contact not found")
		return
	}
	s.sendOK(session, "del")
	for _, req := range withdrawn {
		s.mirrorDelete(req)
	}
}

// handleList: list|[mode] -> list|contact,contact. With a mode the contacts
// come in ranked order, otherwise alphabetically.
func (s *Server) handleList(session *Session, login string, pkt *protocol.Packet) {
	mode := pkt.Arg(0)
	var contacts []models.Contact
	err := s.withAccount(login, func(e *engine.Engine) {
		contacts = e.RankedContacts(mode)
	})
	if err != nil {
		s.internalError(session, "list", login, err)
		return
	}

	items := make([]string, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, protocol.ContactItem(c))
	}
	s.sendList(session, "list", nil, items)
}

func (s *Server) handleRankInit(session *Session, login string, pkt *protocol.Packet) {
	err := s.withAccount(login, func(e *engine.Engine) {
		e.InitializeModeRankings()
	})
	if err != nil {
		s.internalError(session, "rinit", login, err)
		return
	}
	s.sendOK(session, "rinit")
}

// handleRank: rank|mode -> rank|mode|id,id. Without a mode it lists the known
// modes: rank||mode,mode.
func (s *Server) handleRank(session *Session, login string, pkt *protocol.Packet) {
	mode := pkt.Arg(0)
	var ids []string
	var found bool
	err := s.withAccount(login, func(e *engine.Engine) {
		if mode == "" {
			ids, found = e.KnownModes(), true
			return
		}
		ids, found = e.Ranking(mode)
	})
	if err != nil {
		s.internalError(session, "rank", login, err)
		return
	}
	if !found {
		s.sendError(session, "rank", "Unknown mode")
		return
	}

	items := make([]string, len(ids))
	for i, id := range ids {
		items[i] = protocol.Item(id)
	}
	s.sendList(session, "rank", []string{mode}, items)
}

// handleReorder: rmov|mode|id|id|... The ids must be exactly the contacts in
// the mode.
func (s *Server) handleReorder(session *Session, login string, pkt *protocol.Packet) {
	mode := pkt.Arg(0)
	if mode == "" {
		s.sendError(session, "rmov", "Invalid data")
		return
	}
	ids := append([]string{}, pkt.Args[1:]...)

	var ok bool
	err := s.withAccount(login, func(e *engine.Engine) {
		ok = e.ReorderContactsInMode(mode, ids)
	})
	if err != nil {
		s.internalError(session, "rmov", login, err)
		return
	}
	if !ok {
		s.sendError(session, "rmov", "Invalid order")
		return
	}
	s.sendOK(session, "rmov")
}
