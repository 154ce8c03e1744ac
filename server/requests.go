package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"hitme/engine"
	"hitme/models"
	"hitme/protocol"
)

var errBadMinutes = errors.New("bad minutes")

// parseExpiry reads a minutes field. Empty or 0 means no expiry (a favorite).
func parseExpiry(raw string, now time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return nil, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < 0 {
		return nil, errBadMinutes
	}
	t := now.Add(time.Duration(minutes) * time.Minute)
	return &t, nil
}

// handleHit: hit|receiver|topic|urgency|minutes -> ok|hit|id
func (s *Server) handleHit(session *Session, login string, pkt *protocol.Packet) {
	receiver := strings.TrimSpace(pkt.Arg(0))
	if receiver == "" {
		s.sendError(session, "hit", "Receiver required")
		return
	}

	urgency := models.UrgencyMedium
	if raw := pkt.Arg(2); raw != "" {
		u, ok := models.ParseUrgency(raw)
		if !ok {
			s.sendError(session, "hit", "Invalid urgency")
			return
		}
		urgency = u
	}

	now := s.clock.Now()
	expiresAt, err := parseExpiry(pkt.Arg(3), now)
	if err != nil {
		s.sendError(session, "hit", "Invalid duration")
		return
	}

	topic := strings.TrimSpace(pkt.Arg(1))
	if topic == "" {
		topic = engine.DefaultTopic(now)
	}

	var req models.HitRequest
	var known bool
	var addErr error
	err = s.withAccount(login, func(e *engine.Engine) {
		if _, known = e.Contact(receiver); !known {
			return
		}
		req, addErr = e.AddOutboundRequest(login, receiver, topic, urgency, expiresAt)
	})
	if err != nil {
		s.internalError(session, "hit", login, err)
		return
	}
	if !known {
		s.sendError(session, "hit", "Contact not found")
		return
	}
	if addErr != nil {
		s.sendError(session, "hit", addErr.Error())
		return
	}

	s.sendOK(session, "hit", req.ID)
	s.deliver(req)
}

// deliver files req in the receiver's inbound collection and pushes it.
// Receivers that are not registered users only exist in the sender's book.
func (s *Server) deliver(req models.HitRequest) {
	var received bool
	err := s.withAccount(req.ReceiverID, func(e *engine.Engine) {
		received = e.ReceiveInboundRequest(req)
	})
	if errors.Is(err, errUnknownUser) {
		return
	}
	if err != nil {
		s.log.Warn("deliver_failed", "id", req.ID, "receiver", req.ReceiverID, "err", err)
		return
	}
	if received {
		s.pushList(req.ReceiverID, "hit", protocol.RequestItem(req))
	}
}

// handleEdit: edit|id|topic|urgency|minutes. Empty fields are left alone;
// minutes "fav" removes the expiry.
func (s *Server) handleEdit(session *Session, login string, pkt *protocol.Packet) {
	id := pkt.Arg(0)
	if id == "" {
		s.sendError(session, "edit", "Invalid data")
		return
	}

	var patch engine.RequestPatch
	if topic := pkt.Arg(1); topic != "" {
		patch.Topic = &topic
	}
	if raw := pkt.Arg(2); raw != "" {
		u, ok := models.ParseUrgency(raw)
		if !ok {
			s.sendError(session, "edit", "Invalid urgency")
			return
		}
		patch.Urgency = &u
	}
	switch raw := pkt.Arg(3); raw {
	case "":
	case "fav":
		patch.ClearExpiry = true
	default:
		expiresAt, err := parseExpiry(raw, s.clock.Now())
		if err != nil {
			s.sendError(session, "edit", "Invalid duration")
			return
		}
		if expiresAt == nil {
			patch.ClearExpiry = true
		} else {
			patch.ExpiresAt = expiresAt
		}
	}

	req, ok := s.changeOutbound(session, login, "edit", id, func(e *engine.Engine) bool {
		return e.UpdateRequest(id, patch)
	})
	if !ok {
		return
	}
	s.sendOK(session, "edit")
	s.mirror(req, false)
}

// changeOutbound applies change to one of login's outbound requests and
// returns the request afterwards. It replies with a failure itself.
func (s *Server) changeOutbound(session *Session, login, op, id string, change func(e *engine.Engine) bool) (models.HitRequest, bool) {
	var req models.HitRequest
	var found, changed bool
	err := s.withAccount(login, func(e *engine.Engine) {
		if found = e.IsOutbound(id); !found {
			return
		}
		if changed = change(e); changed {
			req, _ = e.Request(id)
		}
	})
	if err != nil {
		s.internalError(session, op, login, err)
		return req, false
	}
	if !found || !changed {
		s.sendError(session, op, "Request not found")
		return req, false
	}
	return req, true
}

// handleDeleteRequest: rdel|id. Deleting an outbound request withdraws it
// from the receiver too; deleting an inbound one is local.
func (s *Server) handleDeleteRequest(session *Session, login string, pkt *protocol.Packet) {
	id := pkt.Arg(0)
	var req models.HitRequest
	var found, outbound bool
	err := s.withAccount(login, func(e *engine.Engine) {
		req, found = e.Request(id)
		outbound = e.IsOutbound(id)
		if found {
			e.DeleteRequest(id)
		}
	})
	if err != nil {
		s.internalError(session, "rdel", login, err)
		return
	}
	if !found {
		s.sendError(session, "rdel", "Request not found")
		return
	}
	s.sendOK(session, "rdel")
	if outbound {
		s.mirrorDelete(req)
	}
}

// handleRequestStatus: rst|id|status
func (s *Server) handleRequestStatus(session *Session, login string, pkt *protocol.Packet) {
	id := pkt.Arg(0)
	status, ok := models.ParseStatus(pkt.Arg(1))
	if id == "" || !ok {
		s.sendError(session, "rst", "Invalid data")
		return
	}

	var req models.HitRequest
	var changed, outbound bool
	err := s.withAccount(login, func(e *engine.Engine) {
		outbound = e.IsOutbound(id)
		if changed = e.UpdateRequestStatus(id, status); changed {
			req, _ = e.Request(id)
		}
	})
	if err != nil {
		s.internalError(session, "rst", login, err)
		return
	}
	if !changed {
		s.sendError(session, "rst", "Request not found")
		return
	}
	s.sendOK(session, "rst")
	if outbound {
		s.mirror(req, false)
	}
}

// handleDismiss: dism|id hides an inbound request.
func (s *Server) handleDismiss(session *Session, login string, pkt *protocol.Packet) {
	id := pkt.Arg(0)
	var dismissed bool
	err := s.withAccount(login, func(e *engine.Engine) {
		dismissed = e.DismissRequest(id)
	})
	if err != nil {
		s.internalError(session, "dism", login, err)
		return
	}
	if !dismissed {
		s.sendError(session, "dism", "Request not found")
		return
	}
	s.sendOK(session, "dism")
}

// handleExtend: ext|id -> ok|ext|expires when an expired request was revived,
// ok|ext when there was nothing to extend.
func (s *Server) handleExtend(session *Session, login string, pkt *protocol.Packet) {
	id := pkt.Arg(0)
	var req models.HitRequest
	var extended, outbound bool
	err := s.withAccount(login, func(e *engine.Engine) {
		outbound = e.IsOutbound(id)
		req, extended = e.ExtendRequest(id)
	})
	if err != nil {
		s.internalError(session, "ext", login, err)
		return
	}
	if !extended {
		s.sendOK(session, "ext")
		return
	}
	s.sendOK(session, "ext", protocol.FormatOptionalTime(req.ExpiresAt))
	if outbound {
		s.mirror(req, true)
	}
}

// handleViews sends three lines, view|favorites|..., view|active|... and
// view|expired|..., each a list of requests.
func (s *Server) handleViews(session *Session, login string, pkt *protocol.Packet) {
	var v engine.Views
	err := s.withAccount(login, func(e *engine.Engine) {
		v = e.Views()
	})
	if err != nil {
		s.internalError(session, "views", login, err)
		return
	}
	s.sendList(session, "view", []string{"favorites"}, requestItems(v.Favorites))
	s.sendList(session, "view", []string{"active"}, requestItems(v.Active))
	s.sendList(session, "view", []string{"expired"}, requestItems(v.Expired))
}

func (s *Server) handleInbox(session *Session, login string, pkt *protocol.Packet) {
	var inbox []models.HitRequest
	err := s.withAccount(login, func(e *engine.Engine) {
		inbox = e.Inbox()
	})
	if err != nil {
		s.internalError(session, "inbox", login, err)
		return
	}
	s.sendList(session, "inbox", nil, requestItems(inbox))
}

func requestItems(reqs []models.HitRequest) []string {
	items := make([]string, len(reqs))
	for i, r := range reqs {
		items[i] = protocol.RequestItem(r)
	}
	return items
}
