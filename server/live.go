package server

import (
	"strconv"
	"time"

	"hitme/engine"
	"hitme/models"
	"hitme/protocol"
)

// handleLive: live|minutes|mode -> ok|live|end. Without minutes the account's
// preference is used, then the server default.
func (s *Server) handleLive(session *Session, login string, pkt *protocol.Packet) {
	minutes := 0
	if raw := pkt.Arg(0); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m <= 0 {
			s.sendError(session, "live", "Invalid duration")
			return
		}
		minutes = m
	}
	mode := pkt.Arg(1)

	var waiting []models.HitRequest
	var live models.LiveSession
	var liveErr error
	err := s.withAccount(login, func(e *engine.Engine) {
		if minutes == 0 {
			minutes = e.LiveDurationPreference()
		}
		if minutes == 0 {
			minutes = s.config.DefaultLiveMinutes
		}
		waiting, liveErr = e.GoLive(minutes)
		live = e.LiveSession()
	})
	if err != nil {
		s.internalError(session, "live", login, err)
		return
	}
	if liveErr != nil || live.EndTime == nil {
		s.sendError(session, "live", "Invalid duration")
		return
	}

	s.sendOK(session, "live", protocol.FormatTime(*live.EndTime))
	s.broadcastLive(login, mode, *live.EndTime, waiting)
}

func (s *Server) handleOffline(session *Session, login string, pkt *protocol.Packet) {
	var stopped bool
	err := s.withAccount(login, func(e *engine.Engine) {
		stopped = e.GoOffline()
	})
	if err != nil {
		s.internalError(session, "off", login, err)
		return
	}
	s.sendOK(session, "off")
	if stopped {
		s.broadcastUnlive(login)
	}
}

// handleTick: tick -> tick|remaining_ms. A tick past the end of the session
// ends it.
func (s *Server) handleTick(session *Session, login string, pkt *protocol.Packet) {
	var remaining time.Duration
	err := s.withAccount(login, func(e *engine.Engine) {
		remaining, _ = e.Tick()
	})
	if err != nil {
		s.internalError(session, "tick", login, err)
		return
	}
	s.sendPacket(session, "tick", strconv.FormatInt(remaining.Milliseconds(), 10))
}
