package server

import (
	"errors"
	"strconv"

	"hitme/db"
	"hitme/engine"
	"hitme/models"
	"hitme/protocol"
)

func (s *Server) handlePing(session *Session, pkt *protocol.Packet) {
	s.sendPacket(session, "pong")
}

// handleAuth: auth|login|password
func (s *Server) handleAuth(session *Session, pkt *protocol.Packet) {
	login, password := pkt.Arg(0), pkt.Arg(1)
	if login == "" || password == "" {
		s.sendError(session, "auth", "Invalid credentials")
		return
	}

	if session.login() != "" {
		s.sendOK(session, "auth")
		return
	}

	valid, err := s.db.AuthenticateUser(login, password)
	if err != nil {
		s.log.Error("auth_failed", "login", login, "err", err)
		s.sendError(session, "auth", "Internal error")
		return
	}
	if !valid {
		s.sendError(session, "auth", "Invalid credentials")
		return
	}

	if err := s.withAccount(login, func(e *engine.Engine) {}); err != nil {
		s.log.Error("account_load_failed", "login", login, "err", err)
		s.sendError(session, "auth", "Internal error")
		return
	}

	session.setLogin(login)
	s.addSession(login, session)
	s.sendOK(session, "auth")
	s.log.Info("client_authenticated", "login", login)

	now := s.clock.Now()
	if err := s.db.UpdateLastOnline(login, now); err != nil {
		s.log.Warn("last_online_update_failed", "login", login, "err", err)
	}
	s.notifyContactsPresence(login, "on", now)
}

// handleRegister: reg|login|password
func (s *Server) handleRegister(session *Session, pkt *protocol.Packet) {
	login, password := pkt.Arg(0), pkt.Arg(1)
	if login == "" || password == "" {
		s.sendError(session, "reg", "Invalid data")
		return
	}

	exists, err := s.db.UserExists(login)
	if err != nil {
		s.log.Error("register_failed", "login", login, "err", err)
		s.sendError(session, "reg", "Internal error")
		return
	}
	if exists {
		s.sendError(session, "reg", "User already exists")
		return
	}

	if err := s.db.CreateUser(login, password); err != nil {
		s.log.Error("register_failed", "login", login, "err", err)
		s.sendError(session, "reg", "Internal error")
		return
	}

	s.log.Info("user_registered", "login", login)
	s.sendOK(session, "reg")
}

func (s *Server) handleBye(session *Session, pkt *protocol.Packet) {
	s.sendPacket(session, "bye")
	s.disconnect(session, "bye")
}

var commands = []string{
	"ping", "reg", "auth", "bye", "help",
	"stat", "me", "prof", "onb", "pref",
	"add", "ren", "tag", "del", "list",
	"rinit", "rank", "rmov",
	"hit", "edit", "rdel", "rst", "dism", "ext", "views", "inbox",
	"live", "off", "tick",
}

func (s *Server) handleHelp(session *Session, pkt *protocol.Packet) {
	items := make([]string, len(commands))
	for i, c := range commands {
		items[i] = protocol.Item(c)
	}
	s.sendList(session, "help", nil, items)
}

// handleStatus: stat|[user]. Without a user it reports every contact that is
// a registered user.
func (s *Server) handleStatus(session *Session, login string, pkt *protocol.Packet) {
	if target := pkt.Arg(0); target != "" {
		item, err := s.statusItem(target)
		if errors.Is(err, db.ErrNoRows) {
			s.sendError(session, "stat", "User not found")
			return
		}
		if err != nil {
			s.log.Error("status_failed", "target", target, "err", err)
			s.sendError(session, "stat", "Internal error")
			return
		}
		s.sendList(session, "stat", nil, []string{item})
		return
	}

	var items []string
	for _, contact := range s.contactsOf(login) {
		item, err := s.statusItem(contact)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	s.sendList(session, "stat", nil, items)
}

// statusItem encodes user|on/off|last_seen, where last_seen is the later of
// the last connect and disconnect.
func (s *Server) statusItem(user string) (string, error) {
	lastOnline, lastOffline, err := s.db.GetUserStatus(user)
	if err != nil {
		return "", err
	}
	status := "off"
	if s.isOnline(user) {
		status = "on"
	}
	lastSeen := lastOffline
	if lastOnline.After(lastOffline) {
		lastSeen = lastOnline
	}
	return protocol.Item(user, status, protocol.FormatTime(lastSeen)), nil
}

// handleMe: me -> me|login|onboarded|live_minutes|live|end
func (s *Server) handleMe(session *Session, login string, pkt *protocol.Packet) {
	var onboarded bool
	var pref int
	var live models.LiveSession
	err := s.withAccount(login, func(e *engine.Engine) {
		onboarded = e.Onboarded()
		pref = e.LiveDurationPreference()
		live = e.LiveSession()
	})
	if err != nil {
		s.internalError(session, "me", login, err)
		return
	}
	if pref == 0 {
		pref = s.config.DefaultLiveMinutes
	}
	s.sendPacket(session, "me",
		login,
		strconv.FormatBool(onboarded),
		strconv.Itoa(pref),
		strconv.FormatBool(live.Active),
		protocol.FormatOptionalTime(live.EndTime),
	)
}

// handleProfile: prof returns prof|id|name|phone|avatar; prof|name|phone|avatar
// replaces the profile.
func (s *Server) handleProfile(session *Session, login string, pkt *protocol.Packet) {
	var p models.Profile
	err := s.withAccount(login, func(e *engine.Engine) {
		if len(pkt.Args) > 0 {
			e.SetProfile(models.Profile{Name: pkt.Arg(0), Phone: pkt.Arg(1), Avatar: pkt.Arg(2)})
		}
		p = e.Profile()
	})
	if err != nil {
		s.internalError(session, "prof", login, err)
		return
	}
	s.sendPacket(session, "prof", p.ID, p.Name, p.Phone, p.Avatar)
}

func (s *Server) handleOnboarded(session *Session, login string, pkt *protocol.Packet) {
	err := s.withAccount(login, func(e *engine.Engine) {
		e.CompleteOnboarding()
	})
	if err != nil {
		s.internalError(session, "onb", login, err)
		return
	}
	s.sendOK(session, "onb")
}

// handlePreference: pref returns pref|minutes; pref|minutes sets it.
func (s *Server) handlePreference(session *Session, login string, pkt *protocol.Packet) {
	if raw := pkt.Arg(0); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			s.sendError(session, "pref", "Invalid duration")
			return
		}
		var setErr error
		err = s.withAccount(login, func(e *engine.Engine) {
			setErr = e.SetLiveDurationPreference(minutes)
		})
		if err != nil {
			s.internalError(session, "pref", login, err)
			return
		}
		if setErr != nil {
			s.sendError(session, "pref", "Invalid duration")
			return
		}
		s.sendOK(session, "pref")
		return
	}

	var minutes int
	err := s.withAccount(login, func(e *engine.Engine) {
		minutes = e.LiveDurationPreference()
	})
	if err != nil {
		s.internalError(session, "pref", login, err)
		return
	}
	if minutes == 0 {
		minutes = s.config.DefaultLiveMinutes
	}
	s.sendPacket(session, "pref", strconv.Itoa(minutes))
}

func (s *Server) internalError(session *Session, operation, login string, err error) {
	s.log.Error("command_failed", "op", operation, "login", login, "err", err)
	s.sendError(session, operation, "Internal error")
}
