package server

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"hitme/clock"
	"hitme/db"
	"hitme/engine"
	"hitme/protocol"
)

type Server struct {
	db       *db.DB
	config   *ServerConfig
	clock    clock.Clock
	log      *slog.Logger
	sessions map[string]*Session
	mu       sync.RWMutex

	accounts   map[string]*account
	accountsMu sync.Mutex

	sweeper   *engine.Sweeper
	countdown *engine.Countdown
}

type ServerConfig struct {
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	SweepInterval      time.Duration
	CountdownInterval  time.Duration
	ExtendDuration     time.Duration
	DefaultLiveMinutes int
	Modes              []string
	Clock              clock.Clock
	Logger             *slog.Logger
}

func New(database *db.DB, config *ServerConfig) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 120 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.DefaultLiveMinutes <= 0 {
		config.DefaultLiveMinutes = 30
	}
	if config.ExtendDuration <= 0 {
		config.ExtendDuration = engine.DefaultExtendDuration
	}
	if config.Clock == nil {
		config.Clock = clock.Real{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		db:       database,
		config:   config,
		clock:    config.Clock,
		log:      config.Logger,
		sessions: make(map[string]*Session),
		accounts: make(map[string]*account),
	}
	s.sweeper = engine.NewSweeper(config.SweepInterval, s.SweepAll, s.log)
	s.countdown = engine.NewCountdown(config.CountdownInterval, s.TickAll, s.log)
	return s
}

// Start runs the background loops and serves the TCP port until the listener
// fails.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	defer listener.Close()

	s.log.Info("server_started", "port", s.config.Port)
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	s.sweeper.Start()
	s.countdown.Start()
	defer s.stopLoops()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept_failed", "err", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) stopLoops() {
	s.sweeper.Stop()
	s.countdown.Stop()
}

func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	log := s.log.With("remote", remoteAddr)
	log.Info("client_connected")

	session := newSession(conn, s.config.WriteTimeout, log)
	defer func() {
		session.close()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Info("client_timeout", "login", session.login())
				s.sendBye(session, "timeout", "")
			} else if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Warn("read_failed", "err", err)
			}
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "auth|") && !strings.HasPrefix(line, "reg|") {
			log.Debug("packet_received", "line", line)
		}

		pkt, err := protocol.ParsePacket(line)
		if err != nil {
			s.sendError(session, "", "Invalid packet format")
			continue
		}

		s.handlePacket(session, pkt)

		if pkt.Type == "bye" {
			return
		}
	}

	s.disconnect(session, "eof")
}

func (s *Server) handlePacket(session *Session, pkt *protocol.Packet) {
	session.touch()

	if h, ok := publicHandlers[pkt.Type]; ok {
		h(s, session, pkt)
		return
	}
	h, ok := authedHandlers[pkt.Type]
	if !ok {
		s.sendError(session, "", "Unknown packet type")
		return
	}
	login := session.login()
	if login == "" {
		s.sendError(session, pkt.Type, "Not authenticated")
		return
	}
	h(s, session, login, pkt)
}

type publicHandler func(s *Server, session *Session, pkt *protocol.Packet)

type authedHandler func(s *Server, session *Session, login string, pkt *protocol.Packet)

var publicHandlers map[string]publicHandler

var authedHandlers map[string]authedHandler

func init() {
	publicHandlers = map[string]publicHandler{
		"ping": (*Server).handlePing,
		"reg":  (*Server).handleRegister,
		"auth": (*Server).handleAuth,
		"bye":  (*Server).handleBye,
		"help": (*Server).handleHelp,
	}
	authedHandlers = map[string]authedHandler{
		"stat":  (*Server).handleStatus,
		"me":    (*Server).handleMe,
		"prof":  (*Server).handleProfile,
		"onb":   (*Server).handleOnboarded,
		"pref":  (*Server).handlePreference,
		"add":   (*Server).handleAddContact,
		"ren":   (*Server).handleRenameContact,
		"tag":   (*Server).handleTagContact,
		"del":   (*Server).handleDeleteContact,
		"list":  (*Server).handleList,
		"rinit": (*Server).handleRankInit,
		"rank":  (*Server).handleRank,
		"rmov":  (*Server).handleReorder,
		"hit":   (*Server).handleHit,
		"edit":  (*Server).handleEdit,
		"rdel":  (*Server).handleDeleteRequest,
		"rst":   (*Server).handleRequestStatus,
		"dism":  (*Server).handleDismiss,
		"ext":   (*Server).handleExtend,
		"views": (*Server).handleViews,
		"inbox": (*Server).handleInbox,
		"live":  (*Server).handleLive,
		"off":   (*Server).handleOffline,
		"tick":  (*Server).handleTick,
	}
}

func (s *Server) sendPacket(session *Session, pktType string, fields ...string) {
	session.send(protocol.FormatPacket(pktType, fields...))
}

func (s *Server) sendList(session *Session, pktType string, head []string, items []string) {
	session.send(protocol.FormatList(pktType, head, items))
}

func (s *Server) sendOK(session *Session, operation string, fields ...string) {
	if operation == "" {
		s.sendPacket(session, "ok")
		return
	}
	s.sendPacket(session, "ok", append([]string{operation}, fields...)...)
}

// sendError replies fail|operation|description, or fail|description when the
// operation is unknown.
func (s *Server) sendError(session *Session, operation, description string) {
	if operation != "" {
		s.sendPacket(session, "fail", operation, description)
	} else {
		s.sendPacket(session, "fail", description)
	}
}

func (s *Server) sendBye(session *Session, reason, details string) {
	switch {
	case details != "":
		s.sendPacket(session, "bye", reason, details)
	case reason != "":
		s.sendPacket(session, "bye", reason)
	default:
		s.sendPacket(session, "bye")
	}
}

// push sends a line to login if it is connected.
func (s *Server) push(login string, pktType string, fields ...string) bool {
	session, ok := s.getSession(login)
	if !ok {
		return false
	}
	s.sendPacket(session, pktType, fields...)
	return true
}

// pushList sends a list line of prebuilt items to login if it is connected.
func (s *Server) pushList(login string, pktType string, items ...string) bool {
	session, ok := s.getSession(login)
	if !ok {
		return false
	}
	s.sendList(session, pktType, nil, items)
	return true
}

func (s *Server) addSession(login string, session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[login] = session
}

// removeSession forgets login only if it still maps to session, so a stale
// connection cannot evict a newer login.
func (s *Server) removeSession(login string, session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[login]; ok && cur == session {
		delete(s.sessions, login)
	}
}

func (s *Server) getSession(login string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[login]
	return session, ok
}

func (s *Server) isOnline(login string) bool {
	_, ok := s.getSession(login)
	return ok
}

// disconnect records the logout of an authenticated session.
func (s *Server) disconnect(session *Session, how string) {
	login := session.login()
	if login == "" {
		s.log.Info("client_disconnected", "how", how)
		return
	}

	s.removeSession(login, session)
	now := s.clock.Now()
	if err := s.db.UpdateLastOffline(login, now); err != nil {
		s.log.Warn("last_offline_update_failed", "login", login, "err", err)
	}
	s.notifyContactsPresence(login, "off", now)
	s.log.Info("client_disconnected", "login", login, "how", how)
}

// GetStats returns server statistics as a formatted string.
func (s *Server) GetStats() string {
	s.mu.RLock()
	var users []string
	for login := range s.sessions {
		users = append(users, login)
	}
	s.mu.RUnlock()

	s.accountsMu.Lock()
	loaded := len(s.accounts)
	s.accountsMu.Unlock()

	return "connections=" + strconv.Itoa(len(users)) +
		",accounts=" + strconv.Itoa(loaded) +
		",users=" + strings.Join(users, ";")
}

// Shutdown says bye to every client with a reason ("maintenance", "restart")
// and an optional time the service is expected back, then stops the loops.
func (s *Server) Shutdown(reason string, completionTime time.Time) {
	s.stopLoops()

	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	var details string
	if !completionTime.IsZero() {
		details = protocol.FormatTime(completionTime)
	}

	now := s.clock.Now()
	for _, sess := range sessions {
		s.sendBye(sess, reason, details)
		sess.close()
		sess.Conn.Close()
		if login := sess.login(); login != "" {
			if err := s.db.UpdateLastOffline(login, now); err != nil {
				s.log.Warn("last_offline_update_failed", "login", login, "err", err)
			}
			s.removeSession(login, sess)
		}
	}
}
