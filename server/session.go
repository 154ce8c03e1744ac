package server

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

const sessionQueueSize = 64

// Session is one client connection. Lines are queued and written by a
// dedicated goroutine so that pushes from other connections never block on a
// slow reader.
type Session struct {
	Login    string
	Conn     net.Conn
	LastPing time.Time
	mu       sync.Mutex

	out          chan string
	done         chan struct{}
	closed       bool
	writeTimeout time.Duration
	log          *slog.Logger
}

func newSession(conn net.Conn, writeTimeout time.Duration, log *slog.Logger) *Session {
	s := &Session{
		Conn:         conn,
		LastPing:     time.Now(),
		out:          make(chan string, sessionQueueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		log:          log,
	}
	go s.writeLoop()
	return s
}

func (s *Session) writeLoop() {
	defer close(s.done)
	for line := range s.out {
		s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if _, err := s.Conn.Write([]byte(line)); err != nil {
			s.log.Debug("write_failed", "login", s.login(), "err", err)
		}
	}
}

// send queues a line. Lines sent after close, or while the queue is full,
// are dropped.
func (s *Session) send(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- line:
	default:
		s.log.Warn("session_queue_full", "login", s.Login)
	}
}

// close stops accepting lines and waits for queued ones to be written.
func (s *Session) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastPing = time.Now()
	s.mu.Unlock()
}

func (s *Session) login() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Login
}

func (s *Session) setLogin(login string) {
	s.mu.Lock()
	s.Login = login
	s.mu.Unlock()
}
