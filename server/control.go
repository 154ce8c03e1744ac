package server

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"hitme/export"
	"hitme/protocol"
)

// ServeControl answers management commands on listener, one command per
// connection:
//
//	stats                      -> OK|connections=..
//	sweep                      -> OK|<expired count>
//	export|login|path|format   -> OK|path
//	shutdown|reason|time       -> OK|Shutting down
//
// After a shutdown command the server has said bye to every client and
// onShutdown is called.
func (s *Server) ServeControl(listener net.Listener, onShutdown func()) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		go s.handleControlCommand(conn, onShutdown)
	}
}

func (s *Server) handleControlCommand(conn net.Conn, onShutdown func()) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}

	pkt, err := protocol.ParsePacket(strings.TrimSpace(line))
	if err != nil {
		conn.Write([]byte("ERROR|Invalid command\n"))
		return
	}

	switch pkt.Type {
	case "stats":
		conn.Write([]byte("OK|" + s.GetStats() + "\n"))

	case "sweep":
		n := s.SweepAll()
		conn.Write([]byte("OK|" + strconv.Itoa(n) + "\n"))

	case "export":
		login, path := pkt.Arg(0), pkt.Arg(1)
		if login == "" || path == "" {
			conn.Write([]byte("ERROR|Usage: export|login|path|format\n"))
			return
		}
		format, err := export.ParseFormat(pkt.Arg(2), path)
		if err != nil {
			conn.Write([]byte("ERROR|" + err.Error() + "\n"))
			return
		}
		st, err := s.State(login)
		if errors.Is(err, errUnknownUser) {
			conn.Write([]byte("ERROR|User not found\n"))
			return
		}
		if err != nil {
			s.log.Error("export_failed", "login", login, "err", err)
			conn.Write([]byte("ERROR|Internal error\n"))
			return
		}
		if err := export.Write(path, st, format); err != nil {
			s.log.Error("export_failed", "login", login, "path", path, "err", err)
			conn.Write([]byte("ERROR|" + err.Error() + "\n"))
			return
		}
		s.log.Info("state_exported", "login", login, "path", path, "format", string(format))
		conn.Write([]byte("OK|" + path + "\n"))

	case "shutdown":
		reason := "maintenance"
		var completionTime time.Time
		if r := pkt.Arg(0); r != "" {
			reason = r
		}
		if raw := pkt.Arg(1); raw != "" {
			completionTime, _ = time.Parse(protocol.TimeLayout, raw)
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		s.log.Info("shutdown_requested", "reason", reason, "completion", completionTime)
		s.Shutdown(reason, completionTime)
		if onShutdown != nil {
			onShutdown()
		}

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
