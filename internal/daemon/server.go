package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/samber/lo"

	"sonora/internal/scanner"
)

const connTimeout = 10 * time.Second

// Server answers scan commands on a unix or tcp listener. A failed handshake
// drops the connection without disturbing the listener.
type Server struct {
	log         *slog.Logger
	key         []byte
	coordinator *scanner.Coordinator
	watcher     *scanner.Watcher

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer wires the coordinator and an optional watcher (nil disables the
// watch and unwatch commands).
func NewServer(logger *slog.Logger, key string, coordinator *scanner.Coordinator, watcher *scanner.Watcher) *Server {
	return &Server{
		log:         logger,
		key:         []byte(key),
		coordinator: coordinator,
		watcher:     watcher,
	}
}

func (s *Server) Listen(network, address string) error {
	if network == "unix" {
		// A previous run may have left its socket behind.
		if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("daemon listening", "network", network, "address", address)
	return nil
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	if err := authenticateServer(conn, s.key); err != nil {
		s.log.Warn("rejected connection", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.log.Warn("malformed command", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	resp := s.dispatch(cmd)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("write response", "remote", conn.RemoteAddr(), "error", err)
	}
}

func (s *Server) dispatch(cmd Command) Response {
	switch cmd.Op {
	case OpScan:
		folders := lo.Uniq(lo.Filter(cmd.Folders, func(name string, _ int) bool {
			return name != ""
		}))
		if err := s.coordinator.StartScan(context.Background(), folders, cmd.Force); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true}

	case OpProgress:
		scanned, scanning := s.coordinator.Progress()
		return Response{OK: true, Scanning: scanning, Scanned: scanned}

	case OpWatch:
		if s.watcher == nil {
			return Response{Error: "watcher disabled"}
		}
		if err := s.watcher.Watch(cmd.Path); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true}

	case OpUnwatch:
		if s.watcher == nil {
			return Response{Error: "watcher disabled"}
		}
		s.watcher.Unwatch(cmd.Path)
		return Response{OK: true}

	default:
		return Response{Error: "unknown command: " + cmd.Op}
	}
}
