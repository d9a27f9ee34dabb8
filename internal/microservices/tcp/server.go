package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const shutdownNotice = "Server is shutting down."

// Server accepts connections and owns their lifecycle: a Client is
// registered when a connection opens, every line it sends goes through the
// Dispatcher, and the Client and its pending requests are discarded when
// it closes.
type Server struct {
	Addr       string
	Registry   *ClientRegistry
	Dispatcher *Dispatcher

	opts     ConnectionOptions
	sessions SessionStore
	grace    time.Duration
	logger   *slog.Logger
	metrics  *Metrics

	listener net.Listener
	quitChan chan struct{}
	stopOnce sync.Once

	// closing is set under trackMu before Stop waits on wg, so no worker
	// is added once the wait has begun
	trackMu sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

type ServerOption func(*Server)

func WithConnectionOptions(opts ConnectionOptions) ServerOption {
	return func(s *Server) { s.opts = opts }
}

// WithSessionStore removes presence records of closed connections.
func WithSessionStore(store SessionStore) ServerOption {
	return func(s *Server) { s.sessions = store }
}

// WithShutdownGrace is how long Stop lets clients react to the shutdown
// notice before closing their connections.
func WithShutdownGrace(grace time.Duration) ServerOption {
	return func(s *Server) { s.grace = grace }
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func WithServerMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

func NewServer(addr string, registry *ClientRegistry, dispatcher *Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		Addr:       addr,
		Registry:   registry,
		Dispatcher: dispatcher,
		opts:       DefaultConnectionOptions(),
		grace:      5 * time.Second,
		logger:     slog.Default(),
		quitChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener
	s.logger.Info("tcp_server_started", "addr", listener.Addr().String())
	return nil
}

// ListenAddr is the bound address, useful when Addr asked for port 0.
func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return s.Addr
	}
	return s.listener.Addr().String()
}

// Serve accepts connections on the listener opened by Listen.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept_failed", "error", err.Error())
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.track() {
			conn.Close()
			return nil
		}
		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handleConnection(conn)
		}(conn)
	}
}

// track reserves a worker slot for a new connection unless Stop has begun.
func (s *Server) track() bool {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) handleConnection(conn net.Conn) {
	cc := NewClientConnection(conn, s.opts, s.logger, s.metrics)

	client, err := s.Registry.Register(cc)
	if err != nil {
		s.logger.Error("client_register_failed",
			"remote_addr", cc.RemoteAddr(),
			"error", err.Error(),
		)
		cc.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.teardown(client)

	// accepted just before Stop closed the listener
	select {
	case <-s.quitChan:
		cc.Close()
		return
	default:
	}

	s.logger.Info("client_connected",
		"session_id", client.SessionID,
		"remote_addr", client.Address(),
	)
	cc.Listen(ctx, func(line string) {
		// failures are logged by the dispatcher and never end the connection
		_ = s.Dispatcher.OnMessage(ctx, cc, line)
	})
}

func (s *Server) teardown(client *Client) {
	addr := client.Address()
	// purge before the address is released, or a new connection reusing it
	// could lose its own pending requests
	s.Dispatcher.DropConnection(addr)
	s.Registry.Unregister(addr)

	who := addr
	if client.IsAuthenticated() {
		who = client.Username()
		if s.sessions != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := s.sessions.Delete(ctx, client.SessionID); err != nil {
				s.logger.Warn("session_delete_failed",
					"session_id", client.SessionID,
					"error", err.Error(),
				)
			}
			cancel()
		}
	}
	s.logger.Info("client_disconnected",
		"session_id", client.SessionID,
		"client", who,
	)
}

// Stop stops accepting, notifies connected clients, waits the grace period
// (or until ctx is done), then closes every connection and waits for their
// workers to finish.
func (s *Server) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.trackMu.Lock()
		s.closing = true
		s.trackMu.Unlock()

		close(s.quitChan)
		if s.listener != nil {
			s.listener.Close()
		}

		if s.Broadcast(ctx, shutdownNotice) > 0 {
			timer := time.NewTimer(s.grace)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}

		for _, c := range s.Registry.Clients() {
			if closer, ok := c.Conn().(io.Closer); ok {
				closer.Close()
			}
		}
		s.wg.Wait()
		s.logger.Info("tcp_server_stopped")
	})
}

// Broadcast sends message as a SERVER_NOTICE to every connected client and
// returns how many sends succeeded. It sends nothing when SERVER_NOTICE is
// not registered.
func (s *Server) Broadcast(ctx context.Context, message string) int {
	if _, ok := s.Dispatcher.Template(TemplateServerNotice); !ok {
		return 0
	}

	clients := s.Registry.Clients()
	var sent atomic.Int64
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if _, err := s.Dispatcher.SendRequest(ctx, TemplateServerNotice, c.Conn(), message); err != nil {
				s.logger.Warn("server_notice_failed",
					"remote_addr", c.Address(),
					"error", err.Error(),
				)
				return
			}
			sent.Add(1)
		}(c)
	}
	wg.Wait()

	s.logger.Info("server_notice_broadcast",
		"clients", len(clients),
		"sent", sent.Load(),
	)
	return int(sent.Load())
}
