package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxFrameSize = 8192
	DefaultReadTimeout  = 5 * time.Minute
)

// ConnectionOptions tune the per-connection read loop.
type ConnectionOptions struct {
	MaxFrameSize int           // longest accepted frame, delimiter excluded
	ReadTimeout  time.Duration // idle time before the connection is dropped
	RateLimit    rate.Limit    // frames per second
	RateBurst    int
}

func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		MaxFrameSize: DefaultMaxFrameSize,
		ReadTimeout:  DefaultReadTimeout,
		RateLimit:    rate.Limit(10),
		RateBurst:    20,
	}
}

// ClientConnection frames a net.Conn into newline-delimited text lines.
type ClientConnection struct {
	conn    net.Conn
	addr    string
	opts    ConnectionOptions
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *Metrics

	writeMu sync.Mutex
	writer  *bufio.Writer
}

func NewClientConnection(conn net.Conn, opts ConnectionOptions, logger *slog.Logger, metrics *Metrics) *ClientConnection {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &ClientConnection{
		conn:    conn,
		addr:    conn.RemoteAddr().String(),
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		writer:  bufio.NewWriter(conn),
	}
	if opts.RateLimit > 0 {
		// the limiter depletes tokens on Allow and refills over time
		c.limiter = rate.NewLimiter(opts.RateLimit, max(opts.RateBurst, 1))
	}
	return c
}

func (c *ClientConnection) RemoteAddr() string {
	return c.addr
}

// Listen reads frames until the peer disconnects, the connection idles
// past ReadTimeout, or a transport error occurs. Each frame is handed to
// handle synchronously, so frames of one connection are processed in
// arrival order.
func (c *ClientConnection) Listen(ctx context.Context, handle func(line string)) {
	defer c.conn.Close()

	// room for the frame plus a CRLF delimiter
	reader := bufio.NewReaderSize(c.conn, c.opts.MaxFrameSize+2)
	discarding := false

	c.logger.Debug("client_started_listening", "remote_addr", c.addr)

	for {
		if ctx.Err() != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		line, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			// skip the rest of an oversized frame up to its delimiter
			if !discarding {
				c.logger.Warn("frame_too_large",
					"remote_addr", c.addr,
					"max_size", c.opts.MaxFrameSize,
				)
				c.metrics.dropped(reasonOversize)
			}
			discarding = true
			continue
		}
		if err != nil {
			c.logReadError(err)
			return
		}
		if discarding {
			discarding = false
			continue
		}

		frame := bytes.TrimRight(line, "\r\n")
		if len(frame) > c.opts.MaxFrameSize {
			c.logger.Warn("frame_too_large",
				"remote_addr", c.addr,
				"size", len(frame),
				"max_size", c.opts.MaxFrameSize,
			)
			c.metrics.dropped(reasonOversize)
			continue
		}
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() && !c.throttle(frame) {
			continue
		}

		handle(string(frame))
	}
}

// throttle handles a frame that arrived over the rate limit and reports
// whether it should still be dispatched. Answers always pass, so the peer
// can acknowledge requests this side sent. New requests are answered with
// ERROR without reaching their template.
func (c *ClientConnection) throttle(frame []byte) bool {
	p, err := ParsePacket(frame)
	if err != nil {
		c.logger.Warn("rate_limit_exceeded", "remote_addr", c.addr)
		c.metrics.dropped(reasonRateLimited)
		return false
	}
	if p.RequestStatus {
		return true
	}

	c.logger.Warn("rate_limit_exceeded",
		"remote_addr", c.addr,
		"request_name", p.RequestName,
		"request_id", p.RequestID,
	)
	c.metrics.throttled()
	p.conn = c
	if err := p.SendError(CodeError); err != nil {
		c.logger.Warn("throttle_answer_failed",
			"remote_addr", c.addr,
			"error", err.Error(),
		)
		return false
	}
	c.metrics.answerSent(CodeError)
	return false
}

func (c *ClientConnection) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Debug("client_closed_connection", "remote_addr", c.addr)
	case isTimeout(err):
		c.logger.Warn("client_read_timeout", "remote_addr", c.addr)
	case errors.Is(err, net.ErrClosed),
		strings.Contains(err.Error(), "connection reset"),
		strings.Contains(err.Error(), "forcibly closed"):
		// expected during shutdown or abrupt peer exit
	default:
		c.logger.Error("client_read_error",
			"remote_addr", c.addr,
			"error", err.Error(),
		)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Send writes data followed by a newline as a single frame.
func (c *ClientConnection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (c *ClientConnection) Close() error {
	return c.conn.Close()
}
