// Package client speaks the packet protocol from the connecting side.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"pkthub/internal/microservices/tcp"
	"pkthub/pkg/models"
)

var ErrClosed = errors.New("connection closed")

// AnswerError is returned when the server answers with a code other than
// SUCCESS.
type AnswerError struct {
	Request string
	Code    tcp.Code
}

func (e *AnswerError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Request, e.Code)
}

// IsCode reports whether err is an answer carrying code.
func IsCode(err error, code tcp.Code) bool {
	var answerErr *AnswerError
	return errors.As(err, &answerErr) && answerErr.Code == code
}

// Notice is a SERVER_NOTICE received from the server.
type Notice struct {
	Message  string
	SentAt   time.Time
	Received time.Time
}

type Options struct {
	DialTimeout time.Duration
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		DialTimeout: 10 * time.Second,
		ReadTimeout: time.Hour,
	}
}

// Client is one protocol connection. Calls may be made concurrently.
type Client struct {
	conn       *tcp.ClientConnection
	dispatcher *tcp.Dispatcher
	logger     *slog.Logger

	mu      sync.Mutex
	waiters map[int64]chan *tcp.Packet

	notices chan Notice
	done    chan struct{}
	cancel  context.CancelFunc
}

// Dial connects to addr and starts reading answers in the background.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	// the server paces itself, no limiter on this side
	cc := tcp.NewClientConnection(conn, tcp.ConnectionOptions{
		MaxFrameSize: tcp.DefaultMaxFrameSize,
		ReadTimeout:  opts.ReadTimeout,
	}, opts.Logger, nil)

	c := &Client{
		conn:       cc,
		dispatcher: tcp.NewDispatcher(nil, tcp.WithLogger(opts.Logger)),
		logger:     opts.Logger,
		waiters:    make(map[int64]chan *tcp.Packet),
		notices:    make(chan Notice, 8),
		done:       make(chan struct{}),
	}
	calls := &callTemplate{client: c}
	c.dispatcher.
		RegisterTemplate(tcp.TemplateAuthentication, calls).
		RegisterTemplate(tcp.TemplateGetSelfUser, calls).
		RegisterTemplate(tcp.TemplateResumeSession, calls).
		RegisterTemplate(tcp.TemplateServerNotice, &noticeTemplate{client: c})

	readCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readLoop(readCtx)

	return c, nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.notices)

	c.conn.Listen(ctx, func(line string) {
		_ = c.dispatcher.OnMessage(ctx, c.conn, line)
	})
	c.dispatcher.DropConnection(c.conn.RemoteAddr())
}

// Notices delivers server notices until the connection closes. Notices are
// dropped when nobody reads them.
func (c *Client) Notices() <-chan Notice {
	return c.notices
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.cancel()
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Authenticate logs the connection in and returns the session token, which
// is empty when the server does not issue tokens.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	answer, err := c.call(ctx, tcp.TemplateAuthentication, map[string]any{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	token, _ := answer.String("token")
	return token, nil
}

// ResumeSession authenticates with a token from an earlier Authenticate.
func (c *Client) ResumeSession(ctx context.Context, token string) error {
	_, err := c.call(ctx, tcp.TemplateResumeSession, map[string]any{"token": token})
	return err
}

// SelfInfo returns the stored record of the authenticated user.
func (c *Client) SelfInfo(ctx context.Context) (*models.User, error) {
	answer, err := c.call(ctx, tcp.TemplateGetSelfUser, nil)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(answer.RequestContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// pendingCall carries the waiter into the template so it is registered
// under the request id before the frame goes out.
type pendingCall struct {
	id     int64
	answer chan *tcp.Packet
}

func (c *Client) call(ctx context.Context, name string, content map[string]any) (*tcp.Packet, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	pc := &pendingCall{answer: make(chan *tcp.Packet, 1)}
	if _, err := c.dispatcher.SendRequest(ctx, name, c.conn, content, pc); err != nil {
		c.dropWaiter(pc.id)
		return nil, err
	}

	select {
	case answer := <-pc.answer:
		if answer.Code != tcp.CodeSuccess {
			return nil, &AnswerError{Request: name, Code: answer.Code}
		}
		return answer, nil
	case <-ctx.Done():
		c.dropWaiter(pc.id)
		c.dispatcher.Forget(c.conn.RemoteAddr(), pc.id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Client) addWaiter(id int64, ch chan *tcp.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters[id] = ch
}

func (c *Client) dropWaiter(id int64) chan *tcp.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.waiters[id]
	delete(c.waiters, id)
	return ch
}

// callTemplate backs every blocking call: it builds the request and hands
// the answer to whoever is waiting for that id.
type callTemplate struct {
	client *Client
}

func (t *callTemplate) OnNewRequest(p *tcp.Packet, params ...any) error {
	if len(params) != 2 {
		return fmt.Errorf("expected content and call, got %d params", len(params))
	}
	content, _ := params[0].(map[string]any)
	pc, ok := params[1].(*pendingCall)
	if !ok {
		return fmt.Errorf("unexpected call parameter %T", params[1])
	}
	p.RequestContent = content
	pc.id = p.RequestID
	t.client.addWaiter(p.RequestID, pc.answer)
	return nil
}

func (t *callTemplate) OnAnswer(p *tcp.Packet) {
	ch := t.client.dropWaiter(p.RequestID)
	if ch == nil {
		// caller gave up
		return
	}
	ch <- p
}

// OnIncomingRequest refuses: these requests only flow toward the server.
func (t *callTemplate) OnIncomingRequest(p *tcp.Packet) {
	_ = p.SendError(tcp.CodeError)
}

type noticeTemplate struct {
	tcp.InboundOnly
	client *Client
}

func (t *noticeTemplate) OnIncomingRequest(p *tcp.Packet) {
	message, _ := p.String("message")
	notice := Notice{Message: message, Received: time.Now()}
	if ts, ok := p.RequestContent["timestamp"].(float64); ok {
		notice.SentAt = time.Unix(int64(ts), 0)
	}

	select {
	case t.client.notices <- notice:
	default:
		t.client.logger.Debug("server_notice_dropped", "message", message)
	}

	if err := p.SendSuccess(); err != nil {
		t.client.logger.Warn("answer_send_failed", "request_id", p.RequestID, "error", err.Error())
	}
}
