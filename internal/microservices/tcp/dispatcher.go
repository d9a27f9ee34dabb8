package tcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher routes every inbound line to the template named by the packet,
// and correlates answers with the outbound requests this side sent.
//
// Templates are registered during startup wiring and read without locking
// afterwards. Pending requests are scoped per connection address.
type Dispatcher struct {
	templates      map[string]Template
	registry       *ClientRegistry
	logger         *slog.Logger
	metrics        *Metrics
	requestTimeout time.Duration
	now            func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingRequests
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRequestTimeout gives outbound requests a deadline. Zero means they
// wait for an answer until the connection closes.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.requestTimeout = timeout }
}

// NewDispatcher creates a dispatcher resolving clients through registry.
// A nil registry skips client resolution, which is what the client side of
// the protocol wants.
func NewDispatcher(registry *ClientRegistry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		templates: make(map[string]Template),
		registry:  registry,
		logger:    slog.Default(),
		now:       time.Now,
		pending:   make(map[string]*pendingRequests),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterTemplate binds name to t, replacing any previous binding.
func (d *Dispatcher) RegisterTemplate(name string, t Template) *Dispatcher {
	d.templates[name] = t
	return d
}

func (d *Dispatcher) Template(name string) (Template, bool) {
	t, ok := d.templates[name]
	return t, ok
}

// OnMessage handles one inbound line from conn. Every failure is logged
// here and returned for classification; none of them is fatal to the
// connection and none produces an answer to the peer.
func (d *Dispatcher) OnMessage(ctx context.Context, conn Conn, line string) error {
	addr := conn.RemoteAddr()

	p, err := ParsePacket([]byte(line))
	if err != nil {
		d.logger.Warn("malformed_message",
			"remote_addr", addr,
			"error", err.Error(),
		)
		d.metrics.dropped(reasonMalformed)
		return err
	}
	p.ctx = ctx
	p.conn = conn
	p.dispatcher = d

	if d.registry != nil {
		client, err := d.registry.Lookup(addr)
		if err != nil {
			d.logger.Error("client_lookup_failed",
				"remote_addr", addr,
				"request_id", p.RequestID,
				"error", err.Error(),
			)
			d.metrics.dropped(reasonClientNotFound)
			return err
		}
		p.client = client
	}

	if p.RequestStatus {
		return d.handleAnswer(p)
	}
	return d.handleRequest(p)
}

func (d *Dispatcher) handleAnswer(answer *Packet) error {
	addr := answer.conn.RemoteAddr()
	request := d.take(addr, answer.RequestID)
	if request == nil {
		d.logger.Error("unmatched_answer",
			"remote_addr", addr,
			"request_id", answer.RequestID,
			"code", answer.Code,
		)
		d.metrics.dropped(reasonUnmatchedAnswer)
		return fmt.Errorf("%w: id %d", ErrUnmatchedAnswer, answer.RequestID)
	}

	answer.RequestName = request.RequestName
	d.metrics.received(kindAnswer)
	d.logger.Debug("answer_received",
		"remote_addr", addr,
		"request_name", request.RequestName,
		"request_id", answer.RequestID,
		"code", answer.Code,
	)

	t := d.templates[request.RequestName]
	d.invoke(request.RequestName, "answer", func() { t.OnAnswer(answer) })
	return nil
}

func (d *Dispatcher) handleRequest(p *Packet) error {
	t, ok := d.templates[p.RequestName]
	if !ok {
		d.logger.Error("invalid_request_name",
			"remote_addr", p.conn.RemoteAddr(),
			"request_name", p.RequestName,
			"request_id", p.RequestID,
		)
		d.metrics.dropped(reasonUnknownTemplate)
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, p.RequestName)
	}

	d.metrics.received(kindRequest)
	d.logger.Debug("request_received",
		"remote_addr", p.conn.RemoteAddr(),
		"request_name", p.RequestName,
		"request_id", p.RequestID,
	)
	d.invoke(p.RequestName, "incoming", func() { t.OnIncomingRequest(p) })
	return nil
}

// invoke runs a template callback so that a panicking template only loses
// the message it was handling.
func (d *Dispatcher) invoke(name, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("template_panic",
				"request_name", name,
				"stage", stage,
				"panic", r,
			)
		}
	}()
	fn()
}

// SendRequest originates a request named name toward the peer on conn and
// returns its correlation id. It does not wait for the answer, which is
// delivered later to the template's OnAnswer.
func (d *Dispatcher) SendRequest(ctx context.Context, name string, conn Conn, params ...any) (int64, error) {
	t, ok := d.templates[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	addr := conn.RemoteAddr()
	p := &Packet{
		RequestName: name,
		ctx:         ctx,
		conn:        conn,
		dispatcher:  d,
	}
	if d.registry != nil {
		if client, err := d.registry.Lookup(addr); err == nil {
			p.client = client
		}
	}

	// the id is reserved before the template runs and before the frame is
	// written, so the answer can never arrive ahead of its pending entry
	d.mu.Lock()
	set, ok := d.pending[addr]
	if !ok {
		set = newPendingRequests()
		d.pending[addr] = set
	}
	p.RequestID = set.allocate()
	if d.requestTimeout > 0 {
		p.deadline = d.now().Add(d.requestTimeout)
	}
	set.byID[p.RequestID] = p
	d.mu.Unlock()

	if err := t.OnNewRequest(p, params...); err != nil {
		d.take(addr, p.RequestID)
		return 0, fmt.Errorf("failed to build %s request: %w", name, err)
	}

	data, err := json.Marshal(p)
	if err == nil {
		err = conn.Send(data)
	}
	if err != nil {
		d.take(addr, p.RequestID)
		return 0, fmt.Errorf("failed to send %s request: %w", name, err)
	}

	d.metrics.requestSent(name)
	d.logger.Debug("request_sent",
		"remote_addr", addr,
		"request_name", name,
		"request_id", p.RequestID,
	)
	return p.RequestID, nil
}

func (d *Dispatcher) take(addr string, id int64) *Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.pending[addr]
	if !ok {
		return nil
	}
	return set.take(id)
}

// Forget discards the pending request id on addr, for callers that stop
// waiting before its answer arrives. A later answer for it is unmatched.
func (d *Dispatcher) Forget(addr string, id int64) bool {
	return d.take(addr, id) != nil
}

// DropConnection forgets every pending request of a closed connection and
// returns how many were discarded.
func (d *Dispatcher) DropConnection(addr string) int {
	d.mu.Lock()
	set, ok := d.pending[addr]
	delete(d.pending, addr)
	d.mu.Unlock()

	if !ok || len(set.byID) == 0 {
		return 0
	}
	d.logger.Info("pending_requests_purged",
		"remote_addr", addr,
		"count", len(set.byID),
	)
	return len(set.byID)
}

// ExpirePending removes requests whose deadline passed before now and
// notifies their templates. It returns the number expired.
func (d *Dispatcher) ExpirePending(now time.Time) int {
	var expired []*Packet
	d.mu.Lock()
	for _, set := range d.pending {
		expired = append(expired, set.expired(now)...)
	}
	d.mu.Unlock()

	for _, p := range expired {
		d.logger.Warn("request_timed_out",
			"remote_addr", p.conn.RemoteAddr(),
			"request_name", p.RequestName,
			"request_id", p.RequestID,
		)
		d.metrics.timedOut()
		if h, ok := d.templates[p.RequestName].(TimeoutHandler); ok {
			d.invoke(p.RequestName, "timeout", func() { h.OnTimeout(p) })
		}
	}
	return len(expired)
}

// RunJanitor expires overdue requests every interval until ctx is done.
// Without a request timeout there is nothing to expire and it returns
// immediately.
func (d *Dispatcher) RunJanitor(ctx context.Context, interval time.Duration) {
	if d.requestTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ExpirePending(d.now())
		}
	}
}

func (d *Dispatcher) PendingCount(addr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.pending[addr]; ok {
		return len(set.byID)
	}
	return 0
}

func (d *Dispatcher) TotalPending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, set := range d.pending {
		total += len(set.byID)
	}
	return total
}
