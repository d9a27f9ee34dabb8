package tcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Code is the result code carried by an answer.
type Code string

const (
	CodeSuccess          Code = "SUCCESS"
	CodeError            Code = "ERROR"
	CodeUserNotFound     Code = "USER_NOT_FOUND"
	CodeInvalidPassword  Code = "INVALID_PASSWORD"
	CodeNotAuthenticated Code = "NOT_AUTHENTICATED"
)

// Conn is the per-connection transport a packet is bound to. Send writes
// exactly one newline-terminated frame.
type Conn interface {
	RemoteAddr() string
	Send(data []byte) error
}

// Packet is one protocol message. RequestStatus false means a new request,
// true means an answer to the request with the same RequestID on the same
// connection.
type Packet struct {
	RequestName    string         `json:"requestName,omitempty"`
	RequestID      int64          `json:"requestId"`
	RequestStatus  bool           `json:"requestStatus"`
	RequestContent map[string]any `json:"requestContent,omitempty"`
	Code           Code           `json:"code,omitempty"`

	ctx        context.Context
	conn       Conn
	client     *Client
	dispatcher *Dispatcher
	deadline   time.Time
}

// wirePacket distinguishes absent fields from zero values while decoding.
type wirePacket struct {
	RequestName    string         `json:"requestName"`
	RequestID      *int64         `json:"requestId"`
	RequestStatus  *bool          `json:"requestStatus"`
	RequestContent map[string]any `json:"requestContent"`
	Code           Code           `json:"code"`
}

// ParsePacket decodes one frame. Unknown fields are ignored; a missing
// requestId or requestStatus, or a non-object requestContent, is malformed.
func ParsePacket(line []byte) (*Packet, error) {
	var w wirePacket
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if w.RequestID == nil {
		return nil, fmt.Errorf("%w: missing requestId", ErrMalformedMessage)
	}
	if w.RequestStatus == nil {
		return nil, fmt.Errorf("%w: missing requestStatus", ErrMalformedMessage)
	}
	return &Packet{
		RequestName:    w.RequestName,
		RequestID:      *w.RequestID,
		RequestStatus:  *w.RequestStatus,
		RequestContent: w.RequestContent,
		Code:           w.Code,
	}, nil
}

func (p *Packet) Context() context.Context {
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

func (p *Packet) Conn() Conn          { return p.conn }
func (p *Packet) Client() *Client     { return p.client }
func (p *Packet) Deadline() time.Time { return p.deadline }

// String returns a content field, or false when it is missing or not a
// non-empty string.
func (p *Packet) String(key string) (string, bool) {
	v, ok := p.RequestContent[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Answer turns the packet into an answer with the given code and content
// and writes it back to the connection it arrived on. The inbound content
// is replaced, never echoed.
func (p *Packet) Answer(code Code, content map[string]any) error {
	p.RequestStatus = true
	p.Code = code
	p.RequestContent = content

	if p.conn == nil {
		return ErrNoConnection
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	if err := p.conn.Send(data); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	if p.dispatcher != nil {
		p.dispatcher.metrics.answerSent(code)
	}
	return nil
}

func (p *Packet) SendSuccess() error {
	return p.Answer(CodeSuccess, nil)
}

func (p *Packet) SendError(code Code) error {
	return p.Answer(code, nil)
}

func (p *Packet) SendContent(content map[string]any) error {
	return p.Answer(CodeSuccess, content)
}
