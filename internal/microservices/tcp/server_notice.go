package tcp

import (
	"fmt"
	"log/slog"
	"time"
)

// ServerNotice is the server-originated SERVER_NOTICE request, used to
// tell connected clients about shutdown. Peers acknowledge it; they may
// not send it themselves.
type ServerNotice struct {
	logger *slog.Logger
}

func NewServerNotice(logger *slog.Logger) *ServerNotice {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerNotice{logger: logger}
}

// OnNewRequest expects the notice text as the first parameter.
func (t *ServerNotice) OnNewRequest(p *Packet, params ...any) error {
	if len(params) == 0 {
		return fmt.Errorf("missing notice message")
	}
	message, ok := params[0].(string)
	if !ok {
		return fmt.Errorf("notice message must be a string, got %T", params[0])
	}
	p.RequestContent = map[string]any{
		"message":   message,
		"timestamp": time.Now().Unix(),
	}
	return nil
}

func (t *ServerNotice) OnAnswer(p *Packet) {
	t.logger.Debug("server_notice_acknowledged",
		"remote_addr", p.Conn().RemoteAddr(),
		"request_id", p.RequestID,
		"code", p.Code,
	)
}

func (t *ServerNotice) OnTimeout(p *Packet) {
	t.logger.Debug("server_notice_unacknowledged",
		"remote_addr", p.Conn().RemoteAddr(),
		"request_id", p.RequestID,
	)
}

func (t *ServerNotice) OnIncomingRequest(p *Packet) {
	if err := p.SendError(CodeError); err != nil {
		t.logger.Warn("answer_send_failed", "request_id", p.RequestID, "error", err.Error())
	}
}
