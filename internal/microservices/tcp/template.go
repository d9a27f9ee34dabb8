package tcp

// Built-in request names.
const (
	TemplateAuthentication = "AUTHENTICATION"
	TemplateGetSelfUser    = "GET_SELF_USER"
	TemplateResumeSession  = "RESUME_SESSION"
	TemplateServerNotice   = "SERVER_NOTICE"
)

// Template handles both sides of one request name: building an outbound
// request, receiving its answer, and serving the same request when a peer
// sends it.
type Template interface {
	// OnNewRequest fills in an outbound packet whose id is already assigned.
	// An error aborts the send.
	OnNewRequest(p *Packet, params ...any) error
	// OnAnswer receives the peer's answer to a request this side sent.
	OnAnswer(p *Packet)
	// OnIncomingRequest serves a peer's request and is responsible for
	// answering it.
	OnIncomingRequest(p *Packet)
}

// TimeoutHandler is implemented by templates that want to know when an
// outbound request expired without an answer.
type TimeoutHandler interface {
	OnTimeout(p *Packet)
}

// InboundOnly gives no-op outbound methods to templates that only serve
// peer requests.
type InboundOnly struct{}

func (InboundOnly) OnNewRequest(*Packet, ...any) error { return nil }
func (InboundOnly) OnAnswer(*Packet)                   {}
