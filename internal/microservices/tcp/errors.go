package tcp

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrClientNotFound   = errors.New("client not found")
	ErrClientExists     = errors.New("client already registered")
	ErrUnmatchedAnswer  = errors.New("no pending request matches answer")
	ErrUnknownTemplate  = errors.New("unknown request template")
	ErrNoConnection     = errors.New("packet is not bound to a connection")
)
