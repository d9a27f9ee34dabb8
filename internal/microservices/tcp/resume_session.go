package tcp

// ResumeSession serves RESUME_SESSION, authenticating a new connection with
// the token handed out by a previous AUTHENTICATION.
type ResumeSession struct {
	InboundOnly
	accounts *Accounts
}

func NewResumeSession(accounts *Accounts) *ResumeSession {
	return &ResumeSession{accounts: accounts}
}

func (t *ResumeSession) OnIncomingRequest(p *Packet) {
	a := t.accounts

	token, ok := p.String("token")
	if !ok || a.Tokens == nil || p.Client() == nil {
		a.answer(p, CodeError, nil)
		return
	}

	userID, username, err := a.Tokens.Validate(token)
	if err != nil {
		a.logger().Info("session_token_rejected",
			"remote_addr", p.Conn().RemoteAddr(),
			"error", err.Error(),
		)
		a.answer(p, CodeNotAuthenticated, nil)
		return
	}

	user, code := a.findUser(p, username)
	if code != CodeSuccess {
		a.answer(p, code, nil)
		return
	}
	// a recreated account with the same name must not inherit old tokens
	if user.ID != userID {
		a.answer(p, CodeNotAuthenticated, nil)
		return
	}

	a.establish(p, user)
	a.answer(p, CodeSuccess, nil)
}
