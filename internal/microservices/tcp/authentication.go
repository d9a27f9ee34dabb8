package tcp

// Authentication serves AUTHENTICATION: username and password in, the
// connection's client authenticated out.
type Authentication struct {
	InboundOnly
	accounts *Accounts
}

func NewAuthentication(accounts *Accounts) *Authentication {
	return &Authentication{accounts: accounts}
}

func (t *Authentication) OnIncomingRequest(p *Packet) {
	a := t.accounts
	if p.Client() == nil {
		a.answer(p, CodeError, nil)
		return
	}

	username, okUser := p.String("username")
	password, okPass := p.String("password")
	if !okUser || !okPass {
		a.logger().Warn("malformed_authentication_request",
			"remote_addr", p.Conn().RemoteAddr(),
			"request_id", p.RequestID,
		)
		a.answer(p, CodeError, nil)
		return
	}

	user, code := a.findUser(p, username)
	if code != CodeSuccess {
		a.answer(p, code, nil)
		return
	}

	if err := a.Verifier.Verify(user.Password, password); err != nil {
		a.logger().Info("authentication_rejected",
			"remote_addr", p.Conn().RemoteAddr(),
			"username", username,
		)
		a.answer(p, CodeInvalidPassword, nil)
		return
	}

	a.establish(p, user)

	var content map[string]any
	if a.Tokens != nil {
		token, err := a.Tokens.Issue(user.ID, user.Username)
		if err != nil {
			// the client is authenticated either way, it just cannot resume
			a.logger().Error("token_issue_failed", "username", user.Username, "error", err.Error())
		} else {
			content = map[string]any{"token": token}
		}
	}
	a.answer(p, CodeSuccess, content)
}
