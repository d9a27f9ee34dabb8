package tcp

// GetSelfInfo serves GET_SELF_USER with the current stored record of the
// authenticated user.
type GetSelfInfo struct {
	InboundOnly
	accounts *Accounts
}

func NewGetSelfInfo(accounts *Accounts) *GetSelfInfo {
	return &GetSelfInfo{accounts: accounts}
}

func (t *GetSelfInfo) OnIncomingRequest(p *Packet) {
	a := t.accounts

	client := p.Client()
	if client == nil || !client.IsAuthenticated() {
		a.answer(p, CodeNotAuthenticated, nil)
		return
	}

	// re-read rather than trusting the copy taken at authentication time
	user, code := a.findUser(p, client.Username())
	if code != CodeSuccess {
		a.answer(p, code, nil)
		return
	}

	content, err := userContent(user)
	if err != nil {
		a.logger().Error("user_serialization_failed", "username", user.Username, "error", err.Error())
		a.answer(p, CodeError, nil)
		return
	}
	a.answer(p, CodeSuccess, content)
}
