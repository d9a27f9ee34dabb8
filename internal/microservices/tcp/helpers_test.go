package tcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkthub/pkg/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeConn records every frame written to it.
type fakeConn struct {
	addr string

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{addr: addr}
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeConn) lastPacket(t *testing.T) *Packet {
	t.Helper()
	frames := c.frames()
	require.NotEmpty(t, frames, "expected a frame to be sent")
	p, err := ParsePacket(frames[len(frames)-1])
	require.NoError(t, err)
	return p
}

// MockUserRepository mocks the user lookup collaborator.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	saveErr  error
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]*Session)}
}

func (m *memorySessions) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sessions[s.SessionID] = s
	return nil
}

func (m *memorySessions) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *memorySessions) List(ctx context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *memorySessions) get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

type recordedLogin struct {
	userID string
	at     time.Time
}

type fakeLogins struct {
	mu     sync.Mutex
	logins []recordedLogin
}

func (f *fakeLogins) Record(userID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, recordedLogin{userID: userID, at: at})
}

func (f *fakeLogins) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logins)
}

// recordingTemplate counts every callback it receives.
type recordingTemplate struct {
	mu       sync.Mutex
	newCalls []*Packet
	answers  []*Packet
	incoming []*Packet
	timeouts []*Packet

	newErr error
	reply  Code
}

func (r *recordingTemplate) OnNewRequest(p *Packet, params ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.newErr != nil {
		return r.newErr
	}
	r.newCalls = append(r.newCalls, p)
	if len(params) > 0 {
		if content, ok := params[0].(map[string]any); ok {
			p.RequestContent = content
		}
	}
	return nil
}

func (r *recordingTemplate) OnAnswer(p *Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, p)
}

func (r *recordingTemplate) OnIncomingRequest(p *Packet) {
	r.mu.Lock()
	r.incoming = append(r.incoming, p)
	reply := r.reply
	r.mu.Unlock()
	if reply != "" {
		_ = p.SendError(reply)
	}
}

func (r *recordingTemplate) OnTimeout(p *Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts = append(r.timeouts, p)
}

func (r *recordingTemplate) counts() (newCalls, answers, incoming, timeouts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.newCalls), len(r.answers), len(r.incoming), len(r.timeouts)
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newAlice(t *testing.T) *models.User {
	t.Helper()
	return &models.User{
		ID:        "6f1c2a8e-5d4b-4d7e-9a21-3b8c7e0f9d11",
		Username:  "alice",
		Email:     "alice@example.com",
		Password:  hashPassword(t, "secret"),
		Role:      "user",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

var errDatabaseDown = errors.New("connection refused")
