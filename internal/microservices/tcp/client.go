package tcp

import (
	"sync"
	"time"

	"pkthub/pkg/models"

	"github.com/google/uuid"
)

// Client is the server-side session state of one live connection.
type Client struct {
	SessionID string

	address     string
	conn        Conn
	connectedAt time.Time

	mu            sync.RWMutex
	authenticated bool
	user          *models.User
}

func newClient(conn Conn) *Client {
	return &Client{
		SessionID:   uuid.NewString(),
		address:     conn.RemoteAddr(),
		conn:        conn,
		connectedAt: time.Now(),
	}
}

func (c *Client) Address() string        { return c.address }
func (c *Client) Conn() Conn             { return c.conn }
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Client) User() *models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Username is empty until the client authenticates.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return ""
	}
	return c.user.Username
}

// Authenticate sets the flag and the user together. There is no logout;
// only connection teardown discards the state.
func (c *Client) Authenticate(user *models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.user = user
}
