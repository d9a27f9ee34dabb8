package tcp

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ClientInfo is a point-in-time view of a Client for the admin API.
type ClientInfo struct {
	SessionID     string    `json:"session_id"`
	Address       string    `json:"address"`
	Authenticated bool      `json:"authenticated"`
	Username      string    `json:"username,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// ClientRegistry tracks live connections by remote address.
type ClientRegistry struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *slog.Logger
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		logger:  slog.Default(),
	}
}

func (r *ClientRegistry) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// Register creates the Client for a newly accepted connection. A second
// registration for a live address is a wiring bug and is refused.
func (r *ClientRegistry) Register(conn Conn) (*Client, error) {
	client := newClient(conn)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[client.address]; exists {
		return nil, fmt.Errorf("%w: %s", ErrClientExists, client.address)
	}
	r.clients[client.address] = client
	r.logger.Info("client_added",
		"session_id", client.SessionID,
		"remote_addr", client.address,
	)
	return client, nil
}

func (r *ClientRegistry) Lookup(address string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, address)
	}
	return client, nil
}

// Unregister removes and returns the Client, or nil if it was already gone.
func (r *ClientRegistry) Unregister(address string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[address]
	if !ok {
		return nil
	}
	delete(r.clients, address)
	r.logger.Info("client_removed",
		"session_id", client.SessionID,
		"remote_addr", address,
	)
	return client
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Clients returns the live clients, oldest connection first.
func (r *ClientRegistry) Clients() []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].connectedAt.Before(out[j].connectedAt)
	})
	return out
}

func (r *ClientRegistry) Snapshot() []ClientInfo {
	clients := r.Clients()
	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, ClientInfo{
			SessionID:     c.SessionID,
			Address:       c.address,
			Authenticated: c.IsAuthenticated(),
			Username:      c.Username(),
			ConnectedAt:   c.connectedAt,
		})
	}
	return infos
}
