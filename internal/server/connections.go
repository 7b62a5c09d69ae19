package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// transport is the send side of one live socket. Abstracted so the
// registry and fan-out can be exercised in tests without real sockets.
type transport interface {
	Send(ctx context.Context, msg ServerMessage) error
}

type wsTransport struct {
	sock *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.sock.Write(ctx, websocket.MessageText, data)
}

// Client is one authenticated live connection. A user may hold several
// at once (multiple tabs or devices).
type Client struct {
	ID     string
	UserID uuid.UUID
	transport
}

func newClient(userID uuid.UUID, t transport) *Client {
	return &Client{ID: uuid.New().String(), UserID: userID, transport: t}
}

// ConnectionRegistry tracks which connections belong to which user and
// which match each connection is watching. All state is in-memory and
// starts empty; a restart simply drops every live connection.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	userConns   map[uuid.UUID]map[*Client]struct{}
	matchConns  map[uuid.UUID]map[*Client]struct{}
	clientMatch map[*Client]uuid.UUID
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		userConns:   make(map[uuid.UUID]map[*Client]struct{}),
		matchConns:  make(map[uuid.UUID]map[*Client]struct{}),
		clientMatch: make(map[*Client]uuid.UUID),
	}
}

func (r *ConnectionRegistry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.userConns[c.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		r.userConns[c.UserID] = conns
	}
	conns[c] = struct{}{}
}

// Unregister removes the connection from every structure it appears in.
// Safe to call more than once.
func (r *ConnectionRegistry) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conns, ok := r.userConns[c.UserID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.userConns, c.UserID)
		}
	}
	r.unsubscribeLocked(c)
}

// SubscribeMatch points the connection at a match. A connection watches
// at most one match; subscribing again implicitly leaves the previous one.
func (r *ConnectionRegistry) SubscribeMatch(matchID uuid.UUID, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(c)
	conns, ok := r.matchConns[matchID]
	if !ok {
		conns = make(map[*Client]struct{})
		r.matchConns[matchID] = conns
	}
	conns[c] = struct{}{}
	r.clientMatch[c] = matchID
}

func (r *ConnectionRegistry) UnsubscribeMatch(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(c)
}

func (r *ConnectionRegistry) unsubscribeLocked(c *Client) {
	matchID, ok := r.clientMatch[c]
	if !ok {
		return
	}
	delete(r.clientMatch, c)
	if conns, ok := r.matchConns[matchID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.matchConns, matchID)
		}
	}
}

// SubscribedMatch returns the match the connection is watching, if any.
func (r *ConnectionRegistry) SubscribedMatch(c *Client) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matchID, ok := r.clientMatch[c]
	return matchID, ok
}

// UserClients snapshots every live connection of a user.
func (r *ConnectionRegistry) UserClients(userID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.userConns[userID]))
	for c := range r.userConns[userID] {
		clients = append(clients, c)
	}
	return clients
}

// MatchClients snapshots every connection subscribed to a match,
// regardless of which user owns it.
func (r *ConnectionRegistry) MatchClients(matchID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.matchConns[matchID]))
	for c := range r.matchConns[matchID] {
		clients = append(clients, c)
	}
	return clients
}
