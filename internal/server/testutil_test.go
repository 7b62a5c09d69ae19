package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"gridplay-server/internal/auth"
	"gridplay-server/internal/store"
)

// newTestServer wires the full component graph around the in-memory
// store. Returning the store too lets tests seed users and friendships.
func newTestServer() (*Server, *store.Memory) {
	mem := store.NewMemory()
	return New(mem, auth.NewTokens("test-secret")), mem
}

// setupTestServer additionally serves the real routes over HTTP so
// tests can dial websockets and hit the API. Returns the base URL.
func setupTestServer() (*Server, *store.Memory, string, func()) {
	s, mem := newTestServer()
	httpServer := httptest.NewServer(s.RegisterRoutes())
	return s, mem, httpServer.URL, httpServer.Close
}

func wsAddr(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/websocket"
}

func seedUser(t *testing.T, mem *store.Memory, username string) uuid.UUID {
	t.Helper()
	user := &store.User{Username: username}
	if err := mem.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return user.ID
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// fakeTransport records every message pushed through it, standing in
// for a real socket in registry and fan-out tests.
type fakeTransport struct {
	mu   sync.Mutex
	sent []ServerMessage
}

func (f *fakeTransport) Send(ctx context.Context, msg ServerMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) messages() []ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ServerMessage(nil), f.sent...)
}

func (f *fakeTransport) lastOfType(msgType string) (ServerMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == msgType {
			return f.sent[i], true
		}
	}
	return ServerMessage{}, false
}

// connectFake registers a recording client for a user and returns both.
func connectFake(s *Server, userID uuid.UUID) (*Client, *fakeTransport) {
	ft := &fakeTransport{}
	client := newClient(userID, ft)
	s.registry.Register(client)
	return client, ft
}
