package server

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Notifier is the fan-out layer: best-effort pushes with no retry, no
// acknowledgement and no cross-message ordering guarantee. Durable
// notification rows are the fallback for users with no live connection.
type Notifier struct {
	registry *ConnectionRegistry
}

func NewNotifier(registry *ConnectionRegistry) *Notifier {
	return &Notifier{registry: registry}
}

// SendToUser pushes to every live connection of a user; a user with no
// connections is a silent no-op.
func (n *Notifier) SendToUser(userID uuid.UUID, msg ServerMessage) {
	for _, c := range n.registry.UserClients(userID) {
		// Background context: a broadcast must not inherit the
		// triggering request's cancellation.
		if err := c.Send(context.Background(), msg); err != nil {
			log.Printf("send %s to user %s failed: %v", msg.Type, userID, err)
		}
	}
}

// BroadcastMatch pushes to every connection subscribed to a match.
func (n *Notifier) BroadcastMatch(matchID uuid.UUID, msg ServerMessage) {
	for _, c := range n.registry.MatchClients(matchID) {
		if err := c.Send(context.Background(), msg); err != nil {
			log.Printf("broadcast %s for match %s failed: %v", msg.Type, matchID, err)
		}
	}
}
