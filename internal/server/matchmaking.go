package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridplay-server/internal/store"
)

type queueEntry struct {
	userID   uuid.UUID
	joinedAt time.Time
}

// Matchmaker holds the per-game-type waiting queues. The mutex is held
// for the whole pairing pass, friendship lookups and match creation
// included, so two queue events can never pair the same entry twice.
// Queues are in-memory only and empty after a restart; clients re-enqueue.
type Matchmaker struct {
	mu       sync.Mutex
	queues   map[string][]queueEntry
	store    store.Store
	matches  *MatchCoordinator
	notifier *Notifier
}

func NewMatchmaker(st store.Store, matches *MatchCoordinator, notifier *Notifier) *Matchmaker {
	return &Matchmaker{
		queues:   make(map[string][]queueEntry),
		store:    st,
		matches:  matches,
		notifier: notifier,
	}
}

// Enqueue adds a user to the queue for a game type and immediately
// tries to pair. Any open waiting matches the user created are
// abandoned first so they cannot end up in two games at once.
// Re-enqueueing drops the old entry and appends a fresh one, so a
// re-join always moves the user to the back.
func (m *Matchmaker) Enqueue(ctx context.Context, gameType string, userID uuid.UUID) error {
	if err := m.store.AbandonWaitingMatches(ctx, gameType, userID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(gameType, userID)
	m.queues[gameType] = append(m.queues[gameType], queueEntry{userID: userID, joinedAt: time.Now()})
	m.pairLocked(ctx, gameType)
	return nil
}

// Dequeue removes a user from one game type's queue.
func (m *Matchmaker) Dequeue(gameType string, userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(gameType, userID)
}

// RemoveUser drops a user from every queue. Called when their last
// connection closes.
func (m *Matchmaker) RemoveUser(userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for gameType := range m.queues {
		m.removeLocked(gameType, userID)
	}
}

// Queued reports whether a user is waiting in a game type's queue.
func (m *Matchmaker) Queued(gameType string, userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queues[gameType] {
		if e.userID == userID {
			return true
		}
	}
	return false
}

func (m *Matchmaker) removeLocked(gameType string, userID uuid.UUID) {
	q := m.queues[gameType]
	for i, e := range q {
		if e.userID == userID {
			m.queues[gameType] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// pairLocked drains the queue while at least two users wait. Pairs
// prefer non-friends, scanning earliest-joined combinations first; when
// every possible pair is friends the two longest-waiting users play
// each other anyway. The earlier-queued user takes the X slot.
func (m *Matchmaker) pairLocked(ctx context.Context, gameType string) {
	for len(m.queues[gameType]) >= 2 {
		q := m.queues[gameType]
		xi, oi := 0, 1
		found := false
	scan:
		for i := 0; i < len(q)-1; i++ {
			for j := i + 1; j < len(q); j++ {
				friends, err := m.store.AreFriends(ctx, q[i].userID, q[j].userID)
				if err != nil {
					log.Printf("matchmaking friendship check failed: %v", err)
					continue
				}
				if !friends {
					xi, oi = i, j
					found = true
					break scan
				}
			}
		}
		if !found {
			xi, oi = 0, 1
		}
		playerX, playerO := q[xi].userID, q[oi].userID

		// Remove the higher index first so the lower one stays valid.
		m.queues[gameType] = append(q[:oi], q[oi+1:]...)
		q = m.queues[gameType]
		m.queues[gameType] = append(q[:xi], q[xi+1:]...)

		state, err := m.matches.CreatePairedMatch(ctx, playerX, playerO)
		if err != nil {
			// Both users fall out of the queue; they can re-enqueue.
			log.Printf("matchmaking pair creation failed: %v", err)
			continue
		}
		ready := ServerMessage{
			Type:    MsgMatchReady,
			Payload: MatchReadyPayload{MatchID: state.ID, Match: state},
		}
		m.notifier.SendToUser(playerX, ready)
		m.notifier.SendToUser(playerO, ready)
	}
}
