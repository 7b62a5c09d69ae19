package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gridplay-server/internal/store"
	"gridplay-server/internal/tictactoe"
)

func TestMatchmaker_PairsTwoPlayers(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem := newTestServer()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")
	_, aliceConn := connectFake(s, alice)
	_, bobConn := connectFake(s, bob)

	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))
	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, bob))

	aliceReady, ok := aliceConn.lastOfType(MsgMatchReady)
	assert.True(ok, "alice should receive match_ready")
	bobReady, ok := bobConn.lastOfType(MsgMatchReady)
	assert.True(ok, "bob should receive match_ready")

	alicePayload := aliceReady.Payload.(MatchReadyPayload)
	bobPayload := bobReady.Payload.(MatchReadyPayload)
	assert.Equal(alicePayload.MatchID, bobPayload.MatchID)
	assert.Equal(string(store.StatusInProgress), alicePayload.Match.Status)
	assert.NotNil(alicePayload.Match.PlayerO)

	// Earlier-queued player takes the X slot.
	assert.Equal(alice, alicePayload.Match.PlayerX.ID)
	assert.Equal(bob, alicePayload.Match.PlayerO.ID)

	assert.False(s.matchmaker.Queued(tictactoe.GameType, alice))
	assert.False(s.matchmaker.Queued(tictactoe.GameType, bob))

	match, err := mem.GetMatch(ctx, alicePayload.MatchID)
	assert.NoError(err)
	assert.Equal(store.StatusInProgress, match.Status)
}

func TestMatchmaker_SinglePlayerWaits(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem := newTestServer()

	alice := seedUser(t, mem, "alice")
	_, aliceConn := connectFake(s, alice)

	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))

	assert.True(s.matchmaker.Queued(tictactoe.GameType, alice))
	_, got := aliceConn.lastOfType(MsgMatchReady)
	assert.False(got)
}

func TestMatchmaker_ReenqueueKeepsSingleEntry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem := newTestServer()

	alice := seedUser(t, mem, "alice")
	connectFake(s, alice)

	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))
	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))

	assert.Len(s.matchmaker.queues[tictactoe.GameType], 1)
}

func TestMatchmaker_ReenqueueMovesToBack(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem := newTestServer()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")
	connectFake(s, alice)
	connectFake(s, bob)

	// Build the queue state directly so no pairing has run yet.
	s.matchmaker.mu.Lock()
	now := time.Now()
	s.matchmaker.queues[tictactoe.GameType] = []queueEntry{
		{userID: alice, joinedAt: now.Add(-2 * time.Second)},
		{userID: bob, joinedAt: now.Add(-time.Second)},
	}
	s.matchmaker.mu.Unlock()

	// Alice re-joins, which moves her behind bob before pairing runs,
	// so bob is now the longest-waiting user and takes the X slot.
	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))

	match, err := mem.FindActiveMatch(ctx, bob, tictactoe.GameType)
	assert.NoError(err)
	assert.Equal(bob, match.PlayerXID)
	assert.Equal(alice, *match.PlayerOID)
}

func TestMatchmaker_EnqueueAbandonsWaitingMatches(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem := newTestServer()

	alice := seedUser(t, mem, "alice")
	connectFake(s, alice)

	match := &store.Match{GameType: tictactoe.GameType, PlayerXID: alice, Status: store.StatusWaiting}
	assert.NoError(mem.CreateMatch(ctx, match))

	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))

	updated, err := mem.GetMatch(ctx, match.ID)
	assert.NoError(err)
	assert.Equal(store.StatusAbandoned, updated.Status)
}

func TestMatchmaker_PrefersNonFriendPair(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem := newTestServer()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")
	carol := seedUser(t, mem, "carol")
	mem.AddFriendship(alice, bob)

	_, aliceConn := connectFake(s, alice)
	_, bobConn := connectFake(s, bob)
	_, carolConn := connectFake(s, carol)

	// Build the queue state directly so the scan sees all three at once.
	s.matchmaker.mu.Lock()
	now := time.Now()
	s.matchmaker.queues[tictactoe.GameType] = []queueEntry{
		{userID: alice, joinedAt: now},
		{userID: bob, joinedAt: now},
		{userID: carol, joinedAt: now},
	}
	s.matchmaker.pairLocked(ctx, tictactoe.GameType)
	s.matchmaker.mu.Unlock()

	// Alice and carol are strangers, so they pair; bob keeps waiting.
	_, aliceGot := aliceConn.lastOfType(MsgMatchReady)
	_, carolGot := carolConn.lastOfType(MsgMatchReady)
	_, bobGot := bobConn.lastOfType(MsgMatchReady)
	assert.True(aliceGot)
	assert.True(carolGot)
	assert.False(bobGot)
	assert.True(s.matchmaker.Queued(tictactoe.GameType, bob))
}

func TestMatchmaker_AllFriendsPairAnyway(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem := newTestServer()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")
	mem.AddFriendship(alice, bob)

	_, aliceConn := connectFake(s, alice)
	_, bobConn := connectFake(s, bob)

	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))
	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, bob))

	_, aliceGot := aliceConn.lastOfType(MsgMatchReady)
	_, bobGot := bobConn.lastOfType(MsgMatchReady)
	assert.True(aliceGot, "friends still pair when no stranger is available")
	assert.True(bobGot)
}

func TestMatchmaker_DequeueAndRemoveUser(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem := newTestServer()

	alice := seedUser(t, mem, "alice")
	connectFake(s, alice)

	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))
	s.matchmaker.Dequeue(tictactoe.GameType, alice)
	assert.False(s.matchmaker.Queued(tictactoe.GameType, alice))

	// Dequeue of an absent user is a no-op.
	s.matchmaker.Dequeue(tictactoe.GameType, alice)

	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))
	s.matchmaker.RemoveUser(alice)
	assert.False(s.matchmaker.Queued(tictactoe.GameType, alice))
}

func TestMatchReadyPayload_JSONShape(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem := newTestServer()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")
	_, aliceConn := connectFake(s, alice)
	connectFake(s, bob)

	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, alice))
	assert.NoError(s.matchmaker.Enqueue(ctx, tictactoe.GameType, bob))

	ready, ok := aliceConn.lastOfType(MsgMatchReady)
	assert.True(ok)

	data, err := json.Marshal(ready)
	assert.NoError(err)
	assert.Contains(string(data), `"type":"match_ready"`)
	assert.Contains(string(data), `"currentTurn":"X"`)
	assert.Contains(string(data), `"board":[null,null,null,null,null,null,null,null,null]`)
}
