package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"gridplay-server/internal/store"
	"gridplay-server/internal/tictactoe"
)

// MatchCoordinator owns every match status transition. It validates
// moves against freshly persisted state, detects terminal boards,
// finishes matches atomically with their stats updates, and triggers
// the broadcast afterwards. A per-match lock serializes the whole
// read-validate-write move sequence inside this process; the store's
// unique position index and the finish CAS settle anything the lock
// cannot see.
type MatchCoordinator struct {
	store    store.Store
	notifier *Notifier

	mu    sync.Mutex
	locks map[uuid.UUID]*matchLock
}

type matchLock struct {
	sync.Mutex
	refs int
}

func NewMatchCoordinator(st store.Store, notifier *Notifier) *MatchCoordinator {
	return &MatchCoordinator{
		store:    st,
		notifier: notifier,
		locks:    make(map[uuid.UUID]*matchLock),
	}
}

// lockMatch takes the lock for one match and returns its release func.
// Locks are refcounted so finished matches do not pin an entry forever.
func (mc *MatchCoordinator) lockMatch(matchID uuid.UUID) func() {
	mc.mu.Lock()
	l, ok := mc.locks[matchID]
	if !ok {
		l = &matchLock{}
		mc.locks[matchID] = l
	}
	l.refs++
	mc.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		mc.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(mc.locks, matchID)
		}
		mc.mu.Unlock()
	}
}

// CreateMatch starts a match as the creator (always the X slot).
//
// With no opponent the match is an open `waiting` game anyone can join.
// With an opponent it is a direct challenge: the opponent must be a
// friend, gets a durable game-invite notification plus a live push, and
// the match waits for them. If the opponent is already in a live match
// that *they* created and *this* creator holds a live invite to, the
// challenge is treated as accepting that invite instead of creating a
// duplicate; any other busy opponent rejects the challenge.
func (mc *MatchCoordinator) CreateMatch(ctx context.Context, creatorID uuid.UUID, opponentID *uuid.UUID) (*MatchState, error) {
	if opponentID != nil {
		return mc.createChallenge(ctx, creatorID, *opponentID)
	}
	match := &store.Match{
		GameType:  tictactoe.GameType,
		PlayerXID: creatorID,
		Status:    store.StatusWaiting,
	}
	if err := mc.store.CreateMatch(ctx, match); err != nil {
		return nil, err
	}
	return mc.buildState(ctx, match, nil)
}

func (mc *MatchCoordinator) createChallenge(ctx context.Context, creatorID, opponentID uuid.UUID) (*MatchState, error) {
	if opponentID == creatorID {
		return nil, coded(CodeInvalidPayload, "Cannot play against yourself")
	}
	friends, err := mc.store.AreFriends(ctx, creatorID, opponentID)
	if err != nil {
		return nil, err
	}
	if !friends {
		return nil, coded(CodeForbidden, "Can only challenge friends")
	}

	busy, err := mc.store.FindActiveMatch(ctx, opponentID, tictactoe.GameType)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if busy != nil {
		// Counter-challenge merge: the opponent invited us to exactly
		// this match, so challenging them back means accepting it.
		if busy.Status == store.StatusWaiting && busy.PlayerXID == opponentID {
			if _, inviteErr := mc.store.FindGameInvite(ctx, creatorID, busy.ID); inviteErr == nil {
				return mc.Join(ctx, busy.ID, creatorID)
			}
		}
		mc.notifier.SendToUser(creatorID, ServerMessage{
			Type:    MsgGameOpponentBusy,
			Payload: OpponentBusyPayload{OpponentID: opponentID},
		})
		return nil, coded(CodeInvalidState, "Opponent is already in a match")
	}

	match := &store.Match{
		GameType:  tictactoe.GameType,
		PlayerXID: creatorID,
		Status:    store.StatusWaiting,
	}
	if err := mc.store.CreateMatch(ctx, match); err != nil {
		return nil, err
	}
	matchID := match.ID
	notif := &store.Notification{
		UserID:  opponentID,
		Type:    store.NotifGameInvite,
		MatchID: &matchID,
	}
	if err := mc.store.CreateNotification(ctx, notif); err != nil {
		return nil, err
	}

	creator, err := mc.store.GetUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	mc.notifier.SendToUser(opponentID, ServerMessage{
		Type: MsgGameInvite,
		Payload: GameInvitePayload{
			MatchID:  match.ID,
			GameType: match.GameType,
			FromUser: PlayerInfo{ID: creator.ID, Username: creator.Username},
		},
	})
	return mc.buildState(ctx, match, nil)
}

// CreatePairedMatch starts a matchmade game: both slots filled, no
// waiting phase. Used only by the matchmaker.
func (mc *MatchCoordinator) CreatePairedMatch(ctx context.Context, playerXID, playerOID uuid.UUID) (*MatchState, error) {
	oID := playerOID
	match := &store.Match{
		GameType:  tictactoe.GameType,
		PlayerXID: playerXID,
		PlayerOID: &oID,
		Status:    store.StatusInProgress,
	}
	if err := mc.store.CreateMatch(ctx, match); err != nil {
		return nil, err
	}
	moves, err := mc.store.ListMoves(ctx, match.ID)
	if err != nil {
		return nil, err
	}
	return mc.buildState(ctx, match, moves)
}

// Join fills the O slot of a waiting match and starts it. The store's
// conditional update makes concurrent joins first-write-wins.
func (mc *MatchCoordinator) Join(ctx context.Context, matchID, userID uuid.UUID) (*MatchState, error) {
	match, err := mc.store.GetMatch(ctx, matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, coded(CodeNotFound, "Match not found")
		}
		return nil, err
	}
	if match.Status != store.StatusWaiting {
		return nil, coded(CodeInvalidState, "Match is not waiting for a player")
	}
	if match.PlayerXID == userID {
		return nil, coded(CodeInvalidState, "You are already in this match")
	}
	if err := mc.store.JoinMatch(ctx, matchID, userID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, coded(CodeInvalidState, "Match is not waiting for a player")
		}
		return nil, err
	}
	// The invite is consumed by joining, however the joiner got here.
	if err := mc.store.DeleteGameInvites(ctx, matchID); err != nil {
		return nil, err
	}
	state, err := mc.Snapshot(ctx, matchID)
	if err != nil {
		return nil, err
	}
	mc.notifier.BroadcastMatch(matchID, ServerMessage{Type: MsgMatchState, Payload: state})
	return state, nil
}

// ApplyMove is the critical path. Every check runs against state read
// inside this call; pre-read state from the caller is never trusted.
// The match lock keeps read-validate-write atomic, so of two racing
// moves for the same turn slot exactly one commits and the loser fails
// the re-derived turn or position check.
func (mc *MatchCoordinator) ApplyMove(ctx context.Context, matchID, userID uuid.UUID, position int) (*MatchState, error) {
	if !tictactoe.IsValidPosition(position) {
		return nil, coded(CodeInvalidPayload, "position must be 0-8")
	}
	unlock := mc.lockMatch(matchID)
	defer unlock()

	match, err := mc.store.GetMatch(ctx, matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, coded(CodeNotFound, "Match not found")
		}
		return nil, err
	}
	if match.Status != store.StatusInProgress {
		return nil, coded(CodeInvalidState, "Match is not in progress")
	}
	if match.PlayerOID == nil {
		return nil, coded(CodeInvalidState, "Waiting for second player")
	}
	playerO := *match.PlayerOID
	if userID != match.PlayerXID && userID != playerO {
		return nil, coded(CodeForbidden, "Not a player in this match")
	}

	moves, err := mc.store.ListMoves(ctx, matchID)
	if err != nil {
		return nil, err
	}
	board := tictactoe.BoardFromMoves(placements(moves), match.PlayerXID, playerO)
	if board[position] != "" {
		return nil, coded(CodeInvalidMove, "Position already taken")
	}
	currentPlayerID := match.PlayerXID
	if tictactoe.CurrentTurn(board) == tictactoe.MarkO {
		currentPlayerID = playerO
	}
	if currentPlayerID != userID {
		return nil, coded(CodeNotYourTurn, "Not your turn")
	}

	move := &store.Move{MatchID: matchID, PlayerID: userID, Position: position}
	if err := mc.store.CreateMove(ctx, move); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the race for this position.
			return nil, coded(CodeInvalidMove, "Position already taken")
		}
		return nil, err
	}

	newBoard := tictactoe.BoardFromMoves(
		append(placements(moves), tictactoe.Placement{Position: position, PlayerID: userID}),
		match.PlayerXID, playerO)
	winnerMark := tictactoe.Winner(newBoard)
	if winnerMark != "" || tictactoe.IsDraw(newBoard) {
		var winnerID *uuid.UUID
		switch winnerMark {
		case tictactoe.MarkX:
			winnerID = &match.PlayerXID
		case tictactoe.MarkO:
			winnerID = &playerO
		}
		if err := mc.store.FinishMatch(ctx, matchID, winnerID); err != nil &&
			!errors.Is(err, store.ErrConflict) {
			// ErrConflict means another writer finished first; the
			// fresh read below reflects whatever they committed.
			return nil, err
		}
	}

	// Broadcast freshly-read persisted truth, never the in-memory
	// projection computed above.
	state, err := mc.Snapshot(ctx, matchID)
	if err != nil {
		return nil, err
	}
	mc.notifier.BroadcastMatch(matchID, ServerMessage{Type: MsgMatchState, Payload: state})
	return state, nil
}

// Snapshot re-reads a match and its moves and builds the client state.
func (mc *MatchCoordinator) Snapshot(ctx context.Context, matchID uuid.UUID) (*MatchState, error) {
	match, err := mc.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	moves, err := mc.store.ListMoves(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return mc.buildState(ctx, match, moves)
}

func (mc *MatchCoordinator) buildState(ctx context.Context, match *store.Match, moves []store.Move) (*MatchState, error) {
	state := &MatchState{
		ID:          match.ID,
		GameType:    match.GameType,
		Status:      string(match.Status),
		WinnerID:    match.WinnerID,
		CurrentTurn: tictactoe.MarkX,
		Moves:       []MovePlacement{},
	}
	playerX, err := mc.store.GetUser(ctx, match.PlayerXID)
	if err != nil {
		return nil, fmt.Errorf("load player X: %w", err)
	}
	state.PlayerX = &PlayerInfo{ID: playerX.ID, Username: playerX.Username}

	if match.PlayerOID == nil {
		// No opponent yet: empty board, X to open.
		return state, nil
	}
	playerO, err := mc.store.GetUser(ctx, *match.PlayerOID)
	if err != nil {
		return nil, fmt.Errorf("load player O: %w", err)
	}
	state.PlayerO = &PlayerInfo{ID: playerO.ID, Username: playerO.Username}

	state.Board = tictactoe.BoardFromMoves(placements(moves), match.PlayerXID, *match.PlayerOID)
	state.CurrentTurn = tictactoe.CurrentTurn(state.Board)
	for _, mv := range moves {
		state.Moves = append(state.Moves, MovePlacement{Position: mv.Position, PlayerID: mv.PlayerID})
	}
	return state, nil
}

func placements(moves []store.Move) []tictactoe.Placement {
	out := make([]tictactoe.Placement, 0, len(moves))
	for _, mv := range moves {
		out = append(out, tictactoe.Placement{Position: mv.Position, PlayerID: mv.PlayerID})
	}
	return out
}
