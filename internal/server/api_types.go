package server

import (
	"time"

	"github.com/google/uuid"

	"gridplay-server/internal/tictactoe"
)

// ============================================================================
// LIVE CONNECTION PAYLOADS
// ============================================================================

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JoinQueueRequest struct {
	GameType string `json:"gameType"`
}

type LeaveQueueRequest struct {
	GameType string `json:"gameType"`
}

type JoinMatchRequest struct {
	MatchID uuid.UUID `json:"matchId"`
}

type MoveRequest struct {
	// MatchID may be omitted when the connection is already subscribed
	// to a match.
	MatchID  *uuid.UUID `json:"matchId"`
	Position *int       `json:"position"`
}

// PlayerInfo is the public view of a match participant.
type PlayerInfo struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

type MovePlacement struct {
	Position int       `json:"position"`
	PlayerID uuid.UUID `json:"playerId"`
}

// MatchState is the full client-facing snapshot of one match, always
// derived from freshly-read persisted state.
type MatchState struct {
	ID          uuid.UUID       `json:"id"`
	GameType    string          `json:"gameType"`
	Status      string          `json:"status"`
	WinnerID    *uuid.UUID      `json:"winnerId"`
	PlayerX     *PlayerInfo     `json:"playerX"`
	PlayerO     *PlayerInfo     `json:"playerO"`
	Board       tictactoe.Board `json:"board"`
	CurrentTurn tictactoe.Mark  `json:"currentTurn"`
	Moves       []MovePlacement `json:"moves"`
}

type MatchReadyPayload struct {
	MatchID uuid.UUID   `json:"matchId"`
	Match   *MatchState `json:"match"`
}

type FriendInvitePayload struct {
	InviteID uuid.UUID  `json:"inviteId"`
	FromUser PlayerInfo `json:"fromUser"`
}

type FriendAcceptedPayload struct {
	Friend PlayerInfo `json:"friend"`
}

type FriendRemovedPayload struct {
	FriendID uuid.UUID `json:"friendId"`
}

type GameInvitePayload struct {
	MatchID  uuid.UUID  `json:"matchId"`
	GameType string     `json:"gameType"`
	FromUser PlayerInfo `json:"fromUser"`
}

type OpponentBusyPayload struct {
	OpponentID uuid.UUID `json:"opponentId"`
}

// ============================================================================
// HTTP PAYLOADS
// ============================================================================

type CreateMatchRequest struct {
	OpponentUserID *uuid.UUID `json:"opponentUserId"`
}

type MatchResponse struct {
	Match *MatchState `json:"match"`
}

type MatchSummary struct {
	ID         uuid.UUID   `json:"id"`
	Status     string      `json:"status"`
	WinnerID   *uuid.UUID  `json:"winnerId"`
	PlayerX    *PlayerInfo `json:"playerX"`
	PlayerO    *PlayerInfo `json:"playerO"`
	CreatedAt  time.Time   `json:"createdAt"`
	FinishedAt *time.Time  `json:"finishedAt"`
}

type StatsResponse struct {
	Stats StatLine `json:"stats"`
}

type StatLine struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

type LeaderboardRow struct {
	Rank     int       `json:"rank"`
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Wins     int       `json:"wins"`
	Losses   int       `json:"losses"`
	Draws    int       `json:"draws"`
}

type InviteFriendRequest struct {
	Username string     `json:"username"`
	UserID   *uuid.UUID `json:"userId"`
}

type NotificationView struct {
	ID           uuid.UUID          `json:"id"`
	Type         string             `json:"type"`
	Read         bool               `json:"read"`
	CreatedAt    time.Time          `json:"createdAt"`
	FriendInvite *FriendInviteView  `json:"friendInvite"`
	GameInvite   *GameInvitePayload `json:"gameInvite"`
}

type FriendInviteView struct {
	ID       uuid.UUID  `json:"id"`
	Status   string     `json:"status"`
	FromUser PlayerInfo `json:"fromUser"`
}
