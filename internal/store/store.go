// Package store is the persistence boundary the match core talks to.
// Two implementations ship: postgres (pgx) for the server and an
// in-memory store for tests. Both enforce the same contracts: moves are
// append-only with first-write-wins per position, and finishing a match
// updates the match row and all aggregate counters as one atomic unit.
package store

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a write that lost a race or hit a state guard:
	// position already taken, match no longer waiting, match already
	// finished. Callers treat it as ordinary flow control, not a failure.
	ErrConflict = errors.New("conflict")
)

// GameInviteTTL is how long a game-invite notification stays live.
// Expired invites are purged lazily on the next read.
const GameInviteTTL = 10 * time.Minute

type MatchStatus string

const (
	StatusWaiting    MatchStatus = "waiting"
	StatusInProgress MatchStatus = "in_progress"
	StatusFinished   MatchStatus = "finished"
	StatusAbandoned  MatchStatus = "abandoned"
)

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRejected InviteStatus = "rejected"
)

type NotificationType string

const (
	NotifFriendInvite NotificationType = "friend_invite"
	NotifGameInvite   NotificationType = "game_invite"
)

type User struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Match struct {
	ID        uuid.UUID
	GameType  string
	PlayerXID uuid.UUID
	PlayerOID *uuid.UUID
	Status    MatchStatus
	WinnerID  *uuid.UUID
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Move is an immutable placement fact; order is creation order.
type Move struct {
	ID        uuid.UUID
	MatchID   uuid.UUID
	PlayerID  uuid.UUID
	Position  int
	CreatedAt time.Time
}

type UserGameStats struct {
	UserID   uuid.UUID
	GameType string
	Wins     int
	Losses   int
	Draws    int
}

// FriendGameRecord keys on the canonical (sorted) user pair.
type FriendGameRecord struct {
	UserAID  uuid.UUID
	UserBID  uuid.UUID
	GameType string
	WinsA    int
	WinsB    int
	Draws    int
}

type Friendship struct {
	UserAID   uuid.UUID
	UserBID   uuid.UUID
	CreatedAt time.Time
}

type FriendInvite struct {
	ID         uuid.UUID
	FromUserID uuid.UUID
	ToUserID   uuid.UUID
	Status     InviteStatus
	CreatedAt  time.Time
}

type Notification struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Type           NotificationType
	FriendInviteID *uuid.UUID
	MatchID        *uuid.UUID
	Read           bool
	CreatedAt      time.Time
}

type LeaderboardEntry struct {
	UserID   uuid.UUID
	Username string
	Wins     int
	Losses   int
	Draws    int
}

// CanonicalPair orders two user ids so a friendship or pair record is
// stored and looked up the same way regardless of direction. Byte order
// matches postgres UUID comparison, so both layers agree.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

type Store interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUsername(ctx context.Context, id uuid.UUID, username string) error

	// Friendships; implementations canonicalize the pair themselves.
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
	DeleteFriendship(ctx context.Context, a, b uuid.UUID) error
	ListFriends(ctx context.Context, userID uuid.UUID) ([]User, error)

	// Friend invites
	GetFriendInvite(ctx context.Context, id uuid.UUID) (*FriendInvite, error)
	FindFriendInvite(ctx context.Context, from, to uuid.UUID) (*FriendInvite, error)
	SaveFriendInvite(ctx context.Context, inv *FriendInvite) error
	ListPendingFriendInvites(ctx context.Context, to uuid.UUID) ([]FriendInvite, error)
	// AcceptFriendInvite marks the invite accepted and creates the
	// canonical friendship row in one transaction.
	AcceptFriendInvite(ctx context.Context, id uuid.UUID) error
	RejectFriendInvite(ctx context.Context, id uuid.UUID) error

	// Matches and moves
	CreateMatch(ctx context.Context, m *Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*Match, error)
	ListMatches(ctx context.Context, userID uuid.UUID, status *MatchStatus, limit int) ([]Match, error)
	// FindActiveMatch returns a waiting or in-progress match the user is
	// a player of, or ErrNotFound.
	FindActiveMatch(ctx context.Context, userID uuid.UUID, gameType string) (*Match, error)
	// AbandonWaitingMatches marks every waiting match the user created
	// as abandoned.
	AbandonWaitingMatches(ctx context.Context, gameType string, playerXID uuid.UUID) error
	// JoinMatch fills the O slot and flips waiting to in_progress;
	// ErrConflict if the match is no longer waiting.
	JoinMatch(ctx context.Context, matchID, playerOID uuid.UUID) error
	ListMoves(ctx context.Context, matchID uuid.UUID) ([]Move, error)
	// CreateMove appends a move; ErrConflict when the position is
	// already taken, which is how racing writers are tiebroken.
	CreateMove(ctx context.Context, mv *Move) error
	// FinishMatch transitions in_progress to finished and updates both
	// players' stats plus the pair record in a single transaction.
	// ErrConflict if the match is not in progress (already finished).
	FinishMatch(ctx context.Context, matchID uuid.UUID, winnerID *uuid.UUID) error

	// Aggregates
	GetUserGameStats(ctx context.Context, userID uuid.UUID, gameType string) (*UserGameStats, error)
	GetFriendGameRecord(ctx context.Context, a, b uuid.UUID, gameType string) (*FriendGameRecord, error)
	Leaderboard(ctx context.Context, gameType string, limit int) ([]LeaderboardEntry, error)

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error
	// FindGameInvite returns the user's live (unexpired) game-invite
	// notification for a specific match, or ErrNotFound.
	FindGameInvite(ctx context.Context, userID, matchID uuid.UUID) (*Notification, error)
	DeleteGameInvites(ctx context.Context, matchID uuid.UUID) error

	Close()
}
