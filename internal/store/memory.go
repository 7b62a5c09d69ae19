package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a map-backed Store used by tests. It mirrors the postgres
// implementation's contracts exactly: first-write-wins per position,
// conditional state transitions, lazy game-invite expiry. One mutex
// guards everything, which also makes multi-row updates atomic.
type Memory struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*User
	friendships map[[2]uuid.UUID]*Friendship
	invites     map[uuid.UUID]*FriendInvite
	matches     map[uuid.UUID]*Match
	moves       map[uuid.UUID][]*Move
	stats       map[statsKey]*UserGameStats
	records     map[recordKey]*FriendGameRecord
	notifs      map[uuid.UUID]*Notification
	now         func() time.Time
}

var _ Store = (*Memory)(nil)

type statsKey struct {
	userID   uuid.UUID
	gameType string
}

type recordKey struct {
	userA    uuid.UUID
	userB    uuid.UUID
	gameType string
}

func NewMemory() *Memory {
	return &Memory{
		users:       make(map[uuid.UUID]*User),
		friendships: make(map[[2]uuid.UUID]*Friendship),
		invites:     make(map[uuid.UUID]*FriendInvite),
		matches:     make(map[uuid.UUID]*Match),
		moves:       make(map[uuid.UUID][]*Move),
		stats:       make(map[statsKey]*UserGameStats),
		records:     make(map[recordKey]*FriendGameRecord),
		notifs:      make(map[uuid.UUID]*Notification),
		now:         time.Now,
	}
}

// SetClock overrides the time source so tests can age notifications.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Close() {}

// Users

func (m *Memory) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrConflict
		}
	}
	u.CreatedAt = m.now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateUsername(_ context.Context, id uuid.UUID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, other := range m.users {
		if otherID != id && other.Username == username {
			return ErrConflict
		}
	}
	u.Username = username
	u.UpdatedAt = m.now()
	return nil
}

// Friendships

func pairKey(a, b uuid.UUID) [2]uuid.UUID {
	userA, userB := CanonicalPair(a, b)
	return [2]uuid.UUID{userA, userB}
}

func (m *Memory) AddFriendship(a, b uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addFriendshipLocked(a, b)
}

func (m *Memory) addFriendshipLocked(a, b uuid.UUID) {
	key := pairKey(a, b)
	if _, ok := m.friendships[key]; ok {
		return
	}
	m.friendships[key] = &Friendship{UserAID: key[0], UserBID: key[1], CreatedAt: m.now()}
}

func (m *Memory) AreFriends(_ context.Context, a, b uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.friendships[pairKey(a, b)]
	return ok, nil
}

func (m *Memory) DeleteFriendship(_ context.Context, a, b uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(a, b)
	if _, ok := m.friendships[key]; !ok {
		return ErrNotFound
	}
	delete(m.friendships, key)
	return nil
}

func (m *Memory) ListFriends(_ context.Context, userID uuid.UUID) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var friends []User
	for key := range m.friendships {
		var friendID uuid.UUID
		switch userID {
		case key[0]:
			friendID = key[1]
		case key[1]:
			friendID = key[0]
		default:
			continue
		}
		if u, ok := m.users[friendID]; ok {
			friends = append(friends, *u)
		}
	}
	sort.Slice(friends, func(i, j int) bool { return friends[i].Username < friends[j].Username })
	return friends, nil
}

// Friend invites

func (m *Memory) GetFriendInvite(_ context.Context, id uuid.UUID) (*FriendInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *Memory) FindFriendInvite(_ context.Context, from, to uuid.UUID) (*FriendInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invites {
		if inv.FromUserID == from && inv.ToUserID == to {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SaveFriendInvite(_ context.Context, inv *FriendInvite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invites {
		if existing.FromUserID == inv.FromUserID && existing.ToUserID == inv.ToUserID {
			existing.Status = inv.Status
			*inv = *existing
			return nil
		}
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.CreatedAt = m.now()
	cp := *inv
	m.invites[inv.ID] = &cp
	return nil
}

func (m *Memory) ListPendingFriendInvites(_ context.Context, to uuid.UUID) ([]FriendInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var invites []FriendInvite
	for _, inv := range m.invites {
		if inv.ToUserID == to && inv.Status == InvitePending {
			invites = append(invites, *inv)
		}
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].CreatedAt.After(invites[j].CreatedAt) })
	return invites, nil
}

func (m *Memory) AcceptFriendInvite(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok || inv.Status != InvitePending {
		return ErrConflict
	}
	inv.Status = InviteAccepted
	m.addFriendshipLocked(inv.FromUserID, inv.ToUserID)
	return nil
}

func (m *Memory) RejectFriendInvite(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok || inv.Status != InvitePending {
		return ErrConflict
	}
	inv.Status = InviteRejected
	return nil
}

// Matches

func (m *Memory) CreateMatch(_ context.Context, match *Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if match.ID == uuid.Nil {
		match.ID = uuid.New()
	}
	match.CreatedAt = m.now()
	cp := *match
	m.matches[match.ID] = &cp
	return nil
}

func (m *Memory) GetMatch(_ context.Context, id uuid.UUID) (*Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *match
	return &cp, nil
}

func (m *Memory) ListMatches(_ context.Context, userID uuid.UUID, status *MatchStatus, limit int) ([]Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []Match
	for _, match := range m.matches {
		isPlayer := match.PlayerXID == userID || (match.PlayerOID != nil && *match.PlayerOID == userID)
		if !isPlayer {
			continue
		}
		if status != nil && match.Status != *status {
			continue
		}
		matches = append(matches, *match)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *Memory) FindActiveMatch(_ context.Context, userID uuid.UUID, gameType string) (*Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Match
	for _, match := range m.matches {
		if match.GameType != gameType {
			continue
		}
		if match.Status != StatusWaiting && match.Status != StatusInProgress {
			continue
		}
		isPlayer := match.PlayerXID == userID || (match.PlayerOID != nil && *match.PlayerOID == userID)
		if !isPlayer {
			continue
		}
		if found == nil || match.CreatedAt.After(found.CreatedAt) {
			found = match
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *Memory) AbandonWaitingMatches(_ context.Context, gameType string, playerXID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, match := range m.matches {
		if match.GameType == gameType && match.PlayerXID == playerXID && match.Status == StatusWaiting {
			match.Status = StatusAbandoned
		}
	}
	return nil
}

func (m *Memory) JoinMatch(_ context.Context, matchID, playerOID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if match.Status != StatusWaiting {
		return ErrConflict
	}
	id := playerOID
	match.PlayerOID = &id
	match.Status = StatusInProgress
	return nil
}

// Moves

func (m *Memory) ListMoves(_ context.Context, matchID uuid.UUID) ([]Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.moves[matchID]
	moves := make([]Move, 0, len(stored))
	for _, mv := range stored {
		moves = append(moves, *mv)
	}
	return moves, nil
}

func (m *Memory) CreateMove(_ context.Context, mv *Move) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.matches[mv.MatchID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.moves[mv.MatchID] {
		if existing.Position == mv.Position {
			return ErrConflict
		}
	}
	if mv.ID == uuid.Nil {
		mv.ID = uuid.New()
	}
	mv.CreatedAt = m.now()
	cp := *mv
	m.moves[mv.MatchID] = append(m.moves[mv.MatchID], &cp)
	return nil
}

func (m *Memory) FinishMatch(_ context.Context, matchID uuid.UUID, winnerID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if match.Status != StatusInProgress {
		return ErrConflict
	}
	if match.PlayerOID == nil {
		return fmt.Errorf("match %s has no second player", matchID)
	}

	match.Status = StatusFinished
	match.WinnerID = winnerID
	finished := m.now()
	match.FinishedAt = &finished

	playerX, playerO := match.PlayerXID, *match.PlayerOID
	won := func(id uuid.UUID) int {
		if winnerID != nil && *winnerID == id {
			return 1
		}
		return 0
	}
	draw := 0
	if winnerID == nil {
		draw = 1
	}
	m.bumpStats(playerX, match.GameType, won(playerX), won(playerO), draw)
	m.bumpStats(playerO, match.GameType, won(playerO), won(playerX), draw)

	userA, userB := CanonicalPair(playerX, playerO)
	key := recordKey{userA: userA, userB: userB, gameType: match.GameType}
	rec, ok := m.records[key]
	if !ok {
		rec = &FriendGameRecord{UserAID: userA, UserBID: userB, GameType: match.GameType}
		m.records[key] = rec
	}
	rec.WinsA += won(userA)
	rec.WinsB += won(userB)
	rec.Draws += draw
	return nil
}

func (m *Memory) bumpStats(userID uuid.UUID, gameType string, wins, losses, draws int) {
	key := statsKey{userID: userID, gameType: gameType}
	stats, ok := m.stats[key]
	if !ok {
		stats = &UserGameStats{UserID: userID, GameType: gameType}
		m.stats[key] = stats
	}
	stats.Wins += wins
	stats.Losses += losses
	stats.Draws += draws
}

// Aggregates

func (m *Memory) GetUserGameStats(_ context.Context, userID uuid.UUID, gameType string) (*UserGameStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stats, ok := m.stats[statsKey{userID: userID, gameType: gameType}]; ok {
		cp := *stats
		return &cp, nil
	}
	return &UserGameStats{UserID: userID, GameType: gameType}, nil
}

func (m *Memory) GetFriendGameRecord(_ context.Context, a, b uuid.UUID, gameType string) (*FriendGameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userA, userB := CanonicalPair(a, b)
	if rec, ok := m.records[recordKey{userA: userA, userB: userB, gameType: gameType}]; ok {
		cp := *rec
		return &cp, nil
	}
	return &FriendGameRecord{UserAID: userA, UserBID: userB, GameType: gameType}, nil
}

func (m *Memory) Leaderboard(_ context.Context, gameType string, limit int) ([]LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []LeaderboardEntry
	for key, stats := range m.stats {
		if key.gameType != gameType {
			continue
		}
		username := ""
		if u, ok := m.users[key.userID]; ok {
			username = u.Username
		}
		entries = append(entries, LeaderboardEntry{
			UserID:   key.userID,
			Username: username,
			Wins:     stats.Wins,
			Losses:   stats.Losses,
			Draws:    stats.Draws,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Wins != entries[j].Wins {
			return entries[i].Wins > entries[j].Wins
		}
		if entries[i].Losses != entries[j].Losses {
			return entries[i].Losses < entries[j].Losses
		}
		return entries[i].Draws > entries[j].Draws
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Notifications

func (m *Memory) CreateNotification(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = m.now()
	cp := *n
	m.notifs[n.ID] = &cp
	return nil
}

func (m *Memory) expiredLocked(n *Notification) bool {
	return n.Type == NotifGameInvite && m.now().Sub(n.CreatedAt) > GameInviteTTL
}

func (m *Memory) ListNotifications(_ context.Context, userID uuid.UUID) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var notifs []Notification
	for id, n := range m.notifs {
		if n.UserID != userID {
			continue
		}
		if m.expiredLocked(n) {
			delete(m.notifs, id)
			continue
		}
		notifs = append(notifs, *n)
	}
	sort.Slice(notifs, func(i, j int) bool { return notifs[i].CreatedAt.After(notifs[j].CreatedAt) })
	return notifs, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifs[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

func (m *Memory) FindGameInvite(_ context.Context, userID, matchID uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifs {
		if n.UserID == userID && n.Type == NotifGameInvite &&
			n.MatchID != nil && *n.MatchID == matchID && !m.expiredLocked(n) {
			cp := *n
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DeleteGameInvites(_ context.Context, matchID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.notifs {
		if n.Type == NotifGameInvite && n.MatchID != nil && *n.MatchID == matchID {
			delete(m.notifs, id)
		}
	}
	return nil
}
