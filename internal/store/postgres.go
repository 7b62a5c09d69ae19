package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate applies the embedded schema. All statements are idempotent
// (CREATE ... IF NOT EXISTS), so it is safe to run at every startup.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// mapErr converts driver errors to the store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

// Users

func (p *Postgres) CreateUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	const q = `
		INSERT INTO users (id, username)
		VALUES ($1, $2)
		RETURNING created_at, updated_at`
	return mapErr(p.pool.QueryRow(ctx, q, u.ID, u.Username).Scan(&u.CreatedAt, &u.UpdatedAt))
}

func (p *Postgres) scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	const q = `SELECT id, username, created_at, updated_at FROM users WHERE id = $1`
	return p.scanUser(p.pool.QueryRow(ctx, q, id))
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	const q = `SELECT id, username, created_at, updated_at FROM users WHERE username = $1`
	return p.scanUser(p.pool.QueryRow(ctx, q, username))
}

func (p *Postgres) UpdateUsername(ctx context.Context, id uuid.UUID, username string) error {
	const q = `UPDATE users SET username = $2, updated_at = now() WHERE id = $1`
	tag, err := p.pool.Exec(ctx, q, id, username)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Friendships

func (p *Postgres) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	userA, userB := CanonicalPair(a, b)
	const q = `SELECT 1 FROM friendships WHERE user_a_id = $1 AND user_b_id = $2`
	var one int
	err := p.pool.QueryRow(ctx, q, userA, userB).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Postgres) DeleteFriendship(ctx context.Context, a, b uuid.UUID) error {
	userA, userB := CanonicalPair(a, b)
	const q = `DELETE FROM friendships WHERE user_a_id = $1 AND user_b_id = $2`
	tag, err := p.pool.Exec(ctx, q, userA, userB)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListFriends(ctx context.Context, userID uuid.UUID) ([]User, error) {
	const q = `
		SELECT u.id, u.username, u.created_at, u.updated_at
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.user_a_id = $1 THEN f.user_b_id ELSE f.user_a_id END
		WHERE f.user_a_id = $1 OR f.user_b_id = $1
		ORDER BY u.username`
	rows, err := p.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		friends = append(friends, u)
	}
	return friends, rows.Err()
}

// Friend invites

func (p *Postgres) scanInvite(row pgx.Row) (*FriendInvite, error) {
	var inv FriendInvite
	if err := row.Scan(&inv.ID, &inv.FromUserID, &inv.ToUserID, &inv.Status, &inv.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &inv, nil
}

func (p *Postgres) GetFriendInvite(ctx context.Context, id uuid.UUID) (*FriendInvite, error) {
	const q = `SELECT id, from_user_id, to_user_id, status, created_at FROM friend_invites WHERE id = $1`
	return p.scanInvite(p.pool.QueryRow(ctx, q, id))
}

func (p *Postgres) FindFriendInvite(ctx context.Context, from, to uuid.UUID) (*FriendInvite, error) {
	const q = `
		SELECT id, from_user_id, to_user_id, status, created_at
		FROM friend_invites WHERE from_user_id = $1 AND to_user_id = $2`
	return p.scanInvite(p.pool.QueryRow(ctx, q, from, to))
}

func (p *Postgres) SaveFriendInvite(ctx context.Context, inv *FriendInvite) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	const q = `
		INSERT INTO friend_invites (id, from_user_id, to_user_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_user_id, to_user_id)
		DO UPDATE SET status = EXCLUDED.status
		RETURNING id, created_at`
	return mapErr(p.pool.QueryRow(ctx, q, inv.ID, inv.FromUserID, inv.ToUserID, inv.Status).
		Scan(&inv.ID, &inv.CreatedAt))
}

func (p *Postgres) ListPendingFriendInvites(ctx context.Context, to uuid.UUID) ([]FriendInvite, error) {
	const q = `
		SELECT id, from_user_id, to_user_id, status, created_at
		FROM friend_invites
		WHERE to_user_id = $1 AND status = 'pending'
		ORDER BY created_at DESC`
	rows, err := p.pool.Query(ctx, q, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []FriendInvite
	for rows.Next() {
		var inv FriendInvite
		if err := rows.Scan(&inv.ID, &inv.FromUserID, &inv.ToUserID, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

func (p *Postgres) AcceptFriendInvite(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		const upd = `
			UPDATE friend_invites SET status = 'accepted'
			WHERE id = $1 AND status = 'pending'
			RETURNING from_user_id, to_user_id`
		var from, to uuid.UUID
		if err := tx.QueryRow(ctx, upd, id).Scan(&from, &to); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConflict
			}
			return err
		}
		userA, userB := CanonicalPair(from, to)
		const ins = `
			INSERT INTO friendships (user_a_id, user_b_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`
		_, err := tx.Exec(ctx, ins, userA, userB)
		return err
	})
}

func (p *Postgres) RejectFriendInvite(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE friend_invites SET status = 'rejected' WHERE id = $1 AND status = 'pending'`
	tag, err := p.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Matches

const matchColumns = `id, game_type, player_x_id, player_o_id, status, winner_id, created_at, finished_at`

func scanMatch(row pgx.Row) (*Match, error) {
	var m Match
	err := row.Scan(&m.ID, &m.GameType, &m.PlayerXID, &m.PlayerOID, &m.Status,
		&m.WinnerID, &m.CreatedAt, &m.FinishedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (p *Postgres) CreateMatch(ctx context.Context, m *Match) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	const q = `
		INSERT INTO matches (id, game_type, player_x_id, player_o_id, status, winner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	return mapErr(p.pool.QueryRow(ctx, q, m.ID, m.GameType, m.PlayerXID, m.PlayerOID, m.Status, m.WinnerID).
		Scan(&m.CreatedAt))
}

func (p *Postgres) GetMatch(ctx context.Context, id uuid.UUID) (*Match, error) {
	q := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	return scanMatch(p.pool.QueryRow(ctx, q, id))
}

func (p *Postgres) ListMatches(ctx context.Context, userID uuid.UUID, status *MatchStatus, limit int) ([]Match, error) {
	q := `SELECT ` + matchColumns + `
		FROM matches
		WHERE (player_x_id = $1 OR player_o_id = $1)
		AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`
	var statusFilter *string
	if status != nil {
		s := string(*status)
		statusFilter = &s
	}
	rows, err := p.pool.Query(ctx, q, userID, statusFilter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		err := rows.Scan(&m.ID, &m.GameType, &m.PlayerXID, &m.PlayerOID, &m.Status,
			&m.WinnerID, &m.CreatedAt, &m.FinishedAt)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (p *Postgres) FindActiveMatch(ctx context.Context, userID uuid.UUID, gameType string) (*Match, error) {
	q := `SELECT ` + matchColumns + `
		FROM matches
		WHERE game_type = $2
		AND (player_x_id = $1 OR player_o_id = $1)
		AND status IN ('waiting', 'in_progress')
		ORDER BY created_at DESC
		LIMIT 1`
	return scanMatch(p.pool.QueryRow(ctx, q, userID, gameType))
}

func (p *Postgres) AbandonWaitingMatches(ctx context.Context, gameType string, playerXID uuid.UUID) error {
	const q = `
		UPDATE matches SET status = 'abandoned'
		WHERE game_type = $1 AND player_x_id = $2 AND status = 'waiting'`
	_, err := p.pool.Exec(ctx, q, gameType, playerXID)
	return err
}

func (p *Postgres) JoinMatch(ctx context.Context, matchID, playerOID uuid.UUID) error {
	// The status guard makes concurrent joins first-write-wins.
	const q = `
		UPDATE matches SET player_o_id = $2, status = 'in_progress'
		WHERE id = $1 AND status = 'waiting'`
	tag, err := p.pool.Exec(ctx, q, matchID, playerOID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Moves

func (p *Postgres) ListMoves(ctx context.Context, matchID uuid.UUID) ([]Move, error) {
	const q = `
		SELECT id, match_id, player_id, position, created_at
		FROM moves WHERE match_id = $1
		ORDER BY created_at, id`
	rows, err := p.pool.Query(ctx, q, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moves []Move
	for rows.Next() {
		var mv Move
		if err := rows.Scan(&mv.ID, &mv.MatchID, &mv.PlayerID, &mv.Position, &mv.CreatedAt); err != nil {
			return nil, err
		}
		moves = append(moves, mv)
	}
	return moves, rows.Err()
}

func (p *Postgres) CreateMove(ctx context.Context, mv *Move) error {
	if mv.ID == uuid.Nil {
		mv.ID = uuid.New()
	}
	const q = `
		INSERT INTO moves (id, match_id, player_id, position)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	return mapErr(p.pool.QueryRow(ctx, q, mv.ID, mv.MatchID, mv.PlayerID, mv.Position).Scan(&mv.CreatedAt))
}

// FinishMatch is the atomic unit behind every match completion: the
// status flip, winner, timestamp, both players' stats and the pair record
// commit together or not at all. The conditional UPDATE doubles as the
// finished-exactly-once guard under races.
func (p *Postgres) FinishMatch(ctx context.Context, matchID uuid.UUID, winnerID *uuid.UUID) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		const upd = `
			UPDATE matches SET status = 'finished', winner_id = $2, finished_at = now()
			WHERE id = $1 AND status = 'in_progress'
			RETURNING game_type, player_x_id, player_o_id`
		var gameType string
		var playerX uuid.UUID
		var playerO *uuid.UUID
		if err := tx.QueryRow(ctx, upd, matchID, winnerID).Scan(&gameType, &playerX, &playerO); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConflict
			}
			return err
		}
		if playerO == nil {
			return fmt.Errorf("match %s has no second player", matchID)
		}

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

		const upsertStats = `
			INSERT INTO user_game_stats (user_id, game_type, wins, losses, draws)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, game_type) DO UPDATE SET
				wins = user_game_stats.wins + EXCLUDED.wins,
				losses = user_game_stats.losses + EXCLUDED.losses,
				draws = user_game_stats.draws + EXCLUDED.draws`
		if _, err := tx.Exec(ctx, upsertStats, playerX, gameType, won(playerX), won(*playerO), draw); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, upsertStats, *playerO, gameType, won(*playerO), won(playerX), draw); err != nil {
			return err
		}

		userA, userB := CanonicalPair(playerX, *playerO)
		const upsertRecord = `
			INSERT INTO friend_game_records (user_a_id, user_b_id, game_type, wins_a, wins_b, draws)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_a_id, user_b_id, game_type) DO UPDATE SET
				wins_a = friend_game_records.wins_a + EXCLUDED.wins_a,
				wins_b = friend_game_records.wins_b + EXCLUDED.wins_b,
				draws = friend_game_records.draws + EXCLUDED.draws`
		_, err := tx.Exec(ctx, upsertRecord, userA, userB, gameType, won(userA), won(userB), draw)
		return err
	})
}

// Aggregates

func (p *Postgres) GetUserGameStats(ctx context.Context, userID uuid.UUID, gameType string) (*UserGameStats, error) {
	const q = `
		SELECT wins, losses, draws FROM user_game_stats
		WHERE user_id = $1 AND game_type = $2`
	stats := &UserGameStats{UserID: userID, GameType: gameType}
	err := p.pool.QueryRow(ctx, q, userID, gameType).Scan(&stats.Wins, &stats.Losses, &stats.Draws)
	if errors.Is(err, pgx.ErrNoRows) {
		// Absent row means no games yet, not an error.
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (p *Postgres) GetFriendGameRecord(ctx context.Context, a, b uuid.UUID, gameType string) (*FriendGameRecord, error) {
	userA, userB := CanonicalPair(a, b)
	const q = `
		SELECT wins_a, wins_b, draws FROM friend_game_records
		WHERE user_a_id = $1 AND user_b_id = $2 AND game_type = $3`
	rec := &FriendGameRecord{UserAID: userA, UserBID: userB, GameType: gameType}
	err := p.pool.QueryRow(ctx, q, userA, userB, gameType).Scan(&rec.WinsA, &rec.WinsB, &rec.Draws)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Postgres) Leaderboard(ctx context.Context, gameType string, limit int) ([]LeaderboardEntry, error) {
	const q = `
		SELECT s.user_id, u.username, s.wins, s.losses, s.draws
		FROM user_game_stats s
		JOIN users u ON u.id = s.user_id
		WHERE s.game_type = $1
		ORDER BY s.wins DESC, s.losses ASC, s.draws DESC
		LIMIT $2`
	rows, err := p.pool.Query(ctx, q, gameType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Wins, &e.Losses, &e.Draws); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Notifications

func (p *Postgres) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	const q = `
		INSERT INTO notifications (id, user_id, type, friend_invite_id, match_id, read)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	return mapErr(p.pool.QueryRow(ctx, q, n.ID, n.UserID, n.Type, n.FriendInviteID, n.MatchID, n.Read).
		Scan(&n.CreatedAt))
}

// purgeExpiredGameInvites drops stale game invites for a user. Called
// lazily from reads rather than by a background job.
func (p *Postgres) purgeExpiredGameInvites(ctx context.Context, userID uuid.UUID) error {
	const q = `
		DELETE FROM notifications
		WHERE user_id = $1 AND type = 'game_invite' AND created_at < $2`
	_, err := p.pool.Exec(ctx, q, userID, time.Now().Add(-GameInviteTTL))
	return err
}

func (p *Postgres) ListNotifications(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	if err := p.purgeExpiredGameInvites(ctx, userID); err != nil {
		return nil, err
	}
	const q = `
		SELECT id, user_id, type, friend_invite_id, match_id, read, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC`
	rows, err := p.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifs []Notification
	for rows.Next() {
		var n Notification
		err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.FriendInviteID, &n.MatchID, &n.Read, &n.CreatedAt)
		if err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

func (p *Postgres) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	const q = `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`
	tag, err := p.pool.Exec(ctx, q, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FindGameInvite(ctx context.Context, userID, matchID uuid.UUID) (*Notification, error) {
	const q = `
		SELECT id, user_id, type, friend_invite_id, match_id, read, created_at
		FROM notifications
		WHERE user_id = $1 AND match_id = $2 AND type = 'game_invite' AND created_at >= $3
		LIMIT 1`
	var n Notification
	err := p.pool.QueryRow(ctx, q, userID, matchID, time.Now().Add(-GameInviteTTL)).
		Scan(&n.ID, &n.UserID, &n.Type, &n.FriendInviteID, &n.MatchID, &n.Read, &n.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &n, nil
}

func (p *Postgres) DeleteGameInvites(ctx context.Context, matchID uuid.UUID) error {
	const q = `DELETE FROM notifications WHERE match_id = $1 AND type = 'game_invite'`
	_, err := p.pool.Exec(ctx, q, matchID)
	return err
}
