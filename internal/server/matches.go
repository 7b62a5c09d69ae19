package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"gridplay-server/internal/store"
	"gridplay-server/internal/tictactoe"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (s *Server) createMatchHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, coded(CodeInvalidJSON, "Invalid JSON"))
		return
	}
	state, err := s.matches.CreateMatch(r.Context(), requestUserID(r), req.OpponentUserID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MatchResponse{Match: state})
}

func (s *Server) joinMatchHandler(w http.ResponseWriter, r *http.Request) {
	matchID := pathUUID(w, r, "id")
	if matchID == uuid.Nil {
		return
	}
	state, err := s.matches.Join(r.Context(), matchID, requestUserID(r))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{Match: state})
}

func (s *Server) getMatchHandler(w http.ResponseWriter, r *http.Request) {
	matchID := pathUUID(w, r, "id")
	if matchID == uuid.Nil {
		return
	}
	state, err := s.matches.Snapshot(r.Context(), matchID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{Match: state})
}

func (s *Server) listMatchesHandler(w http.ResponseWriter, r *http.Request) {
	var status *store.MatchStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		switch st := store.MatchStatus(raw); st {
		case store.StatusWaiting, store.StatusInProgress, store.StatusFinished, store.StatusAbandoned:
			status = &st
		default:
			httpError(w, coded(CodeInvalidPayload, "Unknown status: "+raw))
			return
		}
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpError(w, coded(CodeInvalidPayload, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	matches, err := s.store.ListMatches(r.Context(), requestUserID(r), status, limit)
	if err != nil {
		httpError(w, err)
		return
	}
	summaries, err := s.summarize(r.Context(), matches)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]MatchSummary{"matches": summaries})
}

// summarize resolves player usernames for a page of matches, fetching
// each distinct user once.
func (s *Server) summarize(ctx context.Context, matches []store.Match) ([]MatchSummary, error) {
	players := make(map[uuid.UUID]*PlayerInfo)
	lookup := func(id uuid.UUID) (*PlayerInfo, error) {
		if info, ok := players[id]; ok {
			return info, nil
		}
		user, err := s.store.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		info := &PlayerInfo{ID: user.ID, Username: user.Username}
		players[id] = info
		return info, nil
	}

	summaries := make([]MatchSummary, 0, len(matches))
	for _, m := range matches {
		summary := MatchSummary{
			ID:         m.ID,
			Status:     string(m.Status),
			WinnerID:   m.WinnerID,
			CreatedAt:  m.CreatedAt,
			FinishedAt: m.FinishedAt,
		}
		playerX, err := lookup(m.PlayerXID)
		if err != nil {
			return nil, err
		}
		summary.PlayerX = playerX
		if m.PlayerOID != nil {
			playerO, err := lookup(*m.PlayerOID)
			if err != nil {
				return nil, err
			}
			summary.PlayerO = playerO
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetUserGameStats(r.Context(), requestUserID(r), tictactoe.GameType)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Stats: StatLine{Wins: stats.Wins, Losses: stats.Losses, Draws: stats.Draws},
	})
}

// vsFriendHandler reports the caller's head-to-head record against a
// friend, from the caller's perspective.
func (s *Server) vsFriendHandler(w http.ResponseWriter, r *http.Request) {
	friendID := pathUUID(w, r, "friendId")
	if friendID == uuid.Nil {
		return
	}
	userID := requestUserID(r)
	friends, err := s.store.AreFriends(r.Context(), userID, friendID)
	if err != nil {
		httpError(w, err)
		return
	}
	if !friends {
		httpError(w, coded(CodeForbidden, "Not friends with this user"))
		return
	}
	record, err := s.store.GetFriendGameRecord(r.Context(), userID, friendID, tictactoe.GameType)
	if err != nil {
		httpError(w, err)
		return
	}
	line := StatLine{Wins: record.WinsA, Losses: record.WinsB, Draws: record.Draws}
	if a, _ := store.CanonicalPair(userID, friendID); a != userID {
		line.Wins, line.Losses = line.Losses, line.Wins
	}
	writeJSON(w, http.StatusOK, StatsResponse{Stats: line})
}

func (s *Server) leaderboardHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Leaderboard(r.Context(), tictactoe.GameType, defaultListLimit)
	if err != nil {
		httpError(w, err)
		return
	}
	rows := make([]LeaderboardRow, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, LeaderboardRow{
			Rank:     i + 1,
			UserID:   e.UserID,
			Username: e.Username,
			Wins:     e.Wins,
			Losses:   e.Losses,
			Draws:    e.Draws,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]LeaderboardRow{"leaderboard": rows})
}
