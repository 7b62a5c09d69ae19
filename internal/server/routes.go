package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"gridplay-server/internal/auth"
	"gridplay-server/internal/store"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	mux.HandleFunc("/websocket", s.websocketHandler)

	mux.Handle("POST /api/auth/connection-token", s.requireAuth(s.connectionTokenHandler))

	mux.Handle("GET /api/users/me", s.requireAuth(s.currentUserHandler))
	mux.Handle("PATCH /api/users/me", s.requireAuth(s.updateUsernameHandler))

	mux.Handle("POST /api/matches", s.requireAuth(s.createMatchHandler))
	mux.Handle("GET /api/matches", s.requireAuth(s.listMatchesHandler))
	mux.Handle("GET /api/matches/stats", s.requireAuth(s.statsHandler))
	mux.Handle("GET /api/matches/stats/vs/{friendId}", s.requireAuth(s.vsFriendHandler))
	mux.Handle("GET /api/matches/leaderboard", s.requireAuth(s.leaderboardHandler))
	mux.Handle("GET /api/matches/{id}", s.requireAuth(s.getMatchHandler))
	mux.Handle("POST /api/matches/{id}/join", s.requireAuth(s.joinMatchHandler))

	mux.Handle("GET /api/friends", s.requireAuth(s.listFriendsHandler))
	mux.Handle("DELETE /api/friends/{id}", s.requireAuth(s.removeFriendHandler))
	mux.Handle("GET /api/friends/invites", s.requireAuth(s.listFriendInvitesHandler))
	mux.Handle("POST /api/friends/invites", s.requireAuth(s.inviteFriendHandler))
	mux.Handle("POST /api/friends/invites/{id}/accept", s.requireAuth(s.acceptFriendInviteHandler))
	mux.Handle("POST /api/friends/invites/{id}/reject", s.requireAuth(s.rejectFriendInviteHandler))

	mux.Handle("GET /api/notifications", s.requireAuth(s.listNotificationsHandler))
	mux.Handle("POST /api/notifications/{id}/read", s.requireAuth(s.markNotificationReadHandler))

	// Wrap the mux with CORS middleware
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*") // Replace "*" with specific origins if needed
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type ctxKey int

const userIDKey ctxKey = 0

// requireAuth verifies the bearer access token and stashes the caller's
// user id in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			http.Error(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, err := s.tokens.Verify(raw, auth.PurposeAccess)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func requestUserID(r *http.Request) uuid.UUID {
	userID, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return userID
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) connectionTokenHandler(w http.ResponseWriter, r *http.Request) {
	token, err := s.tokens.SignConn(requestUserID(r))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) currentUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), requestUserID(r))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PlayerInfo{ID: user.ID, Username: user.Username})
}

func (s *Server) updateUsernameHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, coded(CodeInvalidJSON, "Invalid JSON"))
		return
	}
	username, err := normalizeUsername(req.Username)
	if err != nil {
		httpError(w, err)
		return
	}
	userID := requestUserID(r)
	if err := s.store.UpdateUsername(r.Context(), userID, username); err != nil {
		if errors.Is(err, store.ErrConflict) {
			httpError(w, coded(CodeInvalidState, "Username already taken"))
			return
		}
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PlayerInfo{ID: userID, Username: username})
}

var usernameRe = regexp.MustCompile(`^[a-z0-9]{2,32}$`)

// normalizeUsername strips spaces and lowercases before validating.
func normalizeUsername(raw string) (string, error) {
	username := strings.ToLower(strings.ReplaceAll(raw, " ", ""))
	if !usernameRe.MatchString(username) {
		return "", coded(CodeInvalidPayload, "Username must be 2-32 letters or digits")
	}
	return username, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// httpError renders any handler error as a JSON error body with the
// status implied by its protocol code.
func httpError(w http.ResponseWriter, err error) {
	ce := asCoded(err)
	if ce.Code == CodeServerError {
		log.Printf("Internal error: %v", err)
	}
	writeJSON(w, httpStatus(ce.Code), map[string]ErrorPayload{
		"error": {Code: ce.Code, Message: ce.Message},
	})
}

func httpStatus(code string) int {
	switch code {
	case CodeInvalidJSON, CodeInvalidPayload, CodeUnknownType:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeInvalidState, CodeInvalidMove, CodeNotYourTurn:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// pathUUID parses a uuid path segment; uuid.Nil means it was invalid
// and an error response has already been written.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) uuid.UUID {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		httpError(w, coded(CodeInvalidPayload, "Invalid id"))
		return uuid.Nil
	}
	return id
}
