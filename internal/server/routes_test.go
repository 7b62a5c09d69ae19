package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"gridplay-server/internal/auth"
	"gridplay-server/internal/store"
)

func accessToken(t *testing.T, s *Server, userID uuid.UUID) string {
	t.Helper()
	token, err := s.tokens.SignAccess(userID)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(mustMarshal(body))
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func TestHealthEndpoint(t *testing.T) {
	assert := assert.New(t)
	_, _, baseURL, cleanup := setupTestServer()
	defer cleanup()

	status, body := doJSON(t, http.MethodGet, baseURL+"/health", "", nil)
	assert.Equal(http.StatusOK, status)
	assert.JSONEq(`{"status":"ok"}`, string(body))
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	assert := assert.New(t)
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	status, _ := doJSON(t, http.MethodGet, baseURL+"/api/friends", "", nil)
	assert.Equal(http.StatusUnauthorized, status)

	// A connection token does not grant API access.
	alice := seedUser(t, mem, "alice")
	connToken, err := s.tokens.SignConn(alice)
	assert.NoError(err)
	status, _ = doJSON(t, http.MethodGet, baseURL+"/api/friends", connToken, nil)
	assert.Equal(http.StatusUnauthorized, status)
}

func TestConnectionTokenEndpoint(t *testing.T) {
	assert := assert.New(t)
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")
	status, body := doJSON(t, http.MethodPost, baseURL+"/api/auth/connection-token", accessToken(t, s, alice), nil)
	assert.Equal(http.StatusOK, status)

	var resp map[string]string
	assert.NoError(json.Unmarshal(body, &resp))

	verified, err := s.tokens.Verify(resp["token"], auth.PurposeConn)
	assert.NoError(err)
	assert.Equal(alice, verified)
}

func TestHTTP_OpenMatchLifecycle(t *testing.T) {
	assert := assert.New(t)
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")

	status, body := doJSON(t, http.MethodPost, baseURL+"/api/matches",
		accessToken(t, s, alice), CreateMatchRequest{})
	assert.Equal(http.StatusCreated, status)

	var created MatchResponse
	assert.NoError(json.Unmarshal(body, &created))
	assert.Equal(string(store.StatusWaiting), created.Match.Status)

	matchURL := baseURL + "/api/matches/" + created.Match.ID.String()
	status, body = doJSON(t, http.MethodPost, matchURL+"/join", accessToken(t, s, bob), nil)
	assert.Equal(http.StatusOK, status)

	var joined MatchResponse
	assert.NoError(json.Unmarshal(body, &joined))
	assert.Equal(string(store.StatusInProgress), joined.Match.Status)
	assert.Equal(bob, joined.Match.PlayerO.ID)

	// Joining twice conflicts.
	carol := seedUser(t, mem, "carol")
	status, _ = doJSON(t, http.MethodPost, matchURL+"/join", accessToken(t, s, carol), nil)
	assert.Equal(http.StatusConflict, status)

	status, body = doJSON(t, http.MethodGet, matchURL, accessToken(t, s, alice), nil)
	assert.Equal(http.StatusOK, status)
	var fetched MatchResponse
	assert.NoError(json.Unmarshal(body, &fetched))
	assert.Equal(created.Match.ID, fetched.Match.ID)

	status, body = doJSON(t, http.MethodGet,
		baseURL+"/api/matches?status=in_progress", accessToken(t, s, alice), nil)
	assert.Equal(http.StatusOK, status)
	var listed struct {
		Matches []MatchSummary `json:"matches"`
	}
	assert.NoError(json.Unmarshal(body, &listed))
	assert.Len(listed.Matches, 1)
	assert.Equal(created.Match.ID, listed.Matches[0].ID)
}

func TestHTTP_MatchNotFound(t *testing.T) {
	assert := assert.New(t)
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")
	status, _ := doJSON(t, http.MethodGet,
		baseURL+"/api/matches/"+uuid.NewString(), accessToken(t, s, alice), nil)
	assert.Equal(http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodGet,
		baseURL+"/api/matches/not-a-uuid", accessToken(t, s, alice), nil)
	assert.Equal(http.StatusBadRequest, status)
}

func TestHTTP_StatsAndLeaderboard(t *testing.T) {
	assert := assert.New(t)
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	matchID, x, o := startGame(t, s, mem)
	mem.AddFriendship(x, o)
	playMoves(t, s, matchID, x, o, 0, 1, 3, 4, 6) // X wins the left column

	status, body := doJSON(t, http.MethodGet,
		baseURL+"/api/matches/stats", accessToken(t, s, x), nil)
	assert.Equal(http.StatusOK, status)
	var stats StatsResponse
	assert.NoError(json.Unmarshal(body, &stats))
	assert.Equal(StatLine{Wins: 1}, stats.Stats)

	status, body = doJSON(t, http.MethodGet,
		baseURL+"/api/matches/stats/vs/"+o.String(), accessToken(t, s, x), nil)
	assert.Equal(http.StatusOK, status)
	var vs StatsResponse
	assert.NoError(json.Unmarshal(body, &vs))
	assert.Equal(StatLine{Wins: 1}, vs.Stats, "head-to-head is reported from the caller's side")

	// The loser sees the mirror image.
	status, body = doJSON(t, http.MethodGet,
		baseURL+"/api/matches/stats/vs/"+x.String(), accessToken(t, s, o), nil)
	assert.Equal(http.StatusOK, status)
	assert.NoError(json.Unmarshal(body, &vs))
	assert.Equal(StatLine{Losses: 1}, vs.Stats)

	status, body = doJSON(t, http.MethodGet,
		baseURL+"/api/matches/leaderboard", accessToken(t, s, x), nil)
	assert.Equal(http.StatusOK, status)
	var board struct {
		Leaderboard []LeaderboardRow `json:"leaderboard"`
	}
	assert.NoError(json.Unmarshal(body, &board))
	assert.NotEmpty(board.Leaderboard)
	assert.Equal(1, board.Leaderboard[0].Rank)
	assert.Equal(x, board.Leaderboard[0].UserID)
}

func TestHTTP_FriendInviteFlow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")
	_, aliceConn := connectFake(s, alice)
	_, bobConn := connectFake(s, bob)

	// Invite by username; spaces and case are normalized away.
	status, body := doJSON(t, http.MethodPost, baseURL+"/api/friends/invites",
		accessToken(t, s, alice), InviteFriendRequest{Username: " B ob "})
	assert.Equal(http.StatusCreated, status)

	var invite FriendInviteView
	assert.NoError(json.Unmarshal(body, &invite))
	assert.Equal("alice", invite.FromUser.Username)

	// Bob gets the live push and the durable notification.
	msg, ok := bobConn.lastOfType(MsgFriendInvite)
	assert.True(ok)
	assert.Equal(invite.ID, msg.Payload.(FriendInvitePayload).InviteID)

	status, body = doJSON(t, http.MethodGet, baseURL+"/api/notifications",
		accessToken(t, s, bob), nil)
	assert.Equal(http.StatusOK, status)
	var notifs struct {
		Notifications []NotificationView `json:"notifications"`
	}
	assert.NoError(json.Unmarshal(body, &notifs))
	assert.Len(notifs.Notifications, 1)
	assert.Equal(string(store.NotifFriendInvite), notifs.Notifications[0].Type)

	// Duplicate invite conflicts while one is pending.
	status, _ = doJSON(t, http.MethodPost, baseURL+"/api/friends/invites",
		accessToken(t, s, alice), InviteFriendRequest{UserID: &bob})
	assert.Equal(http.StatusConflict, status)

	// Only the invitee can accept.
	acceptURL := baseURL + "/api/friends/invites/" + invite.ID.String() + "/accept"
	status, _ = doJSON(t, http.MethodPost, acceptURL, accessToken(t, s, alice), nil)
	assert.Equal(http.StatusForbidden, status)

	status, _ = doJSON(t, http.MethodPost, acceptURL, accessToken(t, s, bob), nil)
	assert.Equal(http.StatusOK, status)

	friends, err := mem.AreFriends(ctx, alice, bob)
	assert.NoError(err)
	assert.True(friends)

	// Both sides hear about it.
	_, ok = aliceConn.lastOfType(MsgFriendAccepted)
	assert.True(ok)
	_, ok = bobConn.lastOfType(MsgFriendAccepted)
	assert.True(ok)

	status, body = doJSON(t, http.MethodGet, baseURL+"/api/friends",
		accessToken(t, s, alice), nil)
	assert.Equal(http.StatusOK, status)
	var list struct {
		Friends []PlayerInfo `json:"friends"`
	}
	assert.NoError(json.Unmarshal(body, &list))
	assert.Len(list.Friends, 1)
	assert.Equal("bob", list.Friends[0].Username)

	// Removal notifies the removed side.
	status, _ = doJSON(t, http.MethodDelete, baseURL+"/api/friends/"+bob.String(),
		accessToken(t, s, alice), nil)
	assert.Equal(http.StatusNoContent, status)
	msg, ok = bobConn.lastOfType(MsgFriendRemoved)
	assert.True(ok)
	assert.Equal(alice, msg.Payload.(FriendRemovedPayload).FriendID)

	friends, err = mem.AreFriends(ctx, alice, bob)
	assert.NoError(err)
	assert.False(friends)
}

func TestHTTP_MutualInviteBecomesFriendship(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")

	status, _ := doJSON(t, http.MethodPost, baseURL+"/api/friends/invites",
		accessToken(t, s, alice), InviteFriendRequest{UserID: &bob})
	assert.Equal(http.StatusCreated, status)

	// Bob inviting alice back counts as acceptance.
	status, _ = doJSON(t, http.MethodPost, baseURL+"/api/friends/invites",
		accessToken(t, s, bob), InviteFriendRequest{UserID: &alice})
	assert.Equal(http.StatusOK, status)

	friends, err := mem.AreFriends(ctx, alice, bob)
	assert.NoError(err)
	assert.True(friends)
}

func TestHTTP_RejectedInviteCanBeResent(t *testing.T) {
	assert := assert.New(t)
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")

	status, body := doJSON(t, http.MethodPost, baseURL+"/api/friends/invites",
		accessToken(t, s, alice), InviteFriendRequest{UserID: &bob})
	assert.Equal(http.StatusCreated, status)
	var invite FriendInviteView
	assert.NoError(json.Unmarshal(body, &invite))

	status, _ = doJSON(t, http.MethodPost,
		baseURL+"/api/friends/invites/"+invite.ID.String()+"/reject",
		accessToken(t, s, bob), nil)
	assert.Equal(http.StatusNoContent, status)

	// Re-invite goes back to pending.
	status, body = doJSON(t, http.MethodPost, baseURL+"/api/friends/invites",
		accessToken(t, s, alice), InviteFriendRequest{UserID: &bob})
	assert.Equal(http.StatusCreated, status)
	assert.NoError(json.Unmarshal(body, &invite))
	assert.Equal(string(store.InvitePending), invite.Status)
}

func TestHTTP_UpdateUsername(t *testing.T) {
	assert := assert.New(t)
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")

	status, body := doJSON(t, http.MethodPatch, baseURL+"/api/users/me",
		accessToken(t, s, alice), map[string]string{"username": "Grid Master 9"})
	assert.Equal(http.StatusOK, status)
	var me PlayerInfo
	assert.NoError(json.Unmarshal(body, &me))
	assert.Equal("gridmaster9", me.Username)

	status, _ = doJSON(t, http.MethodPatch, baseURL+"/api/users/me",
		accessToken(t, s, alice), map[string]string{"username": "x"})
	assert.Equal(http.StatusBadRequest, status)

	// Taken usernames conflict.
	seedUser(t, mem, "bob")
	status, _ = doJSON(t, http.MethodPatch, baseURL+"/api/users/me",
		accessToken(t, s, alice), map[string]string{"username": "bob"})
	assert.Equal(http.StatusConflict, status)
}

func TestHTTP_MarkNotificationRead(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")

	status, _ := doJSON(t, http.MethodPost, baseURL+"/api/friends/invites",
		accessToken(t, s, alice), InviteFriendRequest{UserID: &bob})
	assert.Equal(http.StatusCreated, status)

	notifs, err := mem.ListNotifications(ctx, bob)
	assert.NoError(err)
	assert.Len(notifs, 1)

	// Another user cannot mark it.
	status, _ = doJSON(t, http.MethodPost,
		baseURL+"/api/notifications/"+notifs[0].ID.String()+"/read",
		accessToken(t, s, alice), nil)
	assert.Equal(http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodPost,
		baseURL+"/api/notifications/"+notifs[0].ID.String()+"/read",
		accessToken(t, s, bob), nil)
	assert.Equal(http.StatusNoContent, status)

	notifs, err = mem.ListNotifications(ctx, bob)
	assert.NoError(err)
	assert.True(notifs[0].Read)
}

func TestHTTP_ChallengeCreatesGameInviteNotification(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")
	mem.AddFriendship(alice, bob)

	status, body := doJSON(t, http.MethodPost, baseURL+"/api/matches",
		accessToken(t, s, alice), CreateMatchRequest{OpponentUserID: &bob})
	assert.Equal(http.StatusCreated, status)
	var created MatchResponse
	assert.NoError(json.Unmarshal(body, &created))

	status, body = doJSON(t, http.MethodGet, baseURL+"/api/notifications",
		accessToken(t, s, bob), nil)
	assert.Equal(http.StatusOK, status)
	var notifs struct {
		Notifications []NotificationView `json:"notifications"`
	}
	assert.NoError(json.Unmarshal(body, &notifs))
	assert.Len(notifs.Notifications, 1)
	assert.NotNil(notifs.Notifications[0].GameInvite)
	assert.Equal(created.Match.ID, notifs.Notifications[0].GameInvite.MatchID)
	assert.Equal("alice", notifs.Notifications[0].GameInvite.FromUser.Username)

	// Accepting via the join endpoint consumes the invite.
	status, _ = doJSON(t, http.MethodPost,
		baseURL+"/api/matches/"+created.Match.ID.String()+"/join",
		accessToken(t, s, bob), nil)
	assert.Equal(http.StatusOK, status)

	_, err := mem.FindGameInvite(ctx, bob, created.Match.ID)
	assert.ErrorIs(err, store.ErrNotFound)
}

func TestHTTP_ChallengeNonFriendForbidden(t *testing.T) {
	assert := assert.New(t)
	s, mem, baseURL, cleanup := setupTestServer()
	defer cleanup()

	alice := seedUser(t, mem, "alice")
	bob := seedUser(t, mem, "bob")

	status, _ := doJSON(t, http.MethodPost, baseURL+"/api/matches",
		accessToken(t, s, alice), CreateMatchRequest{OpponentUserID: &bob})
	assert.Equal(http.StatusForbidden, status)
}
