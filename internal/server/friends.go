package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"gridplay-server/internal/store"
)

func (s *Server) listFriendsHandler(w http.ResponseWriter, r *http.Request) {
	friends, err := s.store.ListFriends(r.Context(), requestUserID(r))
	if err != nil {
		httpError(w, err)
		return
	}
	infos := make([]PlayerInfo, 0, len(friends))
	for _, f := range friends {
		infos = append(infos, PlayerInfo{ID: f.ID, Username: f.Username})
	}
	writeJSON(w, http.StatusOK, map[string][]PlayerInfo{"friends": infos})
}

func (s *Server) removeFriendHandler(w http.ResponseWriter, r *http.Request) {
	friendID := pathUUID(w, r, "id")
	if friendID == uuid.Nil {
		return
	}
	userID := requestUserID(r)
	if err := s.store.DeleteFriendship(r.Context(), userID, friendID); err != nil {
		httpError(w, err)
		return
	}
	s.notifier.SendToUser(friendID, ServerMessage{
		Type:    MsgFriendRemoved,
		Payload: FriendRemovedPayload{FriendID: userID},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFriendInvitesHandler(w http.ResponseWriter, r *http.Request) {
	invites, err := s.store.ListPendingFriendInvites(r.Context(), requestUserID(r))
	if err != nil {
		httpError(w, err)
		return
	}
	views := make([]FriendInviteView, 0, len(invites))
	for _, inv := range invites {
		from, err := s.store.GetUser(r.Context(), inv.FromUserID)
		if err != nil {
			httpError(w, err)
			return
		}
		views = append(views, FriendInviteView{
			ID:       inv.ID,
			Status:   string(inv.Status),
			FromUser: PlayerInfo{ID: from.ID, Username: from.Username},
		})
	}
	writeJSON(w, http.StatusOK, map[string][]FriendInviteView{"invites": views})
}

// inviteFriendHandler sends (or re-sends) a friend invite, addressed by
// user id or by username. A pending invite in the opposite direction is
// treated as mutual interest and accepted on the spot.
func (s *Server) inviteFriendHandler(w http.ResponseWriter, r *http.Request) {
	var req InviteFriendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, coded(CodeInvalidJSON, "Invalid JSON"))
		return
	}
	ctx := r.Context()
	userID := requestUserID(r)

	var target *store.User
	var err error
	switch {
	case req.UserID != nil:
		target, err = s.store.GetUser(ctx, *req.UserID)
	case req.Username != "":
		var username string
		if username, err = normalizeUsername(req.Username); err == nil {
			target, err = s.store.GetUserByUsername(ctx, username)
		}
	default:
		httpError(w, coded(CodeInvalidPayload, "userId or username is required"))
		return
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, coded(CodeNotFound, "User not found"))
			return
		}
		httpError(w, err)
		return
	}
	if target.ID == userID {
		httpError(w, coded(CodeInvalidPayload, "Cannot invite yourself"))
		return
	}

	friends, err := s.store.AreFriends(ctx, userID, target.ID)
	if err != nil {
		httpError(w, err)
		return
	}
	if friends {
		httpError(w, coded(CodeInvalidState, "Already friends"))
		return
	}

	// Mutual invites short-circuit to a friendship.
	if reverse, err := s.store.FindFriendInvite(ctx, target.ID, userID); err == nil &&
		reverse.Status == store.InvitePending {
		s.acceptInvite(w, r, reverse)
		return
	}

	if existing, err := s.store.FindFriendInvite(ctx, userID, target.ID); err == nil &&
		existing.Status == store.InvitePending {
		httpError(w, coded(CodeInvalidState, "Invite already pending"))
		return
	}

	// Upsert so a previously rejected invite goes back to pending.
	invite := &store.FriendInvite{
		FromUserID: userID,
		ToUserID:   target.ID,
		Status:     store.InvitePending,
	}
	if err := s.store.SaveFriendInvite(ctx, invite); err != nil {
		httpError(w, err)
		return
	}
	inviteID := invite.ID
	notif := &store.Notification{
		UserID:         target.ID,
		Type:           store.NotifFriendInvite,
		FriendInviteID: &inviteID,
	}
	if err := s.store.CreateNotification(ctx, notif); err != nil {
		httpError(w, err)
		return
	}

	from, err := s.store.GetUser(ctx, userID)
	if err != nil {
		httpError(w, err)
		return
	}
	s.notifier.SendToUser(target.ID, ServerMessage{
		Type: MsgFriendInvite,
		Payload: FriendInvitePayload{
			InviteID: invite.ID,
			FromUser: PlayerInfo{ID: from.ID, Username: from.Username},
		},
	})
	writeJSON(w, http.StatusCreated, FriendInviteView{
		ID:       invite.ID,
		Status:   string(invite.Status),
		FromUser: PlayerInfo{ID: from.ID, Username: from.Username},
	})
}

func (s *Server) acceptFriendInviteHandler(w http.ResponseWriter, r *http.Request) {
	inviteID := pathUUID(w, r, "id")
	if inviteID == uuid.Nil {
		return
	}
	invite, err := s.store.GetFriendInvite(r.Context(), inviteID)
	if err != nil {
		httpError(w, err)
		return
	}
	if invite.ToUserID != requestUserID(r) {
		httpError(w, coded(CodeForbidden, "Not your invite"))
		return
	}
	if invite.Status != store.InvitePending {
		httpError(w, coded(CodeInvalidState, "Invite is not pending"))
		return
	}
	s.acceptInvite(w, r, invite)
}

// acceptInvite finalizes a pending invite and tells both sides. The
// caller has already checked ownership and status.
func (s *Server) acceptInvite(w http.ResponseWriter, r *http.Request, invite *store.FriendInvite) {
	ctx := r.Context()
	if err := s.store.AcceptFriendInvite(ctx, invite.ID); err != nil {
		httpError(w, err)
		return
	}
	from, err := s.store.GetUser(ctx, invite.FromUserID)
	if err != nil {
		httpError(w, err)
		return
	}
	to, err := s.store.GetUser(ctx, invite.ToUserID)
	if err != nil {
		httpError(w, err)
		return
	}
	s.notifier.SendToUser(invite.FromUserID, ServerMessage{
		Type:    MsgFriendAccepted,
		Payload: FriendAcceptedPayload{Friend: PlayerInfo{ID: to.ID, Username: to.Username}},
	})
	s.notifier.SendToUser(invite.ToUserID, ServerMessage{
		Type:    MsgFriendAccepted,
		Payload: FriendAcceptedPayload{Friend: PlayerInfo{ID: from.ID, Username: from.Username}},
	})
	writeJSON(w, http.StatusOK, map[string]PlayerInfo{
		"friend": {ID: from.ID, Username: from.Username},
	})
}

func (s *Server) rejectFriendInviteHandler(w http.ResponseWriter, r *http.Request) {
	inviteID := pathUUID(w, r, "id")
	if inviteID == uuid.Nil {
		return
	}
	invite, err := s.store.GetFriendInvite(r.Context(), inviteID)
	if err != nil {
		httpError(w, err)
		return
	}
	if invite.ToUserID != requestUserID(r) {
		httpError(w, coded(CodeForbidden, "Not your invite"))
		return
	}
	if invite.Status != store.InvitePending {
		httpError(w, coded(CodeInvalidState, "Invite is not pending"))
		return
	}
	if err := s.store.RejectFriendInvite(r.Context(), invite.ID); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	notifs, err := s.store.ListNotifications(ctx, requestUserID(r))
	if err != nil {
		httpError(w, err)
		return
	}
	views := make([]NotificationView, 0, len(notifs))
	for _, n := range notifs {
		view := NotificationView{
			ID:        n.ID,
			Type:      string(n.Type),
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		}
		switch {
		case n.Type == store.NotifFriendInvite && n.FriendInviteID != nil:
			invite, err := s.store.GetFriendInvite(ctx, *n.FriendInviteID)
			if err != nil {
				continue // invite gone, keep the list usable
			}
			from, err := s.store.GetUser(ctx, invite.FromUserID)
			if err != nil {
				continue
			}
			view.FriendInvite = &FriendInviteView{
				ID:       invite.ID,
				Status:   string(invite.Status),
				FromUser: PlayerInfo{ID: from.ID, Username: from.Username},
			}
		case n.Type == store.NotifGameInvite && n.MatchID != nil:
			match, err := s.store.GetMatch(ctx, *n.MatchID)
			if err != nil {
				continue
			}
			from, err := s.store.GetUser(ctx, match.PlayerXID)
			if err != nil {
				continue
			}
			view.GameInvite = &GameInvitePayload{
				MatchID:  match.ID,
				GameType: match.GameType,
				FromUser: PlayerInfo{ID: from.ID, Username: from.Username},
			}
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string][]NotificationView{"notifications": views})
}

func (s *Server) markNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	notifID := pathUUID(w, r, "id")
	if notifID == uuid.Nil {
		return
	}
	if err := s.store.MarkNotificationRead(r.Context(), notifID, requestUserID(r)); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
