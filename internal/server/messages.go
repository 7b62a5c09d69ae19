package server

import "encoding/json"

// ClientMessage is the inbound frame envelope; the payload shape depends
// on Type and is decoded by the matching handler.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is the outbound frame envelope.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client → server message types.
const (
	MsgPing       = "ping"
	MsgJoinQueue  = "join_queue"
	MsgLeaveQueue = "leave_queue"
	MsgJoinMatch  = "join_match"
	MsgLeaveMatch = "leave_match"
	MsgMove       = "move"
)

// Server → client message types.
const (
	MsgPong       = "pong"
	MsgError      = "error"
	MsgMatchState = "match_state"
	MsgMatchReady = "match_ready"

	// Fan-out only: pushed by HTTP handlers, never requested over the socket.
	MsgFriendInvite     = "friend_invite"
	MsgFriendAccepted   = "friend_accepted"
	MsgFriendRemoved    = "friend_removed"
	MsgGameInvite       = "game_invite"
	MsgGameOpponentBusy = "game_invite_opponent_busy"
)
