package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"gridplay-server/internal/auth"
	"gridplay-server/internal/tictactoe"
)

// Close code sent when the connection token fails verification.
const closeUnauthorized = websocket.StatusCode(4401)

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: make environment-specific
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	userID, err := s.tokens.Verify(r.URL.Query().Get("token"), auth.PurposeConn)
	if err != nil {
		socket.Close(closeUnauthorized, "Unauthorized")
		return
	}

	client := newClient(userID, &wsTransport{sock: socket})
	log.Printf("New connection %s for user %s", client.ID, userID)
	s.registry.Register(client)
	defer func() {
		s.registry.Unregister(client)
		log.Printf("Connection closed: %s", client.ID)

		// Unconditional and idempotent: any socket close drops the
		// user's queue entries. A user with another live tab re-joins.
		s.matchmaker.RemoveUser(userID)
	}()

	for {
		// Read from client
		msgType, data, err := socket.Read(ctx)

		if err != nil {
			log.Printf("Connection %s read error: %v", client.ID, err)
			return
		}

		if msgType != websocket.MessageText {
			log.Printf("Non-text input from %s", client.ID)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Invalid JSON from %s: %v", client.ID, err)
			s.sendError(client, ctx, coded(CodeInvalidJSON, "Invalid JSON"))
			continue
		}

		log.Printf("Message Type '%s' from %s", msg.Type, client.ID)

		s.dispatch(ctx, client, msg)
	}
}

// dispatch routes one message. A panic in a handler closes nothing and
// kills no other connection; the client gets a generic error instead.
func (s *Server) dispatch(ctx context.Context, client *Client, msg ClientMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Panic handling '%s' from %s: %v", msg.Type, client.ID, rec)
			s.sendError(client, ctx, coded(CodeServerError, "Something went wrong"))
		}
	}()

	switch msg.Type {
	case MsgPing:
		s.handlePing(ctx, client)

	case MsgJoinQueue:
		s.handleJoinQueue(ctx, client, msg.Payload)

	case MsgLeaveQueue:
		s.handleLeaveQueue(ctx, client, msg.Payload)

	case MsgJoinMatch:
		s.handleJoinMatch(ctx, client, msg.Payload)

	case MsgLeaveMatch:
		s.registry.UnsubscribeMatch(client)

	case MsgMove:
		s.handleMove(ctx, client, msg.Payload)

	default:
		log.Printf("Unknown message type '%s' from %s", msg.Type, client.ID)
		s.sendError(client, ctx, coded(CodeUnknownType, "Unknown message type: "+msg.Type))
	}
}

func (s *Server) handlePing(ctx context.Context, client *Client) {
	response := ServerMessage{
		Type:    MsgPong,
		Payload: struct{}{},
	}
	if err := client.Send(ctx, response); err != nil {
		log.Printf("Failed to send pong to %s: %v", client.ID, err)
	}
}

func (s *Server) handleJoinQueue(ctx context.Context, client *Client, payload json.RawMessage) {
	var req JoinQueueRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, ctx, coded(CodeInvalidPayload, "Invalid join_queue payload"))
		return
	}
	if req.GameType != tictactoe.GameType {
		s.sendError(client, ctx, coded(CodeInvalidPayload, "Unsupported game type: "+req.GameType))
		return
	}
	if err := s.matchmaker.Enqueue(ctx, req.GameType, client.UserID); err != nil {
		s.sendError(client, ctx, err)
	}
}

func (s *Server) handleLeaveQueue(ctx context.Context, client *Client, payload json.RawMessage) {
	var req LeaveQueueRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(client, ctx, coded(CodeInvalidPayload, "Invalid leave_queue payload"))
		return
	}
	gameType := req.GameType
	if gameType == "" {
		gameType = tictactoe.GameType
	}
	s.matchmaker.Dequeue(gameType, client.UserID)
}

// handleJoinMatch subscribes the connection to a match's broadcasts and
// answers with a fresh snapshot. Only the two players may subscribe.
func (s *Server) handleJoinMatch(ctx context.Context, client *Client, payload json.RawMessage) {
	var req JoinMatchRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.MatchID == uuid.Nil {
		s.sendError(client, ctx, coded(CodeInvalidPayload, "Invalid join_match payload"))
		return
	}
	state, err := s.matches.Snapshot(ctx, req.MatchID)
	if err != nil {
		s.sendError(client, ctx, err)
		return
	}
	isPlayer := (state.PlayerX != nil && state.PlayerX.ID == client.UserID) ||
		(state.PlayerO != nil && state.PlayerO.ID == client.UserID)
	if !isPlayer {
		s.sendError(client, ctx, coded(CodeForbidden, "Not a player in this match"))
		return
	}
	s.registry.SubscribeMatch(req.MatchID, client)
	response := ServerMessage{Type: MsgMatchState, Payload: state}
	if err := client.Send(ctx, response); err != nil {
		log.Printf("Failed to send match state to %s: %v", client.ID, err)
	}
}

func (s *Server) handleMove(ctx context.Context, client *Client, payload json.RawMessage) {
	var req MoveRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Position == nil {
		s.sendError(client, ctx, coded(CodeInvalidPayload, "Invalid move payload"))
		return
	}
	matchID := uuid.Nil
	if req.MatchID != nil {
		matchID = *req.MatchID
	} else if subscribed, ok := s.registry.SubscribedMatch(client); ok {
		matchID = subscribed
	}
	if matchID == uuid.Nil {
		s.sendError(client, ctx, coded(CodeInvalidPayload, "No match specified"))
		return
	}
	if _, err := s.matches.ApplyMove(ctx, matchID, client.UserID, *req.Position); err != nil {
		s.sendError(client, ctx, err)
	}
	// Success is reported by the match_state broadcast, which this
	// connection receives if subscribed.
}

func (s *Server) sendError(client *Client, ctx context.Context, err error) {
	ce := asCoded(err)
	if ce.Code == CodeServerError {
		log.Printf("Internal error on connection %s: %v", client.ID, err)
	}
	response := ServerMessage{
		Type:    MsgError,
		Payload: ErrorPayload{Code: ce.Code, Message: ce.Message},
	}
	if err := client.Send(ctx, response); err != nil {
		log.Printf("Failed to send error message: %v", err)
	}
}
