package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/socket"
)

// handleChatSocket upgrades an authenticated chat connection and pumps events
// between the client and the room hub.
func (s *Server) handleChatSocket(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("chat websocket accept failed", "error", err)
		return nil
	}

	sub := &Subscriber{
		UserID: userIDFromToken(token),
		Send:   make(chan []byte, 64),
	}
	s.hub.Register <- sub

	go s.writePump(conn, sub)
	s.readPump(c.Request().Context(), conn, sub)
	return nil
}

// readPump processes frames from one client until it disconnects. It ensures
// there is at most one reader per connection.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		s.hub.Unregister <- sub
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway {
				s.logger.Debug("chat read ended", "user", sub.UserID, "error", err)
			}
			return
		}

		var env socket.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			s.logger.Warn("malformed chat frame", "user", sub.UserID, "error", err)
			continue
		}
		s.handleChatEvent(sub, env)
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *Subscriber) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	for frame := range sub.Send {
		if err := conn.Write(context.Background(), websocket.MessageText, frame); err != nil {
			s.logger.Debug("chat write ended", "user", sub.UserID, "error", err)
			return
		}
	}
}

type incomingMessage struct {
	Room      string `json:"room" validate:"required"`
	Content   string `json:"content" validate:"required,max=2000"`
	ClientKey string `json:"client_key"`
}

func (s *Server) handleChatEvent(sub *Subscriber, env socket.Envelope) {
	switch env.Event {
	case socket.EventJoin:
		var p socket.RoomPayload
		if json.Unmarshal(env.Data, &p) != nil || p.Room == "" {
			return
		}
		s.hub.Join <- Membership{Sub: sub, Room: p.Room}
		s.broadcastStatus(p.Room, sub.UserID+" joined", nil)

	case socket.EventLeave:
		var p socket.RoomPayload
		if json.Unmarshal(env.Data, &p) != nil || p.Room == "" {
			return
		}
		s.hub.Leave <- Membership{Sub: sub, Room: p.Room}
		s.broadcastStatus(p.Room, sub.UserID+" left", nil)

	case socket.EventMessage:
		var p incomingMessage
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if err := s.validate.Struct(p); err != nil {
			s.logger.Warn("rejecting invalid message", "user", sub.UserID, "error", err)
			return
		}
		now := time.Now().UTC()
		msg := domain.Message{
			ID:              uuid.NewString(),
			RoomID:          p.Room,
			Text:            p.Content,
			Sender:          domain.SenderUser,
			SenderInfo:      domain.SenderInfo{ID: sub.UserID, Username: sub.UserID},
			Timestamp:       now.Format(time.Kitchen),
			ServerTimestamp: now,
			ClientKey:       p.ClientKey,
		}
		s.store.Append(p.Room, msg)
		s.broadcastEvent(p.Room, socket.EventNewMessage, msg, nil)

	case socket.EventTyping:
		var p socket.TypingPayload
		if json.Unmarshal(env.Data, &p) != nil || p.Room == "" {
			return
		}
		status := domain.TypingStatus{
			RoomID:   p.Room,
			UserID:   sub.UserID,
			Username: sub.UserID,
			IsTyping: p.IsTyping,
		}
		// Typing indicators are not echoed back to their sender.
		s.broadcastEvent(p.Room, socket.EventTypingStatus, status, sub)

	default:
		s.logger.Debug("unhandled chat event", "event", env.Event)
	}
}

func (s *Server) broadcastStatus(roomID, status string, exclude *Subscriber) {
	s.broadcastEvent(roomID, socket.EventStatus, domain.StatusUpdate{
		RoomID: roomID,
		Status: status,
	}, exclude)
}

func (s *Server) broadcastEvent(roomID, event string, payload any, exclude *Subscriber) {
	frame, err := socket.EncodeEnvelope(event, payload)
	if err != nil {
		s.logger.Error("failed to encode broadcast", "event", event, "error", err)
		return
	}
	s.hub.Broadcast <- RoomMessage{Room: roomID, Payload: frame, Exclude: exclude}
}
