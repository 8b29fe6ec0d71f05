package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chat-core/auth"
	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
	"chat-core/notify"
	"chat-core/runtime"
	"chat-core/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Server upgrades handshakes and runs one read loop per connection.
// Every inbound connection must present a verifiable identity token; absence
// or invalidity closes the connection before any event is processed.
type Server struct {
	authenticator *auth.Authenticator
	registry      *runtime.SessionRegistry
	presence      *runtime.PresenceBroadcaster
	router        *runtime.RoomRouter
	typing        *runtime.TypingCoordinator
	delivery      *services.DeliveryPipeline
	receipts      *services.ReceiptService
	dispatcher    *notify.Dispatcher

	upgrader   websocket.Upgrader
	sendBuffer int
	eventRate  rate.Limit
	eventBurst int
	log        *slog.Logger
}

// Config bundles the transport knobs.
type Config struct {
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
}

func NewServer(
	authenticator *auth.Authenticator,
	registry *runtime.SessionRegistry,
	presence *runtime.PresenceBroadcaster,
	router *runtime.RoomRouter,
	typing *runtime.TypingCoordinator,
	delivery *services.DeliveryPipeline,
	receipts *services.ReceiptService,
	dispatcher *notify.Dispatcher,
	cfg Config,
	log *slog.Logger,
) *Server {
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 20
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 40
	}
	return &Server{
		authenticator: authenticator,
		registry:      registry,
		presence:      presence,
		router:        router,
		typing:        typing,
		delivery:      delivery,
		receipts:      receipts,
		dispatcher:    dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sendBuffer: cfg.SendBuffer,
		eventRate:  rate.Limit(cfg.EventsPerSecond),
		eventBurst: cfg.EventBurst,
		log:        log,
	}
}

// ServeHTTP is the /ws endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticator.ValidateToken(bearerToken(r))
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}
	// An id carrying the conversation separator would corrupt routing keys.
	if !domain.ValidParticipantID(claims.UserID) {
		http.Error(w, "invalid user id", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(claims.UserID, wsConn, s.sendBuffer)
	conn.Start()
	s.log.Info("Connection opened", "user_id", claims.UserID, "connection_id", conn.ID)

	ctx := r.Context()

	wentOnline := s.registry.Register(claims.UserID, conn.ID, conn)

	// Synthetic envelope confirming the channel, pushed before anything else.
	_ = conn.Consume(ctx, event.Notification{Envelope: domain.Envelope{
		Type:      "connection",
		Message:   "notification channel established",
		Data:      map[string]any{"connectionId": conn.ID},
		Timestamp: time.Now().UTC(),
		UserID:    claims.UserID,
	}})

	if wentOnline {
		s.presence.UserOnline(ctx, claims.UserID)
	}

	// Attaching the channel flushes the backlog in original order.
	s.dispatcher.Attach(ctx, claims.UserID, conn.ID, conn)

	s.readLoop(conn)
	s.teardown(conn)
}

func (s *Server) readLoop(conn *Connection) {
	limiter := rate.NewLimiter(s.eventRate, s.eventBurst)

	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			s.log.Warn("Connection rate limited",
				"user_id", conn.UserID, "connection_id", conn.ID)
			conn.Close(closeRateLimited, "event rate exceeded")
			return
		}
		s.registry.Touch(conn.UserID, conn.ID)
		s.handleFrame(conn, payload)
	}
}

// teardown runs the full disconnect sequence. The offline edge is checked
// last, at removal time, so a surviving device never produces a false
// offline broadcast.
func (s *Server) teardown(conn *Connection) {
	ctx := context.Background()

	s.dispatcher.Detach(conn.UserID, conn.ID)
	s.router.LeaveAll(conn.ID)
	s.typing.ClearUser(ctx, conn.UserID)

	if wentOffline := s.registry.Unregister(conn.UserID, conn.ID); wentOffline {
		s.presence.UserOffline(ctx, conn.UserID)
	}
	conn.Close(websocket.CloseNormalClosure, "bye")
	s.log.Info("Connection closed", "user_id", conn.UserID, "connection_id", conn.ID)
}

func (s *Server) handleFrame(conn *Connection, payload []byte) {
	ctx := context.Background()

	frame, err := DecodeFrame(payload)
	if err != nil {
		s.reportError(conn, err)
		return
	}

	switch frame.Type {
	case "join_conversation":
		data, err := decodeData[JoinConversationData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		if !domain.IsParticipant(data.ConversationID, conn.UserID) {
			s.reportError(conn, errors.ErrAuthorization)
			return
		}
		s.router.Join(data.ConversationID, conn.UserID, conn.ID, conn)

	case "leave_conversation":
		data, err := decodeData[LeaveConversationData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		s.router.Leave(data.ConversationID, conn.ID)
		// No dangling "is typing" state may survive a leave.
		s.typing.Stop(ctx, data.ConversationID, conn.UserID)

	case "send_message":
		data, err := decodeData[SendMessageData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		// The pipeline reports its own success and failure events.
		_, _ = s.delivery.SendMessage(ctx, services.Sender{
			UserID:       conn.UserID,
			ConnectionID: conn.ID,
			Sink:         conn,
		}, services.SendMessageCommand{
			ConversationID:   data.ConversationID,
			RecipientID:      data.RecipientID,
			Content:          data.Content,
			Attachments:      data.Attachments,
			CorrelationToken: data.CorrelationToken,
		})

	case "typing_start":
		data, err := decodeData[TypingData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		if !domain.IsParticipant(data.ConversationID, conn.UserID) {
			s.reportError(conn, errors.ErrAuthorization)
			return
		}
		s.typing.Start(ctx, data.ConversationID, conn.UserID)

	case "typing_stop":
		data, err := decodeData[TypingData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		s.typing.Stop(ctx, data.ConversationID, conn.UserID)

	case "message_read":
		data, err := decodeData[MessageReadData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		messageID, err := uuid.Parse(data.MessageID)
		if err != nil {
			s.reportError(conn, errors.Validationf("invalid messageId"))
			return
		}
		if _, err := s.receipts.MarkRead(ctx, conn.UserID, messageID); err != nil {
			s.reportError(conn, err)
		}

	case "conversation_read":
		data, err := decodeData[ConversationReadData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		if _, err := s.receipts.MarkConversationRead(ctx, conn.UserID, data.ConversationID); err != nil {
			s.reportError(conn, err)
		}

	case "get_messages":
		data, err := decodeData[GetMessagesData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		history, err := s.delivery.History(ctx, conn.UserID, data.ConversationID, data.Cursor)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		// History pages go only to the requesting connection.
		_ = conn.Consume(ctx, history)

	case "update_online_status":
		data, err := decodeData[UpdateStatusData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		s.presence.SetStatus(ctx, conn.UserID, data.Status == "online")

	case "get_online_users":
		data, err := decodeData[GetOnlineUsersData](frame.Data)
		if err != nil {
			s.reportError(conn, err)
			return
		}
		// Snapshot reply goes only to the requesting connection.
		_ = conn.Consume(ctx, s.presence.Snapshot(data.UserIDs))

	default:
		s.reportError(conn, errors.Validationf("unknown event type %q", frame.Type))
	}
}

// reportError surfaces a recoverable failure as a named error event on the
// same channel the request arrived on. Nothing is broadcast.
func (s *Server) reportError(conn *Connection, err error) {
	_ = conn.Consume(context.Background(), event.Error{
		Error: err.Error(),
		Code:  errors.Code(err),
	})
}

// bearerToken pulls the handshake token from the Authorization header or,
// for browser clients that cannot set headers on websockets, from the
// token query parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
