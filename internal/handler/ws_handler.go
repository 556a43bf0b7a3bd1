package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/config"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/hub"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/service"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/session"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub         *hub.Hub
	registry    *session.Registry
	delivery    service.DeliveryService
	connections service.ConnectionService
	validate    *validator.Validate
	wsCfg       config.WebSocketConfig
}

func NewWSHandler(
	h *hub.Hub,
	reg *session.Registry,
	delivery service.DeliveryService,
	connections service.ConnectionService,
	wsCfg config.WebSocketConfig,
) *WSHandler {
	return &WSHandler{
		hub:         h,
		registry:    reg,
		delivery:    delivery,
		connections: connections,
		validate:    validator.New(),
		wsCfg:       wsCfg,
	}
}

func (h *WSHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/chat/ws", h.HandleWebSocket)
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The request context ends when this handler returns; keep its logger only.
	ctx := context.WithoutCancel(c.Request.Context())
	client := hub.NewClient(ctx, uuid.New().String(), h.hub, conn, h.wsCfg)

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleMessage, h.handleClose)
}

func (h *WSHandler) handleClose(client *hub.Client) {
	h.connections.Disconnect(client.Context(), client)
}

// decode unmarshals the envelope data into v and validates it.
func (h *WSHandler) decode(env *domain.Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: missing data", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: invalid %s payload", domain.ErrInvalidRequest, env.Event)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func errorFrame(ref string, err error) *domain.Outbound {
	frame := domain.NewErrorMessage(domain.ErrorCode(err), domain.Reason(err))
	frame.Ref = ref
	return frame
}

func notJoined(ref string) *domain.Outbound {
	frame := domain.NewErrorMessage(domain.ErrCodeNotJoined, "join before sending events")
	frame.Ref = ref
	return frame
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := log.WithFields(client.Context(), log.FieldEvent, env.Event)
	l := log.Ctx(ctx)

	switch env.Event {
	case domain.EventPing:
		client.SendMessage(&domain.Outbound{Event: domain.EventPong, Ref: env.Ref})

	case domain.EventJoin:
		var req domain.JoinRequest
		if err := h.decode(&env, &req); err != nil {
			client.SendMessage(errorFrame(env.Ref, err))
			return
		}
		joined, err := h.connections.Join(ctx, client, &req)
		if err != nil {
			l.Warn().Err(err).Msg("join failed")
			client.SendMessage(errorFrame(env.Ref, err))
			return
		}
		client.SendMessage(&domain.Outbound{Event: domain.EventJoined, Ref: env.Ref, Data: joined})

	case domain.EventTyping:
		userID, ok := h.registry.LookupUser(client)
		if !ok {
			client.SendMessage(notJoined(env.Ref))
			return
		}
		var req domain.TypingRequest
		if err := h.decode(&env, &req); err != nil {
			client.SendMessage(errorFrame(env.Ref, err))
			return
		}
		if err := h.connections.Typing(ctx, userID, &req); err != nil {
			l.Debug().Err(err).Msg("typing failed")
		}

	case domain.EventMessageSend:
		userID, ok := h.registry.LookupUser(client)
		if !ok {
			client.SendMessage(notJoined(env.Ref))
			return
		}
		var req domain.SendRequest
		if err := h.decode(&env, &req); err != nil {
			client.SendMessage(domain.NewNack(env.Ref, err))
			return
		}
		if req.From != 0 && req.From != userID {
			client.SendMessage(domain.NewNack(env.Ref, fmt.Errorf("%w: from does not match the joined user", domain.ErrInvalidRequest)))
			return
		}
		req.From = userID

		msg, err := h.delivery.Send(ctx, &req)
		if err != nil {
			l.Warn().Err(err).Uint64(log.FieldUserID, userID).Msg("send failed")
			client.SendMessage(domain.NewNack(env.Ref, err))
			return
		}
		client.SendMessage(domain.NewAck(env.Ref, msg))

	case domain.EventMessageRead:
		userID, ok := h.registry.LookupUser(client)
		if !ok {
			client.SendMessage(notJoined(env.Ref))
			return
		}
		var req domain.ReadRequest
		if err := h.decode(&env, &req); err != nil {
			client.SendMessage(errorFrame(env.Ref, err))
			return
		}
		req.Reciever = userID

		if _, err := h.delivery.MarkRead(ctx, &req); err != nil {
			l.Warn().Err(err).Uint64(log.FieldUserID, userID).Msg("mark read failed")
			client.SendMessage(errorFrame(env.Ref, err))
		}

	case domain.EventMessageDelete:
		userID, ok := h.registry.LookupUser(client)
		if !ok {
			client.SendMessage(notJoined(env.Ref))
			return
		}
		var req domain.DeleteRequest
		if err := h.decode(&env, &req); err != nil {
			client.SendMessage(errorFrame(env.Ref, err))
			return
		}
		if req.UserID != 0 && req.UserID != userID {
			client.SendMessage(errorFrame(env.Ref, fmt.Errorf("%w: userId does not match the joined user", domain.ErrInvalidRequest)))
			return
		}
		req.UserID = userID

		if _, err := h.delivery.Delete(ctx, &req); err != nil {
			l.Warn().Err(err).Uint64(log.FieldUserID, userID).Msg("delete failed")
			client.SendMessage(errorFrame(env.Ref, err))
		}

	default:
		client.SendMessage(errorFrame(env.Ref, fmt.Errorf("%w: unknown event %q", domain.ErrInvalidRequest, env.Event)))
	}
}
