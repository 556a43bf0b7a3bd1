package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/audit"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/session"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

const defaultNotifyTimeout = 30 * time.Second

type deliveryService struct {
	users      repository.UserRepository
	messages   repository.MessageRepository
	resolver   RoomResolver
	registry   *session.Registry
	dispatcher NotificationDispatcher
	producer   kafka.EventProducer

	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

// DeliveryOption configures a DeliveryService.
type DeliveryOption func(*deliveryService)

// WithNotifyTimeout bounds each background notification fan-out.
func WithNotifyTimeout(d time.Duration) DeliveryOption {
	return func(s *deliveryService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func NewDeliveryService(
	users repository.UserRepository,
	messages repository.MessageRepository,
	resolver RoomResolver,
	reg *session.Registry,
	dispatcher NotificationDispatcher,
	producer kafka.EventProducer,
	opts ...DeliveryOption,
) DeliveryService {
	if producer == nil {
		producer = kafka.NoopProducer{}
	}
	s := &deliveryService{
		users:         users,
		messages:      messages,
		resolver:      resolver,
		registry:      reg,
		dispatcher:    dispatcher,
		producer:      producer,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateSend(req *domain.SendRequest) error {
	switch {
	case req.From == 0:
		return fmt.Errorf("%w: sender is required", domain.ErrInvalidRequest)
	case req.To.UserID == "":
		return fmt.Errorf("%w: recipient is required", domain.ErrInvalidRequest)
	case strings.TrimSpace(req.Message) == "":
		return fmt.Errorf("%w: message is required", domain.ErrInvalidRequest)
	case !req.Type.Valid():
		return fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidRequest, req.Type)
	case !req.ChatType.Valid():
		return fmt.Errorf("%w: unknown chat type %q", domain.ErrInvalidRequest, req.ChatType)
	}
	return nil
}

func (s *deliveryService) Send(ctx context.Context, req *domain.SendRequest) (*domain.Message, error) {
	if err := validateSend(req); err != nil {
		return nil, err
	}
	ctx = log.WithFields(ctx, log.FieldEvent, domain.EventMessageSend)
	l := log.Ctx(ctx)

	recipient, err := s.users.GetByMemberID(ctx, req.To.UserID.String())
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRecipient, req.To.UserID)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if recipient.ID == req.From {
		return nil, fmt.Errorf("%w: cannot send a message to yourself", domain.ErrInvalidRequest)
	}

	roomID, err := s.roomFor(ctx, req, recipient.ID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ChatroomID:  roomID,
		Sender:      req.From,
		Receiver:    recipient.ID,
		Message:     req.Message,
		MessageType: req.Type,
		Status:      domain.StatusSent,
		Editable:    req.Type.Editable(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		l.Error().Err(err).Uint64(log.FieldRoomID, roomID).Msg("failed to persist message")
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	ctx = log.WithFields(ctx, log.FieldMessageID, domain.FormatID(msg.ID))
	l = log.Ctx(ctx)

	s.publish(ctx, kafka.EventMessageSent, msg, req.From, 0)
	audit.LogWithTarget(ctx, audit.ActionSendMessage, req.From, domain.FormatID(msg.ID), "message sent")

	if delivered := s.deliverLive(ctx, recipient.ID, msg); delivered == 0 {
		s.notifyOffline(ctx, recipient.ID, msg)
		return msg, nil
	}

	affected, err := s.messages.MarkDelivered(ctx, roomID, recipient.ID, msg.ID)
	if err != nil {
		// The message stays sent and reaches the recipient on reconnect.
		l.Warn().Err(err).Msg("failed to mark message delivered")
		return msg, nil
	}
	s.advance(ctx, msg, affected)
	if msg.Status != domain.StatusDelivered {
		// A concurrent read or delete already moved it further.
		return msg, nil
	}
	s.publish(ctx, kafka.EventMessageDelivered, msg, recipient.ID, 0)

	s.emit(ctx, req.From, domain.NewOutbound(domain.EventMessageDelivered, &domain.DeliveredPayload{
		MessageID: msg.ID,
		To:        req.To,
	}))

	return msg, nil
}

// advance reloads the status of msg after a delivery update, since a
// concurrent read or delete may have moved the row past delivered.
func (s *deliveryService) advance(ctx context.Context, msg *domain.Message, affected int64) {
	current, err := s.messages.GetByID(ctx, msg.ID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to reload message status")
		if affected > 0 {
			msg.Status = domain.StatusDelivered
		}
		return
	}
	if msg.Status.CanTransition(current.Status) {
		msg.Status = current.Status
	}
}

// roomFor reuses the supplied room after checking both parties belong to
// it, otherwise resolves the pair.
func (s *deliveryService) roomFor(ctx context.Context, req *domain.SendRequest, recipientID uint64) (uint64, error) {
	if req.RoomID == 0 {
		return s.resolver.Resolve(ctx, req.From, recipientID, req.ChatType)
	}

	room, err := s.resolver.Get(ctx, req.RoomID)
	if err != nil {
		return 0, err
	}
	if !room.HasParticipant(req.From) || !room.HasParticipant(recipientID) {
		return 0, fmt.Errorf("%w: room %d does not belong to this conversation", domain.ErrInvalidRequest, req.RoomID)
	}
	return room.ID, nil
}

// deliverLive emits msg to every live handle of the recipient and returns
// how many accepted it.
func (s *deliveryService) deliverLive(ctx context.Context, recipientID uint64, msg *domain.Message) int {
	l := log.Ctx(ctx)

	handles := s.registry.LookupAll(recipientID)
	if len(handles) == 0 {
		return 0
	}

	frame := domain.NewOutbound(domain.EventMessageNew, msg)
	delivered := lo.CountBy(handles, func(h session.Handle) bool {
		if err := h.SendMessage(frame); err != nil {
			l.Debug().Err(err).Str(log.FieldConnID, h.ConnID()).Msg("live delivery failed")
			return false
		}
		return true
	})
	if delivered == 0 {
		l.Info().Uint64(log.FieldUserID, recipientID).Msg("recipient handles vanished, treating as offline")
	}
	return delivered
}

// notifyOffline runs the notification fan-out in the background so the
// send acknowledgment never waits on the push transport.
func (s *deliveryService) notifyOffline(ctx context.Context, recipientID uint64, msg *domain.Message) {
	if s.dispatcher == nil {
		return
	}

	snapshot := *msg
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()

		if _, err := s.dispatcher.Notify(nctx, recipientID, &snapshot, snapshot.Sender); err != nil {
			l := log.Ctx(nctx)
			l.Warn().Err(err).Uint64(log.FieldUserID, recipientID).Msg("notification dispatch failed")
		}
	}()
}

func (s *deliveryService) MarkRead(ctx context.Context, req *domain.ReadRequest) (int64, error) {
	if req.MessageID == 0 || req.RoomID == 0 || req.Reciever == 0 {
		return 0, fmt.Errorf("%w: messageId, roomId and reader are required", domain.ErrInvalidRequest)
	}
	ctx = log.WithFields(ctx,
		log.FieldEvent, domain.EventMessageRead,
		log.FieldRoomID, domain.FormatID(req.RoomID),
		log.FieldMessageID, domain.FormatID(req.MessageID),
	)
	l := log.Ctx(ctx)

	room, err := s.resolver.Get(ctx, req.RoomID)
	if err != nil {
		return 0, err
	}
	if !room.HasParticipant(req.Reciever) {
		return 0, fmt.Errorf("%w: reader is not a participant of room %d", domain.ErrInvalidRequest, req.RoomID)
	}
	sender := room.Counterpart(req.Reciever)

	affected, err := s.messages.MarkRead(ctx, req.RoomID, req.Reciever, req.MessageID)
	if err != nil {
		l.Error().Err(err).Msg("failed to mark messages read")
		return 0, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	s.publish(ctx, kafka.EventMessageRead, &domain.Message{
		ID:         req.MessageID,
		ChatroomID: req.RoomID,
		Status:     domain.StatusRead,
	}, req.Reciever, affected)
	audit.LogWithTarget(ctx, audit.ActionReadMessages, req.Reciever, domain.FormatID(req.MessageID), "messages read")

	// One notice per request regardless of how many rows advanced.
	s.emit(ctx, sender, domain.NewOutbound(domain.EventMessageRead, &domain.ReadPayload{
		MessageID: req.MessageID,
		Sender:    sender,
	}))

	return affected, nil
}

func (s *deliveryService) Delete(ctx context.Context, req *domain.DeleteRequest) (*domain.DeletedPayload, error) {
	if req.MessageID == 0 || req.RoomID == 0 || req.UserID == 0 {
		return nil, fmt.Errorf("%w: messageId, roomId and requester are required", domain.ErrInvalidRequest)
	}
	ctx = log.WithFields(ctx,
		log.FieldEvent, domain.EventMessageDelete,
		log.FieldRoomID, domain.FormatID(req.RoomID),
		log.FieldMessageID, domain.FormatID(req.MessageID),
	)
	l := log.Ctx(ctx)

	msg, err := s.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, fmt.Errorf("%w: message %d not found", domain.ErrInvalidRequest, req.MessageID)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if msg.ChatroomID != req.RoomID {
		return nil, fmt.Errorf("%w: message %d is not in room %d", domain.ErrInvalidRequest, req.MessageID, req.RoomID)
	}
	if msg.Sender != req.UserID {
		return nil, fmt.Errorf("%w: only the sender may delete a message", domain.ErrInvalidRequest)
	}

	if _, err := s.messages.MarkDeleted(ctx, req.RoomID, req.MessageID); err != nil {
		l.Error().Err(err).Msg("failed to delete message")
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	msg.Status = domain.StatusDeleted

	s.publish(ctx, kafka.EventMessageDeleted, msg, req.UserID, 1)
	audit.LogWithTarget(ctx, audit.ActionDeleteMessage, req.UserID, domain.FormatID(req.MessageID), "message deleted")

	payload := &domain.DeletedPayload{
		ID:         msg.ID,
		ChatroomID: msg.ChatroomID,
		Status:     domain.StatusDeleted,
	}
	frame := domain.NewOutbound(domain.EventMessageDeleted, payload)
	s.emit(ctx, req.UserID, frame)
	s.emit(ctx, msg.Receiver, frame)

	return payload, nil
}

func (s *deliveryService) Stop() {
	s.inflight.Wait()
}

// emit sends frame to every live handle of userID. Failures are logged.
func (s *deliveryService) emit(ctx context.Context, userID uint64, frame *domain.Outbound) int {
	l := log.Ctx(ctx)

	sent := 0
	for _, h := range s.registry.LookupAll(userID) {
		if err := h.SendMessage(frame); err != nil {
			l.Debug().Err(err).
				Str(log.FieldConnID, h.ConnID()).
				Str(log.FieldEvent, frame.Event).
				Msg("failed to emit event")
			continue
		}
		sent++
	}
	return sent
}

func (s *deliveryService) publish(ctx context.Context, eventType string, msg *domain.Message, actorID uint64, affected int64) {
	err := s.producer.Publish(ctx, &kafka.LifecycleEvent{
		Type:       eventType,
		MessageID:  msg.ID,
		ChatroomID: msg.ChatroomID,
		ActorID:    actorID,
		Status:     msg.Status,
		Affected:   affected,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("lifecycle_event", eventType).Msg("failed to publish lifecycle event")
	}
}
