package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/audit"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/session"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

type connectionService struct {
	users     repository.UserRepository
	devices   repository.DeviceRepository
	resolver  RoomResolver
	registry  *session.Registry
	tracker   PresenceTracker
	supersede bool
}

func NewConnectionService(
	users repository.UserRepository,
	devices repository.DeviceRepository,
	resolver RoomResolver,
	reg *session.Registry,
	tracker PresenceTracker,
	supersede bool,
) ConnectionService {
	return &connectionService{
		users:     users,
		devices:   devices,
		resolver:  resolver,
		registry:  reg,
		tracker:   tracker,
		supersede: supersede,
	}
}

func (s *connectionService) Join(ctx context.Context, h session.Handle, req *domain.JoinRequest) (*domain.JoinedPayload, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidRequest)
	}
	ctx = log.WithFields(ctx, log.FieldEvent, domain.EventJoin, log.FieldMemberID, req.UserID.String())
	l := log.Ctx(ctx)

	user, created, err := s.users.FindOrCreate(ctx, &domain.User{
		MemberID: req.UserID.String(),
		Name:     req.Name,
		AppName:  req.AppName,
	})
	if err != nil {
		l.Error().Err(err).Msg("failed to load user")
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if created {
		l.Info().Uint64(log.FieldUserID, user.ID).Msg("user registered")
	}

	// A connection joining as someone else leaves its previous identity first.
	if boundTo, ok := s.registry.LookupUser(h); ok && boundTo != user.ID {
		s.tracker.Disconnect(ctx, h)
	}

	binding := s.tracker.Connect(ctx, user.ID, h)
	if s.supersede && binding.Previous != nil && binding.Previous.ConnID() != h.ConnID() {
		l.Info().Str(log.FieldConnID, binding.Previous.ConnID()).Msg("closing superseded connection")
		if err := binding.Previous.Close(); err != nil {
			l.Debug().Err(err).Msg("failed to close superseded connection")
		}
	}

	if req.Device != nil {
		if _, err := s.upsertDevice(ctx, user.ID, req.Device); err != nil {
			// Push registration is best effort; the live session is already bound.
			l.Warn().Err(err).Msg("failed to register device on join")
		}
	}

	joined := &domain.JoinedPayload{UserID: user.ID}
	if req.ChatID != "" {
		roomID, found, err := s.findRoom(ctx, user.ID, req)
		if err != nil {
			l.Warn().Err(err).Msg("failed to look up chatroom on join")
		} else if found {
			joined.RoomID = &roomID
		}
	}

	audit.LogWithDetail(ctx, audit.ActionJoin, user.ID, fmt.Sprintf("sessions=%d", binding.Sessions), "user joined")
	return joined, nil
}

func (s *connectionService) findRoom(ctx context.Context, userID uint64, req *domain.JoinRequest) (uint64, bool, error) {
	peer, err := s.users.GetByMemberID(ctx, req.ChatID.String())
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if peer.ID == userID {
		return 0, false, nil
	}

	kind := req.ChatType
	if kind == "" {
		kind = domain.ChatTypeDirect
	}
	return s.resolver.Find(ctx, userID, peer.ID, kind)
}

func (s *connectionService) upsertDevice(ctx context.Context, userID uint64, info *domain.DeviceInfo) (*domain.Device, error) {
	device := &domain.Device{
		UserID:     userID,
		DeviceID:   info.DeviceID,
		DeviceName: info.DeviceName,
		Token:      info.Token,
		TokenType:  info.TokenType,
	}
	if err := s.devices.Upsert(ctx, device); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	audit.LogWithTarget(ctx, audit.ActionRegisterDevice, userID, info.DeviceID, "device registered")
	return device, nil
}

func (s *connectionService) Typing(ctx context.Context, from uint64, req *domain.TypingRequest) error {
	if req.To == "" {
		return fmt.Errorf("%w: to is required", domain.ErrInvalidRequest)
	}

	to, err := s.users.GetByMemberID(ctx, req.To.String())
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	frame := domain.NewOutbound(domain.EventTyping, &domain.TypingPayload{
		From:     from,
		To:       to.ID,
		IsTyping: req.IsTyping,
	})
	for _, h := range s.registry.LookupAll(to.ID) {
		// Typing indicators are disposable.
		_ = h.SendMessage(frame)
	}
	return nil
}

func (s *connectionService) Disconnect(ctx context.Context, h session.Handle) {
	userID, remaining, ok := s.tracker.Disconnect(ctx, h)
	if !ok {
		return
	}
	audit.LogWithDetail(ctx, audit.ActionDisconnect, userID, fmt.Sprintf("remaining=%d", remaining), "connection closed")
}

func (s *connectionService) RegisterDevice(ctx context.Context, memberID string, info *domain.DeviceInfo) (*domain.Device, error) {
	user, err := s.userByMemberID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return s.upsertDevice(ctx, user.ID, info)
}

func (s *connectionService) Presence(ctx context.Context, memberID string) (*PresenceStatus, error) {
	user, err := s.userByMemberID(ctx, memberID)
	if err != nil {
		return nil, err
	}

	online, sessions := s.tracker.Status(ctx, user.ID)
	return &PresenceStatus{
		UserID:   user.ID,
		MemberID: user.MemberID,
		Online:   online,
		Sessions: sessions,
	}, nil
}

func (s *connectionService) userByMemberID(ctx context.Context, memberID string) (*domain.User, error) {
	if memberID == "" {
		return nil, fmt.Errorf("%w: member id is required", domain.ErrInvalidRequest)
	}
	user, err := s.users.GetByMemberID(ctx, memberID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRecipient, memberID)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return user, nil
}
