// Package notify forwards message summaries to the devices of recipients
// that have no live session.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/repository"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

const defaultTitle = "New Message"

// Outcome statuses.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// DeviceOutcome reports what happened to one device.
type DeviceOutcome struct {
	DeviceID string
	Status   string
	Err      error
}

// Dispatcher fans a message summary out to every device of a recipient.
type Dispatcher struct {
	devices     repository.DeviceRepository
	users       repository.UserRepository
	notifier    Notifier
	concurrency int
}

// NewDispatcher creates a dispatcher. concurrency bounds parallel pushes.
func NewDispatcher(devices repository.DeviceRepository, users repository.UserRepository, notifier Notifier, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Dispatcher{
		devices:     devices,
		users:       users,
		notifier:    notifier,
		concurrency: concurrency,
	}
}

// Label returns the notification body for msg.
func Label(msg *domain.Message) string {
	switch msg.MessageType {
	case domain.MessageTypeText:
		return msg.Message
	case domain.MessageTypeImage:
		return "📷 Photo"
	case domain.MessageTypeVideo:
		return "📹 Video"
	case domain.MessageTypePDF:
		return "📄 Document"
	default:
		return defaultTitle
	}
}

// Notify pushes a summary of msg to each registered device of recipientID.
// Transport failures are reported per device and never returned; the only
// error is failing to read the device list.
func (d *Dispatcher) Notify(ctx context.Context, recipientID uint64, msg *domain.Message, senderID uint64) ([]DeviceOutcome, error) {
	l := log.Ctx(ctx)

	devices, err := d.devices.ListByUser(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if len(devices) == 0 {
		l.Debug().Uint64(log.FieldUserID, recipientID).Msg("recipient has no registered devices")
		return nil, nil
	}

	title := defaultTitle
	if sender, err := d.users.GetByID(ctx, senderID); err == nil {
		title = sender.DisplayName(defaultTitle)
	} else {
		l.Warn().Err(err).Uint64(log.FieldUserID, senderID).Msg("failed to look up sender for notification title")
	}

	body := Label(msg)
	outcomes := make([]DeviceOutcome, len(devices))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, device := range devices {
		i, device := i, device
		if device.TokenType != domain.TokenTypeExpo || device.Token == "" {
			outcomes[i] = DeviceOutcome{DeviceID: device.DeviceID, Status: OutcomeSkipped}
			continue
		}

		g.Go(func() error {
			push := PushMessage{
				To:    device.Token,
				Title: title,
				Body:  body,
				Sound: "default",
				Data:  map[string]interface{}{"message": msg},
			}
			outcome := DeviceOutcome{DeviceID: device.DeviceID, Status: OutcomeSent}
			if err := d.notifier.Push(gctx, push); err != nil {
				outcome.Status = OutcomeFailed
				outcome.Err = fmt.Errorf("%w: %w", domain.ErrTransport, err)
			}

			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			// Per-device failures never cancel the remaining pushes.
			return nil
		})
	}
	_ = g.Wait()

	failed := lo.Filter(outcomes, func(o DeviceOutcome, _ int) bool { return o.Status == OutcomeFailed })
	for _, o := range failed {
		l.Warn().Err(o.Err).
			Uint64(log.FieldUserID, recipientID).
			Str(log.FieldDeviceID, o.DeviceID).
			Msg("push notification failed")
	}
	l.Info().
		Uint64(log.FieldUserID, recipientID).
		Uint64(log.FieldMessageID, msg.ID).
		Int("devices", len(devices)).
		Int("sent", lo.CountBy(outcomes, func(o DeviceOutcome) bool { return o.Status == OutcomeSent })).
		Int("failed", len(failed)).
		Msg("notification dispatched")

	return outcomes, nil
}
