package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// Audit actions for delivery-service.
const (
	ActionJoin           = "chat.join"
	ActionSendMessage    = "chat.send_message"
	ActionReadMessages   = "chat.read_messages"
	ActionDeleteMessage  = "chat.delete_message"
	ActionDisconnect     = "chat.disconnect"
	ActionRegisterDevice = "device.register"
	ActionUpload         = "media.upload"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// LogWithTarget emits an audit log naming the entity acted on.
func LogWithTarget(ctx context.Context, action string, userID uint64, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Uint64(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID uint64, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Uint64(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
