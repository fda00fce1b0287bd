package audit

import (
	"context"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Audit actions for the chat gateway and worker.
const (
	ActionConnect           = "chat.connect"
	ActionDisconnect        = "chat.disconnect"
	ActionSubscribe         = "chat.subscribe"
	ActionSubscribeDenied   = "chat.subscribe_denied"
	ActionSendDenied        = "chat.send_denied"
	ActionSendMessage       = "chat.send_message"
	ActionMessageDeadLetter = "chat.message_dead_lettered"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, username string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, username string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Str(FieldDetail, detail).
		Msg(msg)
}
