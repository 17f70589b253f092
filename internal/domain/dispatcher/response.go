package dispatcher

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"sakaibot/internal/domain/authgate"
	"sakaibot/internal/domain/textproc"
)

// reserveLength is the formatting headroom subtracted from Telegram's
// message-length cap before splitting, leaving room for the "(i/n)"
// pagination suffix appended by textproc.Paginate.
const reserveLength = 32

// interChunkDelay mitigates rate-limiting when a response must be sent as
// several messages in quick succession.
const interChunkDelay = 300 * time.Millisecond

// startThinking sends the initial placeholder message a command's
// response protocol will later edit in place.
func (d *Dispatcher) startThinking(ctx context.Context, ev authgate.Event, placeholder string) (int, error) {
	return d.cfg.Telegram.SendMessage(ctx, ev.Peer, placeholder, ev.MsgID)
}

// deliver renders text per the response-delivery protocol: BiDi-safety
// fixup, then edit-in-place if it fits, otherwise split into chunks and
// edit the first chunk while sending the rest as follow-up messages. Only
// the first chunk carries ev.MsgID as its reply target, matching the
// "dispatcher owns the thinking message until the last chunk" invariant.
func (d *Dispatcher) deliver(ctx context.Context, ev authgate.Event, thinkingMsgID int, text string) error {
	fixed := textproc.EnsureRTLSafe(text, false)

	chunks := textproc.Paginate(textproc.Split(fixed, textproc.DefaultMaxLength, reserveLength))

	if err := d.editOrFallback(ctx, ev, thinkingMsgID, chunks[0]); err != nil {
		return err
	}

	for _, chunk := range chunks[1:] {
		time.Sleep(interChunkDelay)
		if _, err := d.cfg.Telegram.SendMessage(ctx, ev.Peer, chunk, 0); err != nil {
			d.log.Warn("send followup chunk failed", zap.Error(err), zap.Int64("chat_id", ev.ChatID))
		}
	}
	return nil
}

// editOrFallback edits msgID to text, silently ignoring a "content not
// modified" failure (idempotent no-op) and falling back to sending a
// fresh message for any other edit failure.
func (d *Dispatcher) editOrFallback(ctx context.Context, ev authgate.Event, msgID int, text string) error {
	err := d.cfg.Telegram.EditMessage(ctx, ev.Peer, msgID, text)
	if err == nil {
		return nil
	}
	if isContentNotModified(err) {
		return nil
	}
	d.log.Warn("edit thinking message failed, sending fresh message", zap.Error(err), zap.Int64("chat_id", ev.ChatID))
	_, sendErr := d.cfg.Telegram.SendMessage(ctx, ev.Peer, text, ev.MsgID)
	return sendErr
}

// isContentNotModified matches gotd's rendering of Telegram's
// MESSAGE_NOT_MODIFIED RPC error, which must be swallowed rather than
// surfaced or retried.
func isContentNotModified(err error) bool {
	return strings.Contains(strings.ToUpper(err.Error()), "MESSAGE_NOT_MODIFIED")
}
