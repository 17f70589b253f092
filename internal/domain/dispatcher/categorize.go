package dispatcher

import (
	"context"
	"errors"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"sakaibot/internal/domain/authgate"
	"sakaibot/internal/domain/categorize"
	"sakaibot/internal/domain/command"
	"sakaibot/internal/domain/settings"
)

// errUsageNotReply marks a categorization command issued without the
// reply context it requires.
var errUsageNotReply = errors.New("categorize: command must be used as a reply")

// handleCategorize forwards the replied-to message into the configured
// target group/topic for a command name matching a CommandMap entry. A
// confirm-flow categorization forwards the command message's own
// reply target, not the confirm reply's: the confirm reply always points
// back at the quoted command message, one hop short of the content to
// forward.
func (d *Dispatcher) handleCategorize(ctx context.Context, cl ctxLog, ev authgate.Event, class authgate.Classification, cmd command.Command, doc settings.Document) {
	if !doc.HasTargetGroup {
		d.replyError(ctx, ev, "⚠️ no target group configured for categorization")
		return
	}

	repliedMsgID, err := d.resolveCategorizeTarget(ctx, ev, class)
	if err != nil {
		d.log.Warn("resolve categorize target failed", append(d.logFields(cl), zap.Error(err))...)
		d.replyError(ctx, ev, "⚠️ this command must be used as a reply")
		return
	}

	topicID := findTopic(doc, cmd.CategorizeName)

	targetPeer, err := d.resolveGroupPeer(ctx, doc.SelectedTargetGroup)
	if err != nil {
		d.log.Warn("resolve target group failed", append(d.logFields(cl), zap.Error(err))...)
		d.replyError(ctx, ev, "⚠️ could not resolve the target group")
		return
	}

	err = d.cfg.Categorizer.Forward(ctx, categorize.Request{
		SourcePeer:   ev.Peer,
		RepliedMsgID: repliedMsgID,
		TargetPeer:   targetPeer,
		TopicID:      int(topicID),
	})
	if err != nil {
		d.log.Warn("categorize forward failed", append(d.logFields(cl), zap.Error(err))...)
		d.replyError(ctx, ev, "⚠️ could not forward this message")
		return
	}
	// No reply on success: Telegram's own forwarded message is the
	// visible confirmation.
}

// resolveCategorizeTarget returns the message id to forward. For a direct
// reply it is simply the replied-to message. For a confirm-flow reply it
// is one hop further: the message the quoted command itself replied to.
func (d *Dispatcher) resolveCategorizeTarget(ctx context.Context, ev authgate.Event, class authgate.Classification) (int, error) {
	if !ev.IsReply || ev.RepliedMsgID == 0 {
		return 0, errUsageNotReply
	}
	if class != authgate.ConfirmFlow {
		return ev.RepliedMsgID, nil
	}

	msgs, err := d.cfg.Telegram.GetMessages(ctx, ev.Peer, []int{ev.RepliedMsgID})
	if err != nil {
		return 0, err
	}
	quoted, ok := firstFullMessage(msgs)
	if !ok {
		return 0, errUsageNotReply
	}
	header, ok := replyHeaderOf(quoted)
	if !ok {
		return 0, errUsageNotReply
	}
	return header, nil
}

func findTopic(doc settings.Document, name string) int64 {
	for topic, cmds := range doc.CommandMap {
		for _, c := range cmds {
			if c == name {
				return topic
			}
		}
	}
	return settings.NoTopic
}

// resolveGroupPeer resolves the configured target group id to an
// InputPeerClass, trying the channel (supergroup/forum) kind first since
// that is the common case for categorization targets, then falling back
// to a basic group.
func (d *Dispatcher) resolveGroupPeer(ctx context.Context, groupID int64) (tg.InputPeerClass, error) {
	if peer, err := d.cfg.GroupResolver.InputPeerByKind(ctx, "channel", groupID); err == nil {
		return peer, nil
	}
	return d.cfg.GroupResolver.InputPeerByKind(ctx, "chat", groupID)
}

func firstFullMessage(msgs []tg.MessageClass) (*tg.Message, bool) {
	for _, m := range msgs {
		if full, ok := m.(*tg.Message); ok {
			return full, true
		}
	}
	return nil, false
}

func replyHeaderOf(msg *tg.Message) (int, bool) {
	header, ok := msg.ReplyTo.(*tg.MessageReplyHeader)
	if !ok {
		return 0, false
	}
	return header.ReplyToMsgID, true
}
