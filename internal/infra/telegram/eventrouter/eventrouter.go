// Package eventrouter registers the gotd update handlers that feed
// inbound messages into AuthorizationGate and hands classified events to
// a worker pool that invokes the command dispatcher. Registration is
// idempotent across reconnects since tg.UpdateDispatcher handler
// assignment is simple field assignment, safe to repeat.
package eventrouter

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"sakaibot/internal/domain/authgate"
)

// Dispatch is invoked for every event AuthorizationGate classifies as
// something other than Ignore. correlationID is a fresh id assigned per
// event and expected to be threaded through every downstream log line.
type Dispatch func(ctx context.Context, correlationID string, class authgate.Classification, ev authgate.Event)

// Router wires gotd's UpdateDispatcher to AuthorizationGate and a worker
// pool that runs Dispatch concurrently, bounded by PoolSize.
type Router struct {
	log      *zap.Logger
	dispatch Dispatch
	selfID   int64

	authorizedPeers func() map[int64]struct{}

	// resolveReplied fetches the text of a replied-to message, needed only
	// for the confirm-flow classification path (step 3 of AuthorizationGate).
	resolveReplied func(ctx context.Context, msg *tg.Message, replyMsgID int) (text string, ok bool)

	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a Router. selfID is this account's own user id, used to
// recognize outgoing messages reliably even when UpdateNewMessage.Out is
// ambiguous for channel-style peers. authorizedPeers is called on every
// event so it always reflects the live settings document. resolveReplied
// may be nil, in which case confirm-flow replies are never recognized.
func New(
	log *zap.Logger,
	poolSize int,
	selfID int64,
	authorizedPeers func() map[int64]struct{},
	resolveReplied func(ctx context.Context, msg *tg.Message, replyMsgID int) (string, bool),
	dispatch Dispatch,
) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	if poolSize <= 0 {
		poolSize = 8
	}
	return &Router{
		log:             log,
		dispatch:        dispatch,
		selfID:          selfID,
		authorizedPeers: authorizedPeers,
		resolveReplied:  resolveReplied,
		sem:             make(chan struct{}, poolSize),
	}
}

// Register attaches the router's handlers to dispatcher. Safe to call
// again after a reconnect; it simply reassigns the same handler funcs.
func (r *Router) Register(dispatcher *tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(r.onNewMessage)
	dispatcher.OnNewChannelMessage(r.onNewChannelMessage)
}

// Wait blocks until every in-flight dispatched event has returned. Call
// during shutdown after the update manager has stopped delivering events.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) onNewMessage(ctx context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}
	r.handle(ctx, entities, msg)
	return nil
}

func (r *Router) onNewChannelMessage(ctx context.Context, entities tg.Entities, u *tg.UpdateNewChannelMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}
	r.handle(ctx, entities, msg)
	return nil
}

func (r *Router) handle(ctx context.Context, entities tg.Entities, msg *tg.Message) {
	ev := authgate.Event{
		IsOutgoing: msg.Out || (r.selfID != 0 && senderID(msg) == r.selfID),
		SenderID:   senderID(msg),
		ChatID:     peerID(msg.PeerID),
		MsgID:      msg.ID,
		Peer:       inputPeerFromEntities(entities, msg.PeerID),
		Text:       msg.Message,
	}

	if msg.ReplyTo != nil {
		if replyHeader, ok := msg.ReplyTo.(*tg.MessageReplyHeader); ok {
			ev.IsReply = true
			ev.RepliedMsgID = replyHeader.ReplyToMsgID

			// The confirm-flow path only needs the replied text when this
			// message is itself a candidate confirmation (outgoing,
			// non-command-prefixed). Resolving it unconditionally would
			// mean an extra API call per reply in the chat, most of which
			// are never confirmations.
			if ev.IsOutgoing && r.resolveReplied != nil && looksLikeConfirm(msg.Message) {
				if text, ok := r.resolveReplied(ctx, msg, replyHeader.ReplyToMsgID); ok {
					ev.RepliedText = text
				}
			}
		}
	}

	result := authgate.Classify(ev, r.authorizedPeers())
	if result.Class == authgate.Ignore {
		return
	}

	correlationID := uuid.NewString()

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("dispatch worker panic recovered",
					zap.String("correlation_id", correlationID),
					zap.Any("panic", p),
				)
			}
		}()
		r.dispatch(ctx, correlationID, result.Class, ev)
	}()
}

func looksLikeConfirm(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), authgate.ConfirmKeyword)
}

func senderID(msg *tg.Message) int64 {
	peer, ok := msg.FromID.(*tg.PeerUser)
	if !ok {
		return 0
	}
	return peer.UserID
}

// peerID extracts a chat-scoped identity from the raw PeerClass, regardless
// of whether the chat is a direct user, a basic group or a channel/forum.
func peerID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return v.ChatID
	case *tg.PeerChannel:
		return v.ChannelID
	default:
		return 0
	}
}

// inputPeerFromEntities turns the bare PeerClass carried by an update into an
// InputPeerClass usable for sending/editing/forwarding, using the access
// hashes gotd already resolved into entities for this update. Falls back to
// InputPeerEmpty if the entity isn't present, which should not happen for any
// peer an update was just delivered for.
func inputPeerFromEntities(entities tg.Entities, p tg.PeerClass) tg.InputPeerClass {
	switch v := p.(type) {
	case *tg.PeerUser:
		if u, ok := entities.Users[v.UserID]; ok {
			return &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: v.ChatID}
	case *tg.PeerChannel:
		if ch, ok := entities.Channels[v.ChannelID]; ok {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
		}
	}
	return &tg.InputPeerEmpty{}
}
