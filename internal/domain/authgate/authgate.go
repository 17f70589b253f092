// Package authgate classifies inbound Telegram events into the small set
// of categories the dispatcher acts on. Classification is pure: given an
// event and the current authorized-peer set, it performs no I/O.
package authgate

import (
	"strings"

	"github.com/gotd/td/tg"
)

// Classification is the category an event falls into.
type Classification int

const (
	// Ignore means the event carries no command and should be dropped.
	Ignore Classification = iota
	// OwnerDirect is an outgoing message (sent by this account) starting with "/".
	OwnerDirect
	// AuthorizedDirect is an incoming message from an authorized peer starting with "/".
	AuthorizedDirect
	// ConfirmFlow is an outgoing confirmation reply to a message that starts with "/".
	ConfirmFlow
)

// ConfirmKeyword is the literal text (after trim+lowercase) that triggers
// ConfirmFlow when sent by the owner as a reply.
const ConfirmKeyword = "confirm"

// Event is the minimal shape of an inbound update the gate needs to see.
// ChatID/MsgID/Peer address the command message itself; classification
// ignores them but the dispatcher needs them to reply, edit or forward.
// Peer is built from the update's entities map, so addressing a reply never
// needs an extra resolution round-trip.
type Event struct {
	IsOutgoing   bool
	SenderID     int64
	ChatID       int64
	MsgID        int
	Peer         tg.InputPeerClass
	Text         string
	IsReply      bool
	RepliedText  string
	RepliedMsgID int
}

// Result is the outcome of classification. For ConfirmFlow, CommandText
// holds the replied message's text (the command to actually execute),
// inheriting owner authority; for the direct forms it holds ev.Text.
type Result struct {
	Class       Classification
	CommandText string
}

// Classify categorizes ev given the set of peer ids authorized for direct
// command use.
func Classify(ev Event, authorizedPeers map[int64]struct{}) Result {
	if ev.IsOutgoing {
		trimmed := strings.TrimSpace(ev.Text)
		if strings.HasPrefix(trimmed, "/") {
			return Result{Class: OwnerDirect, CommandText: trimmed}
		}
		if ev.IsReply && strings.EqualFold(strings.TrimSpace(trimmed), ConfirmKeyword) {
			repliedTrimmed := strings.TrimSpace(ev.RepliedText)
			if strings.HasPrefix(repliedTrimmed, "/") {
				return Result{Class: ConfirmFlow, CommandText: repliedTrimmed}
			}
		}
		return Result{Class: Ignore}
	}

	if _, ok := authorizedPeers[ev.SenderID]; ok {
		trimmed := strings.TrimSpace(ev.Text)
		if strings.HasPrefix(trimmed, "/") {
			return Result{Class: AuthorizedDirect, CommandText: trimmed}
		}
	}

	return Result{Class: Ignore}
}
