// Package categorize implements CategorizationRouter: forwarding a replied
// message into a configured target group/topic when the command name
// matches a CommandMap entry.
package categorize

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/gotd/td/tg"
)

// Forwarder is the subset of the Telegram API the router needs. Satisfied
// by *tg.Client.
type Forwarder interface {
	MessagesForwardMessages(ctx context.Context, request *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error)
}

// RandomID generates a fresh 64-bit random id for one forward call.
type RandomID func() int64

// Request describes one categorization forward.
type Request struct {
	SourcePeer  tg.InputPeerClass
	RepliedMsgID int
	TargetPeer  tg.InputPeerClass
	TopicID     int // 0 means "no topic / main chat"
}

// Router forwards messages via the Telegram client.
type Router struct {
	api      Forwarder
	randomID RandomID
}

// New builds a Router. randomID defaults to a package-level generator
// backed by crypto/rand when nil.
func New(api Forwarder, randomID RandomID) *Router {
	if randomID == nil {
		randomID = defaultRandomID
	}
	return &Router{api: api, randomID: randomID}
}

// Forward performs the categorization forward described by req.
func (r *Router) Forward(ctx context.Context, req Request) error {
	request := &tg.MessagesForwardMessagesRequest{
		FromPeer: req.SourcePeer,
		ID:       []int{req.RepliedMsgID},
		ToPeer:   req.TargetPeer,
		RandomID: []int64{r.randomID()},
	}
	if req.TopicID != 0 {
		request.SetTopMsgID(req.TopicID)
	}

	_, err := r.api.MessagesForwardMessages(ctx, request)
	if err != nil {
		return fmt.Errorf("forward message to category target: %w", err)
	}
	return nil
}

func defaultRandomID() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(buf[:]))
}
