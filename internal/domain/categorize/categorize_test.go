package categorize

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tg"
)

type fakeForwarder struct {
	lastRequest *tg.MessagesForwardMessagesRequest
	err         error
}

func (f *fakeForwarder) MessagesForwardMessages(_ context.Context, request *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error) {
	f.lastRequest = request
	if f.err != nil {
		return nil, f.err
	}
	return &tg.Updates{}, nil
}

func TestForwardBuildsRequestWithoutTopic(t *testing.T) {
	fwd := &fakeForwarder{}
	r := New(fwd, func() int64 { return 42 })

	source := &tg.InputPeerChat{ChatID: 1}
	target := &tg.InputPeerChannel{ChannelID: 2}
	err := r.Forward(context.Background(), Request{
		SourcePeer:   source,
		RepliedMsgID: 100,
		TargetPeer:   target,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := fwd.lastRequest
	if req.FromPeer != source || req.ToPeer != target {
		t.Fatalf("unexpected peers on request: %+v", req)
	}
	if len(req.ID) != 1 || req.ID[0] != 100 {
		t.Fatalf("unexpected ID: %v", req.ID)
	}
	if len(req.RandomID) != 1 || req.RandomID[0] != 42 {
		t.Fatalf("unexpected RandomID: %v", req.RandomID)
	}
	if req.TopMsgID != 0 {
		t.Fatalf("expected no TopMsgID set, got %d", req.TopMsgID)
	}
}

func TestForwardSetsTopicWhenNonZero(t *testing.T) {
	fwd := &fakeForwarder{}
	r := New(fwd, func() int64 { return 1 })

	err := r.Forward(context.Background(), Request{
		SourcePeer:   &tg.InputPeerChat{ChatID: 1},
		RepliedMsgID: 5,
		TargetPeer:   &tg.InputPeerChannel{ChannelID: 2},
		TopicID:      7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fwd.lastRequest.TopMsgID != 7 {
		t.Fatalf("TopMsgID = %d, want 7", fwd.lastRequest.TopMsgID)
	}
}

func TestForwardWrapsAPIError(t *testing.T) {
	wantErr := errors.New("rpc failed")
	fwd := &fakeForwarder{err: wantErr}
	r := New(fwd, func() int64 { return 1 })

	err := r.Forward(context.Background(), Request{
		SourcePeer:   &tg.InputPeerChat{ChatID: 1},
		RepliedMsgID: 5,
		TargetPeer:   &tg.InputPeerChannel{ChannelID: 2},
	})
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewDefaultsRandomIDGenerator(t *testing.T) {
	r := New(&fakeForwarder{}, nil)
	if r.randomID == nil {
		t.Fatal("expected a default randomID generator")
	}
	_ = r.randomID()
}
