package eventrouter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"sakaibot/internal/domain/authgate"
)

func noAuthorized() map[int64]struct{} { return map[int64]struct{}{} }

func TestSenderID(t *testing.T) {
	if got := senderID(&tg.Message{FromID: &tg.PeerUser{UserID: 7}}); got != 7 {
		t.Fatalf("senderID = %d, want 7", got)
	}
	if got := senderID(&tg.Message{FromID: &tg.PeerChat{ChatID: 7}}); got != 0 {
		t.Fatalf("senderID for non-user FromID = %d, want 0", got)
	}
}

func TestPeerID(t *testing.T) {
	cases := []struct {
		peer tg.PeerClass
		want int64
	}{
		{&tg.PeerUser{UserID: 1}, 1},
		{&tg.PeerChat{ChatID: 2}, 2},
		{&tg.PeerChannel{ChannelID: 3}, 3},
	}
	for _, tc := range cases {
		if got := peerID(tc.peer); got != tc.want {
			t.Errorf("peerID(%T) = %d, want %d", tc.peer, got, tc.want)
		}
	}
}

func TestInputPeerFromEntitiesResolvesUser(t *testing.T) {
	entities := tg.Entities{Users: map[int64]*tg.User{5: {ID: 5, AccessHash: 99}}}
	got := inputPeerFromEntities(entities, &tg.PeerUser{UserID: 5})
	user, ok := got.(*tg.InputPeerUser)
	if !ok || user.UserID != 5 || user.AccessHash != 99 {
		t.Fatalf("unexpected peer: %+v", got)
	}
}

func TestInputPeerFromEntitiesFallsBackToEmpty(t *testing.T) {
	got := inputPeerFromEntities(tg.Entities{}, &tg.PeerUser{UserID: 5})
	if _, ok := got.(*tg.InputPeerEmpty); !ok {
		t.Fatalf("expected InputPeerEmpty fallback, got %T", got)
	}
}

func TestLooksLikeConfirm(t *testing.T) {
	if !looksLikeConfirm("  Confirm  ") {
		t.Fatal("expected case/whitespace-insensitive match")
	}
	if looksLikeConfirm("not confirm") {
		t.Fatal("expected non-exact text to not match")
	}
}

func TestHandleDispatchesClassifiedEvent(t *testing.T) {
	var mu sync.Mutex
	var gotClass authgate.Classification
	dispatched := make(chan struct{})

	r := New(nil, 4, 1, noAuthorized, nil, func(_ context.Context, _ string, class authgate.Classification, _ authgate.Event) {
		mu.Lock()
		gotClass = class
		mu.Unlock()
		close(dispatched)
	})

	msg := &tg.Message{Out: true, Message: "/ping", PeerID: &tg.PeerUser{UserID: 1}}
	r.handle(context.Background(), tg.Entities{}, msg)

	select {
	case <-dispatched:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	if gotClass != authgate.OwnerDirect {
		t.Fatalf("class = %v, want OwnerDirect", gotClass)
	}
}

func TestHandleIgnoresNonCommandText(t *testing.T) {
	called := false
	r := New(nil, 4, 1, noAuthorized, nil, func(_ context.Context, _ string, _ authgate.Classification, _ authgate.Event) {
		called = true
	})

	msg := &tg.Message{Out: true, Message: "just chatting", PeerID: &tg.PeerUser{UserID: 1}}
	r.handle(context.Background(), tg.Entities{}, msg)
	r.Wait()

	if called {
		t.Fatal("expected dispatch to not be called for non-command text")
	}
}

func TestHandleRecoversDispatchPanic(t *testing.T) {
	r := New(nil, 4, 1, noAuthorized, nil, func(context.Context, string, authgate.Classification, authgate.Event) {
		panic("boom")
	})

	msg := &tg.Message{Out: true, Message: "/ping", PeerID: &tg.PeerUser{UserID: 1}}
	r.handle(context.Background(), tg.Entities{}, msg)
	r.Wait() // must return, not hang or crash the test process
}

func TestHandleResolvesRepliedTextOnlyForConfirmCandidates(t *testing.T) {
	var resolveCalls int
	var mu sync.Mutex
	resolve := func(_ context.Context, _ *tg.Message, _ int) (string, bool) {
		mu.Lock()
		resolveCalls++
		mu.Unlock()
		return "/generate cat", true
	}

	dispatched := make(chan authgate.Event, 1)
	r := New(nil, 4, 1, noAuthorized, resolve, func(_ context.Context, _ string, _ authgate.Classification, ev authgate.Event) {
		dispatched <- ev
	})

	msg := &tg.Message{
		Out:     true,
		Message: "confirm",
		PeerID:  &tg.PeerUser{UserID: 1},
		ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 42},
	}
	r.handle(context.Background(), tg.Entities{}, msg)

	select {
	case ev := <-dispatched:
		if ev.RepliedText != "/generate cat" {
			t.Fatalf("RepliedText = %q, want /generate cat", ev.RepliedText)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	if resolveCalls != 1 {
		t.Fatalf("resolveCalls = %d, want 1", resolveCalls)
	}
}

func TestHandleSkipsResolveForNonConfirmReply(t *testing.T) {
	resolveCalls := 0
	resolve := func(_ context.Context, _ *tg.Message, _ int) (string, bool) {
		resolveCalls++
		return "", false
	}

	r := New(nil, 4, 1, noAuthorized, resolve, func(context.Context, string, authgate.Classification, authgate.Event) {})

	msg := &tg.Message{
		Out:     true,
		Message: "/ping",
		PeerID:  &tg.PeerUser{UserID: 1},
		ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 42},
	}
	r.handle(context.Background(), tg.Entities{}, msg)
	r.Wait()

	if resolveCalls != 0 {
		t.Fatalf("resolveCalls = %d, want 0 for a non-confirm reply", resolveCalls)
	}
}
