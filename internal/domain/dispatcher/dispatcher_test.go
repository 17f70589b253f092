package dispatcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"sakaibot/internal/backends/llm"
	"sakaibot/internal/domain/analyzequeue"
	"sakaibot/internal/domain/authgate"
	"sakaibot/internal/domain/categorize"
	"sakaibot/internal/domain/circuitbreaker"
	"sakaibot/internal/domain/command"
	"sakaibot/internal/domain/keyrotator"
	"sakaibot/internal/domain/ratelimiter"
	"sakaibot/internal/domain/settings"
)

type fakeTelegram struct {
	sent    []string
	edited  []string
	deleted []int
	nextID  int
}

func (f *fakeTelegram) SendMessage(ctx context.Context, peer tg.InputPeerClass, text string, replyToMsgID int) (int, error) {
	f.nextID++
	f.sent = append(f.sent, text)
	return f.nextID, nil
}

func (f *fakeTelegram) EditMessage(ctx context.Context, peer tg.InputPeerClass, msgID int, text string) error {
	f.edited = append(f.edited, text)
	return nil
}

func (f *fakeTelegram) DeleteMessage(ctx context.Context, msgID int) error {
	f.deleted = append(f.deleted, msgID)
	return nil
}

func (f *fakeTelegram) SendFile(ctx context.Context, peer tg.InputPeerClass, localPath string, asVoiceNote bool, caption string, replyToMsgID int) error {
	return nil
}

func (f *fakeTelegram) DownloadMedia(ctx context.Context, loc tg.InputFileLocationClass, destPath string) error {
	return nil
}

func (f *fakeTelegram) ForwardMessages(ctx context.Context, fromPeer, toPeer tg.InputPeerClass, ids []int, topMsgID int) error {
	return nil
}

func (f *fakeTelegram) GetMessages(ctx context.Context, peer tg.InputPeerClass, ids []int) ([]tg.MessageClass, error) {
	return nil, nil
}

func (f *fakeTelegram) GetHistory(ctx context.Context, peer tg.InputPeerClass, limit int) ([]tg.MessageClass, error) {
	return nil, nil
}

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.reply}, nil
}

func newTestDispatcher(t *testing.T, tgClient *fakeTelegram, provider llm.Provider) *Dispatcher {
	t.Helper()
	cfg := Config{
		Telegram:    tgClient,
		Settings:    settings.New(t.TempDir()+"/settings.json", nil),
		Limits:      command.Limits{PromptMax: 1000, TranslateMax: 1000, TellmeMax: 1000, ImageMax: 1000, AnalyzeMax: 50},
		RateLimit:   ratelimiter.New(100, time.Minute),
		AnalyzeQ:    analyzequeue.New(),
		AIBreaker:   circuitbreaker.New(circuitbreaker.DefaultConfig()),
		MaxRetries:  2,
		LLMKeys:     keyrotator.New("fake", []string{"key-1"}),
		LLMProvider: provider,
		LLMModel:    "test-model",
		TempDir:     t.TempDir(),
		Now:         func() time.Time { return time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC) },
	}
	return New(cfg)
}

func TestHandlePromptSuccess(t *testing.T) {
	tgClient := &fakeTelegram{}
	d := newTestDispatcher(t, tgClient, &fakeLLM{reply: "hello back"})

	ev := authgate.Event{
		IsOutgoing: true,
		SenderID:   1,
		ChatID:     1,
		MsgID:      10,
		Peer:       &tg.InputPeerUser{UserID: 1},
		Text:       "/prompt=hello",
	}

	d.Handle(context.Background(), "corr-1", authgate.OwnerDirect, ev)

	if len(tgClient.sent) != 2 {
		t.Fatalf("expected thinking message + done ack, got %d sent messages: %v", len(tgClient.sent), tgClient.sent)
	}
	if len(tgClient.edited) != 1 || tgClient.edited[0] != "hello back" {
		t.Fatalf("expected final edit with model reply, got %v", tgClient.edited)
	}
	if tgClient.sent[1] != "done 12:30" {
		t.Fatalf("expected completion ack, got %q", tgClient.sent[1])
	}
}

func TestHandleParseFailureRepliesWithUsage(t *testing.T) {
	tgClient := &fakeTelegram{}
	d := newTestDispatcher(t, tgClient, &fakeLLM{})

	ev := authgate.Event{
		IsOutgoing: true,
		SenderID:   1,
		ChatID:     1,
		MsgID:      10,
		Peer:       &tg.InputPeerUser{UserID: 1},
		Text:       "/prompt=",
	}

	d.Handle(context.Background(), "corr-2", authgate.OwnerDirect, ev)

	if len(tgClient.sent) != 1 {
		t.Fatalf("expected exactly one usage reply, got %v", tgClient.sent)
	}
}

func TestHandleRateLimitDenied(t *testing.T) {
	tgClient := &fakeTelegram{}
	d := newTestDispatcher(t, tgClient, &fakeLLM{reply: "unused"})
	d.cfg.RateLimit = ratelimiter.New(1, time.Minute)
	d.cfg.RateLimit.Allow("1") // consume the only slot before the command arrives

	ev := authgate.Event{
		IsOutgoing: true,
		SenderID:   1,
		ChatID:     1,
		MsgID:      10,
		Peer:       &tg.InputPeerUser{UserID: 1},
		Text:       "/prompt=hello",
	}

	d.Handle(context.Background(), "corr-3", authgate.OwnerDirect, ev)

	if len(tgClient.sent) != 1 {
		t.Fatalf("expected a single rate-limit reply, got %v", tgClient.sent)
	}
}

func TestHandleAuthAddListRemove(t *testing.T) {
	tgClient := &fakeTelegram{}
	d := newTestDispatcher(t, tgClient, &fakeLLM{})

	ev := authgate.Event{
		IsOutgoing: true,
		SenderID:   1,
		ChatID:     1,
		MsgID:      10,
		Peer:       &tg.InputPeerUser{UserID: 1},
	}

	ev.Text = "/auth add 555"
	d.Handle(context.Background(), "corr-4", authgate.OwnerDirect, ev)

	doc := d.cfg.Settings.Load()
	if !containsID(doc.DirectlyAuthorizedPVs, 555) {
		t.Fatalf("expected 555 to be authorized, got %v", doc.DirectlyAuthorizedPVs)
	}

	ev.Text = "/auth remove 555"
	d.Handle(context.Background(), "corr-5", authgate.OwnerDirect, ev)

	doc = d.cfg.Settings.Load()
	if containsID(doc.DirectlyAuthorizedPVs, 555) {
		t.Fatalf("expected 555 to be removed, got %v", doc.DirectlyAuthorizedPVs)
	}
}

type fakeForwarder struct {
	called  bool
	fromID  int
	request categorize.Request
}

func (f *fakeForwarder) MessagesForwardMessages(ctx context.Context, request *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error) {
	f.called = true
	f.fromID = request.ID[0]
	return &tg.Updates{}, nil
}

type fakeGroupResolver struct{}

func (fakeGroupResolver) InputPeerByKind(ctx context.Context, kind string, id int64) (tg.InputPeerClass, error) {
	if kind != "channel" {
		return nil, fmt.Errorf("unsupported kind %q in test resolver", kind)
	}
	return &tg.InputPeerChannel{ChannelID: id}, nil
}

func TestHandleCategorizeDirectReply(t *testing.T) {
	tgClient := &fakeTelegram{}
	d := newTestDispatcher(t, tgClient, &fakeLLM{})

	fwd := &fakeForwarder{}
	d.cfg.Categorizer = categorize.New(fwd, func() int64 { return 42 })
	d.cfg.GroupResolver = fakeGroupResolver{}

	doc := settings.Document{
		HasTargetGroup:      true,
		SelectedTargetGroup: 999,
		CommandMap:          map[int64][]string{5: {"bugs"}},
	}
	if err := d.cfg.Settings.Save(doc); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	ev := authgate.Event{
		IsOutgoing:   true,
		SenderID:     1,
		ChatID:       1,
		MsgID:        10,
		Peer:         &tg.InputPeerUser{UserID: 1},
		Text:         "/bugs",
		IsReply:      true,
		RepliedMsgID: 7,
	}

	d.Handle(context.Background(), "corr-6", authgate.OwnerDirect, ev)

	if !fwd.called {
		t.Fatalf("expected forward to be called")
	}
	if fwd.fromID != 7 {
		t.Fatalf("expected forward of message 7, got %d", fwd.fromID)
	}
	if len(tgClient.sent) != 0 {
		t.Fatalf("expected no reply on categorize success, got %v", tgClient.sent)
	}
}
