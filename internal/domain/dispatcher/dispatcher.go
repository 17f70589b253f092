// Package dispatcher implements CommandDispatcher: the orchestration core
// that turns a classified event into Telegram side effects. It is the last
// catch point for every user-facing error (see internal/domain/errs) and
// owns the "thinking" message for the lifetime of one command.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"sakaibot/internal/backends/image"
	"sakaibot/internal/backends/llm"
	"sakaibot/internal/backends/stt"
	"sakaibot/internal/backends/tts"
	"sakaibot/internal/domain/analyzequeue"
	"sakaibot/internal/domain/authgate"
	"sakaibot/internal/domain/categorize"
	"sakaibot/internal/domain/circuitbreaker"
	"sakaibot/internal/domain/command"
	"sakaibot/internal/domain/errs"
	"sakaibot/internal/domain/jobqueue"
	"sakaibot/internal/domain/keyrotator"
	"sakaibot/internal/domain/metrics"
	"sakaibot/internal/domain/ratelimiter"
	"sakaibot/internal/domain/settings"
	"sakaibot/internal/infra/telegram/peercache"
)

// TelegramClient is the subset of the Telegram client capability the
// dispatcher needs. Satisfied by *core.ClientCore.
type TelegramClient interface {
	SendMessage(ctx context.Context, peer tg.InputPeerClass, text string, replyToMsgID int) (int, error)
	EditMessage(ctx context.Context, peer tg.InputPeerClass, msgID int, text string) error
	DeleteMessage(ctx context.Context, msgID int) error
	SendFile(ctx context.Context, peer tg.InputPeerClass, localPath string, asVoiceNote bool, caption string, replyToMsgID int) error
	DownloadMedia(ctx context.Context, loc tg.InputFileLocationClass, destPath string) error
	ForwardMessages(ctx context.Context, fromPeer, toPeer tg.InputPeerClass, ids []int, topMsgID int) error
	GetMessages(ctx context.Context, peer tg.InputPeerClass, ids []int) ([]tg.MessageClass, error)
	GetHistory(ctx context.Context, peer tg.InputPeerClass, limit int) ([]tg.MessageClass, error)
}

// GroupResolver turns the configured target-group id into an addressable
// peer. Satisfied by *peersmgr.Service; the group may be a basic group or
// a supergroup/channel, so both kinds are tried.
type GroupResolver interface {
	InputPeerByKind(ctx context.Context, kind string, id int64) (tg.InputPeerClass, error)
}

// Config bundles every collaborator the dispatcher needs. All fields are
// required unless noted optional.
type Config struct {
	Log *zap.Logger

	Telegram      TelegramClient
	GroupResolver GroupResolver
	Settings      *settings.Store

	Limits     command.Limits
	RateLimit  *ratelimiter.Limiter
	AnalyzeQ   *analyzequeue.Queue
	AIBreaker  *circuitbreaker.Breaker
	MaxRetries int // bound on per-command credential-rotation retries

	Metrics *metrics.Collector // optional; nil disables recording

	LLMKeys     *keyrotator.KeyRotator
	LLMProvider llm.Provider
	LLMModel    string

	STT *stt.Stack

	TTSKeys     *keyrotator.KeyRotator // optional
	TTSProvider tts.Provider           // optional
	TTSLane     *jobqueue.Lane

	FluxGen  image.Generator // optional
	FluxLane *jobqueue.Lane
	SDXLGen  image.Generator // optional
	SDXLLane *jobqueue.Lane

	Categorizer *categorize.Router
	PeerCache   *peercache.Cache // optional

	TempDir    string
	Transcoder string // optional path to an external audio transcoder (e.g. ffmpeg)
	SelfID     int64

	Now func() time.Time
}

// Dispatcher is safe for concurrent use; every call is self-contained
// apart from the shared collaborators it was built with.
type Dispatcher struct {
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
	metrics *metrics.Collector
}

// New builds a Dispatcher from cfg. Zero-value optional fields (TTS/Flux/
// SDXL backends, PeerCache) are tolerated; the corresponding commands fail
// with a configuration error at call time instead of panicking at startup.
func New(cfg Config) *Dispatcher {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	return &Dispatcher{cfg: cfg, log: cfg.Log, now: cfg.Now, metrics: cfg.Metrics}
}

// ctxLog carries the per-event fields every log line in a dispatch should
// include, most importantly the correlation id threaded from EventRouter.
type ctxLog struct {
	correlationID string
	senderID      int64
	chatID        int64
}

func (d *Dispatcher) logFields(c ctxLog) []zap.Field {
	return []zap.Field{
		zap.String("correlation_id", c.correlationID),
		zap.Int64("sender_id", c.senderID),
		zap.Int64("chat_id", c.chatID),
	}
}

// Handle is the entry point EventRouter invokes for every classified
// event. It never panics back to the caller: handler errors are logged
// and translated to a best-effort reply, and a recovered panic is logged
// without a reply.
func (d *Dispatcher) Handle(ctx context.Context, correlationID string, class authgate.Classification, ev authgate.Event) {
	cl := ctxLog{correlationID: correlationID, senderID: ev.SenderID, chatID: ev.ChatID}

	defer func() {
		if p := recover(); p != nil {
			d.log.Error("dispatcher panic recovered", append(d.logFields(cl), zap.Any("panic", p))...)
		}
	}()

	commandText := ev.Text
	if class == authgate.ConfirmFlow {
		commandText = ev.RepliedText
	}

	senderInfo := d.senderInfo(class, ev)

	doc := d.cfg.Settings.Load()
	categoryNames := categoryNameSet(doc)

	replyCtx, repliedMsg, err := d.buildReplyContext(ctx, ev)
	if err != nil {
		d.log.Warn("resolve replied message failed", append(d.logFields(cl), zap.Error(err))...)
	}

	cmd, parseErr := command.Parse(commandText, categoryNames, d.cfg.Limits, replyCtx)
	if parseErr != nil {
		d.metrics.Increment("command.errors", map[string]string{"command": "parse_error"})
		d.replyError(ctx, ev, parseErr.Error())
		return
	}

	kindTag := map[string]string{"command": cmd.Kind.String()}
	d.metrics.Increment("command.requests", kindTag)
	defer d.metrics.StartTiming("command.duration", kindTag)()

	d.log.Info("dispatching command",
		append(d.logFields(cl), zap.Int("kind", int(cmd.Kind)), zap.String("sender_info", senderInfo))...)

	switch cmd.Kind {
	case command.KindPrompt, command.KindTranslate, command.KindAnalyze, command.KindTellme:
		d.handleAI(ctx, cl, ev, cmd, doc)
	case command.KindImage:
		d.handleImage(ctx, cl, ev, cmd)
	case command.KindTTS:
		d.handleTTS(ctx, cl, ev, cmd)
	case command.KindSTT:
		d.handleSTT(ctx, cl, ev, repliedMsg)
	case command.KindCategorize:
		d.handleCategorize(ctx, cl, ev, class, cmd, doc)
	case command.KindAuth:
		d.handleAuth(ctx, cl, ev, class, cmd, doc)
	case command.KindStatus:
		d.handleStatus(ctx, ev, class)
	case command.KindHelp:
		d.handleHelp(ctx, ev, class)
	default:
		d.replyError(ctx, ev, "unknown command")
	}
}

// senderInfo renders a short label distinguishing who effectively issued
// the command: the owner directly, an authorized peer, or the owner acting
// through a confirm-flow reply.
func (d *Dispatcher) senderInfo(class authgate.Classification, ev authgate.Event) string {
	switch class {
	case authgate.OwnerDirect:
		return "owner"
	case authgate.ConfirmFlow:
		return "owner (confirm)"
	case authgate.AuthorizedDirect:
		return fmt.Sprintf("peer:%d", ev.SenderID)
	default:
		return "unknown"
	}
}

func categoryNameSet(doc settings.Document) map[string]struct{} {
	names := make(map[string]struct{})
	for _, cmds := range doc.CommandMap {
		for _, c := range cmds {
			names[c] = struct{}{}
		}
	}
	return names
}

// rateLimitPrincipal returns the key RateLimiter buckets on for ev. Direct
// senders are keyed by their own id; confirm-flow always resolves to the
// owner's own id since SenderID on an outgoing event is this account.
func rateLimitPrincipal(ev authgate.Event) string {
	return fmt.Sprintf("%d", ev.SenderID)
}

// replyError sends a plain-text error reply to the command message. Used
// for validation failures and any other best-effort error path that
// doesn't already own a "thinking" message to edit.
func (d *Dispatcher) replyError(ctx context.Context, ev authgate.Event, msg string) {
	if msg == "" {
		return
	}
	d.metrics.Increment("command.errors", nil)
	if _, err := d.cfg.Telegram.SendMessage(ctx, ev.Peer, msg, ev.MsgID); err != nil {
		d.log.Warn("send error reply failed", zap.Error(err), zap.Int64("chat_id", ev.ChatID))
	}
}

// buildReplyContext resolves the message ev replies to (if any) into the
// shape the command parser needs: its text, whether it carries a voice
// note, and whether it matches our own /stt finalize format so /translate
// and /tts reply forms can pull just the transcript segment.
func (d *Dispatcher) buildReplyContext(ctx context.Context, ev authgate.Event) (command.ReplyContext, *tg.Message, error) {
	if !ev.IsReply || ev.RepliedMsgID == 0 {
		return command.ReplyContext{}, nil, nil
	}

	msgs, err := d.cfg.Telegram.GetMessages(ctx, ev.Peer, []int{ev.RepliedMsgID})
	if err != nil {
		return command.ReplyContext{}, nil, err
	}
	var msg *tg.Message
	for _, m := range msgs {
		if full, ok := m.(*tg.Message); ok {
			msg = full
			break
		}
	}
	if msg == nil {
		return command.ReplyContext{}, nil, nil
	}

	rc := command.ReplyContext{
		HasReply: true,
		Text:     msg.Message,
		IsVoice:  isVoiceMessage(msg),
	}
	if transcript, ok := extractTranscript(msg.Message); ok {
		rc.IsSTTFormatted = true
		rc.TranscriptOnly = transcript
	}
	return rc, msg, nil
}

func isVoiceMessage(msg *tg.Message) bool {
	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return false
	}
	doc, ok := media.Document.(*tg.Document)
	if !ok {
		return false
	}
	for _, attr := range doc.Attributes {
		if audio, ok := attr.(*tg.DocumentAttributeAudio); ok && audio.Voice {
			return true
		}
	}
	return false
}

// sttTranscriptHeader/sttSummaryHeader mark the finalize message /stt
// sends, so a later /translate or /tts reply can recover just the
// transcript instead of the whole transcript+summary block.
const (
	sttTranscriptHeader = "🗣 Transcript:"
	sttSummaryHeader    = "📋 Summary:"
)

func extractTranscript(text string) (string, bool) {
	if !strings.Contains(text, sttTranscriptHeader) {
		return "", false
	}
	rest := text[strings.Index(text, sttTranscriptHeader)+len(sttTranscriptHeader):]
	if idx := strings.Index(rest, sttSummaryHeader); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest), true
}

// acknowledgeDone sends the "done + HH:MM" completion signal required
// after every successful AI command, so the user sees a terminal event
// even when the preceding edit was a content-not-modified no-op.
func (d *Dispatcher) acknowledgeDone(ctx context.Context, ev authgate.Event) {
	d.metrics.Increment("command.success", nil)
	text := fmt.Sprintf("done %s", d.now().Format("15:04"))
	if _, err := d.cfg.Telegram.SendMessage(ctx, ev.Peer, text, ev.MsgID); err != nil {
		d.log.Warn("send completion ack failed", zap.Error(err), zap.Int64("chat_id", ev.ChatID))
	}
}

// userFacing renders err for display, returning false when it must not be
// shown at all (authorization errors are silently dropped per spec, to
// avoid amplification toward unauthorized senders).
func userFacing(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if errs.KindOf(err) == errs.KindAuthorization {
		return "", false
	}
	msg := errs.Translate(err)
	return msg, msg != ""
}
