// Package app wires together SakaiBot's domain and infra components and
// drives the Telegram client's run/shutdown lifecycle. app.go builds every
// collaborator; runner.go orders their start/stop around the MTProto
// connection.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"sakaibot/internal/adapters/telegram/core"
	"sakaibot/internal/backends/image"
	"sakaibot/internal/backends/image/flux"
	"sakaibot/internal/backends/image/sdxl"
	"sakaibot/internal/backends/llm"
	"sakaibot/internal/backends/llm/gemini"
	"sakaibot/internal/backends/llm/openrouter"
	"sakaibot/internal/backends/stt"
	"sakaibot/internal/backends/stt/whisper"
	"sakaibot/internal/backends/tts"
	"sakaibot/internal/backends/tts/azuretts"
	"sakaibot/internal/domain/analyzequeue"
	"sakaibot/internal/domain/categorize"
	"sakaibot/internal/domain/circuitbreaker"
	"sakaibot/internal/domain/command"
	"sakaibot/internal/domain/dispatcher"
	"sakaibot/internal/domain/jobqueue"
	"sakaibot/internal/domain/keyrotator"
	"sakaibot/internal/domain/metrics"
	"sakaibot/internal/domain/ratelimiter"
	"sakaibot/internal/domain/settings"
	"sakaibot/internal/infra/config"
	"sakaibot/internal/infra/instancelock"
	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/telegram/eventrouter"
	"sakaibot/internal/infra/telegram/health"
	"sakaibot/internal/infra/telegram/peercache"
	"sakaibot/internal/infra/telegram/peersmgr"
	"sakaibot/internal/infra/telegram/session"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// cleanPeriod is how often the runner purges expired peer-cache entries.
const cleanPeriod = time.Hour

// eventPoolSize bounds how many classified events EventRouter dispatches
// concurrently.
const eventPoolSize = 8

// App owns every long-lived collaborator and the Telegram client's
// lifecycle context.
type App struct {
	cl          *core.ClientCore
	peers       *peersmgr.Service
	peerCache   *peercache.Cache
	settings    *settings.Store
	lock        *instancelock.Lock
	rateLimit   *ratelimiter.Limiter
	aiBreaker   *circuitbreaker.Breaker
	tgBreaker   *circuitbreaker.Breaker
	analyzeQ    *analyzequeue.Queue
	llmKeys     *keyrotator.KeyRotator
	ttsKeys     *keyrotator.KeyRotator
	fluxLane    *jobqueue.Lane
	sdxlLane    *jobqueue.Lane
	ttsLane     *jobqueue.Lane
	dispatch    *tg.UpdateDispatcher
	dispatcher  *dispatcher.Dispatcher
	router      *eventrouter.Router
	healthMon   *health.Monitor
	updMgr      *tgupdates.Manager
	waiter      *floodwait.Waiter
	activityLog *zap.Logger
	metrics     *metrics.Collector

	ctx  context.Context
	stop context.CancelFunc

	runner *Runner
}

// NewApp returns an empty App shell. Init performs the actual wiring.
func NewApp() *App {
	return &App{}
}

// Init builds every collaborator and registers the update handlers. It does
// not bring up the network connection; that happens in Run via Runner.
func (a *App) Init(ctx context.Context, stop context.CancelFunc) error {
	logger.Info("SakaiBot initializing...")
	env := config.Env()

	a.ctx = ctx
	a.stop = stop

	lock, err := instancelock.Acquire(env.LockFile, instancelock.Strict)
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	a.lock = lock

	a.settings = settings.New(env.SettingsFile, logger.Logger())

	a.activityLog = logger.NewActivityLogger(env.MonitorLogFile, 50, 5, 30)

	a.dispatch = func() *tg.UpdateDispatcher { d := tg.NewUpdateDispatcher(); return &d }()
	a.updMgr = tgupdates.New(tgupdates.Config{
		Handler: a.dispatch,
		Storage: core.NewFileStorage(env.UpdatesStateFile),
	})

	a.waiter = floodwait.NewWaiter()

	options := telegram.Options{
		SessionStorage: &session.FileStorage{Path: env.SessionFile},
		UpdateHandler:  a.updMgr,
		Middlewares:    []telegram.Middleware{a.waiter},
		Device: telegram.DeviceConfig{
			DeviceModel:   "SakaiBot",
			SystemVersion: "linux",
			AppVersion:    "1.0.0",
		},
	}

	a.cl = core.New(env.APIID, env.APIHash, env.PhoneNumber, env.SessionFile, options, logger.Logger())

	peers, err := peersmgr.New(a.cl.API, env.PeerCacheFile)
	if err != nil {
		return fmt.Errorf("init peers manager: %w", err)
	}
	a.peers = peers

	peerCache, err := peercache.Open(peerCachePath(env.PeerCacheFile), 24*time.Hour)
	if err != nil {
		return fmt.Errorf("init peer cache: %w", err)
	}
	a.peerCache = peerCache

	a.metrics = metrics.New()
	a.rateLimit = ratelimiter.New(env.RateLimitPerMinute, time.Minute)
	a.aiBreaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	a.tgBreaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	a.analyzeQ = analyzequeue.New()

	a.llmKeys = keyrotator.New("llm", env.LLMKeys)
	if env.TTSKey != "" {
		a.ttsKeys = keyrotator.New("tts", []string{env.TTSKey})
	}

	llmProvider := a.buildLLMProvider(env)
	sttStack := stt.NewStack(whisper.New(firstOrEmpty(env.LLMKeys), "whisper-1", nil))

	var ttsProvider tts.Provider
	if env.TTSKey != "" && env.TTSBaseURL != "" {
		ttsProvider = azuretts.New(env.TTSBaseURL, env.TTSKey, env.TempDir, nil)
		a.ttsLane = jobqueue.NewLane("tts")
	}

	var fluxGen image.Generator
	if env.FluxBaseURL != "" {
		fluxGen = flux.New(env.FluxBaseURL, nil)
		a.fluxLane = jobqueue.NewLane("flux")
	}

	var sdxlGen image.Generator
	if env.SDXLBaseURL != "" && env.SDXLKey != "" {
		sdxlGen = sdxl.New(env.SDXLBaseURL, env.SDXLKey, nil)
		a.sdxlLane = jobqueue.NewLane("sdxl")
	}

	categorizer := categorize.New(a.cl.API, nil)

	tgClient := &breakerClient{core: a.cl, breaker: a.tgBreaker}

	a.dispatcher = dispatcher.New(dispatcher.Config{
		Log:           a.activityLog,
		Telegram:      tgClient,
		GroupResolver: a.peers,
		Settings:      a.settings,
		Limits: command.Limits{
			PromptMax:    4000,
			TranslateMax: 4000,
			TellmeMax:    4000,
			ImageMax:     2000,
			AnalyzeMax:   env.MaxAnalyzeMessages,
		},
		RateLimit:     a.rateLimit,
		AnalyzeQ:      a.analyzeQ,
		AIBreaker:     a.aiBreaker,
		Metrics:       a.metrics,
		LLMKeys:       a.llmKeys,
		LLMProvider:   llmProvider,
		LLMModel:      env.LLMModel,
		STT:           sttStack,
		TTSKeys:       a.ttsKeys,
		TTSProvider:   ttsProvider,
		TTSLane:       a.ttsLane,
		FluxGen:       fluxGen,
		FluxLane:      a.fluxLane,
		SDXLGen:       sdxlGen,
		SDXLLane:      a.sdxlLane,
		Categorizer:   categorizer,
		PeerCache:     a.peerCache,
		TempDir:       env.TempDir,
		Transcoder:    env.Transcoder,
	})

	a.router = eventrouter.New(
		logger.Logger(),
		eventPoolSize,
		0, // selfID is filled in once Run() completes login
		a.authorizedPeers,
		a.resolveReplied,
		a.dispatcher.Handle,
	)
	a.router.Register(a.dispatch)

	a.healthMon = health.New(health.DefaultConfig(), health.NewProber(a.cl.Client), logger.Logger(), a.onRecover)

	a.runner = NewRunner(a)
	return nil
}

// Run delegates to Runner, which owns the Telegram client's run/shutdown
// cycle.
func (a *App) Run() error {
	return a.runner.Run()
}

func (a *App) buildLLMProvider(env config.EnvConfig) llm.Provider {
	switch env.LLMProvider {
	case "openrouter":
		return openrouter.New(&http.Client{Timeout: 60 * time.Second})
	default:
		return gemini.New(&http.Client{Timeout: 60 * time.Second})
	}
}

// authorizedPeers exposes the directly-authorized private-chat set from the
// live settings document, re-read on every call so EventRouter always
// classifies against current state.
func (a *App) authorizedPeers() map[int64]struct{} {
	doc := a.settings.Load()
	out := make(map[int64]struct{}, len(doc.DirectlyAuthorizedPVs))
	for _, id := range doc.DirectlyAuthorizedPVs {
		out[id] = struct{}{}
	}
	return out
}

// resolveReplied fetches the text of a replied-to message, needed only for
// the confirm-flow classification path.
func (a *App) resolveReplied(ctx context.Context, msg *tg.Message, replyMsgID int) (string, bool) {
	peer, err := a.peers.InputPeerFromMessage(ctx, msg)
	if err != nil {
		return "", false
	}
	msgs, err := a.cl.GetMessages(ctx, peer, []int{replyMsgID})
	if err != nil || len(msgs) == 0 {
		return "", false
	}
	replied, ok := msgs[0].(*tg.Message)
	if !ok {
		return "", false
	}
	return replied.Message, true
}

// onRecover is invoked by the health monitor once the connection is
// confirmed healthy again after a disconnect.
func (a *App) onRecover() {
	logger.Info("connection recovered")
}

func firstOrEmpty(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// peerCachePath keeps the display-metadata cache in a sibling file next to
// the gotd peer-resolution database, so both bbolt files live under the
// same directory without colliding.
func peerCachePath(peersDBPath string) string {
	return peersDBPath + ".meta"
}

// breakerClient wraps *core.ClientCore with the Telegram circuit breaker:
// every call is gated by Allow and reports its outcome back, so repeated
// MTProto failures trip the breaker independently of the AI-side one.
type breakerClient struct {
	core    *core.ClientCore
	breaker *circuitbreaker.Breaker
}

func (b *breakerClient) guard(err error) error {
	b.breaker.Report(err == nil)
	return err
}

func (b *breakerClient) SendMessage(ctx context.Context, peer tg.InputPeerClass, text string, replyToMsgID int) (int, error) {
	if !b.breaker.Allow() {
		return 0, fmt.Errorf("telegram circuit breaker open")
	}
	id, err := b.core.SendMessage(ctx, peer, text, replyToMsgID)
	return id, b.guard(err)
}

func (b *breakerClient) EditMessage(ctx context.Context, peer tg.InputPeerClass, msgID int, text string) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("telegram circuit breaker open")
	}
	return b.guard(b.core.EditMessage(ctx, peer, msgID, text))
}

func (b *breakerClient) DeleteMessage(ctx context.Context, msgID int) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("telegram circuit breaker open")
	}
	return b.guard(b.core.DeleteMessage(ctx, msgID))
}

func (b *breakerClient) SendFile(ctx context.Context, peer tg.InputPeerClass, localPath string, asVoiceNote bool, caption string, replyToMsgID int) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("telegram circuit breaker open")
	}
	return b.guard(b.core.SendFile(ctx, peer, localPath, asVoiceNote, caption, replyToMsgID))
}

func (b *breakerClient) DownloadMedia(ctx context.Context, loc tg.InputFileLocationClass, destPath string) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("telegram circuit breaker open")
	}
	return b.guard(b.core.DownloadMedia(ctx, loc, destPath))
}

func (b *breakerClient) ForwardMessages(ctx context.Context, fromPeer, toPeer tg.InputPeerClass, ids []int, topMsgID int) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("telegram circuit breaker open")
	}
	return b.guard(b.core.ForwardMessages(ctx, fromPeer, toPeer, ids, topMsgID))
}

func (b *breakerClient) GetMessages(ctx context.Context, peer tg.InputPeerClass, ids []int) ([]tg.MessageClass, error) {
	if !b.breaker.Allow() {
		return nil, fmt.Errorf("telegram circuit breaker open")
	}
	msgs, err := b.core.GetMessages(ctx, peer, ids)
	return msgs, b.guard(err)
}

func (b *breakerClient) GetHistory(ctx context.Context, peer tg.InputPeerClass, limit int) ([]tg.MessageClass, error) {
	if !b.breaker.Allow() {
		return nil, fmt.Errorf("telegram circuit breaker open")
	}
	msgs, err := b.core.GetHistory(ctx, peer, limit)
	return msgs, b.guard(err)
}
