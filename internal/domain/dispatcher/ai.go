package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"sakaibot/internal/backends/llm"
	"sakaibot/internal/domain/authgate"
	"sakaibot/internal/domain/command"
	"sakaibot/internal/domain/errs"
	"sakaibot/internal/domain/prompts"
	"sakaibot/internal/domain/settings"
)

// handleAI drives every text-generation command (/prompt, /translate,
// /analyze, /tellme) through rate limiting, the per-chat analysis mutex
// where applicable, and the KeyRotator/CircuitBreaker-guarded backend
// call, finishing with the shared response-delivery protocol and
// completion acknowledgement.
func (d *Dispatcher) handleAI(ctx context.Context, cl ctxLog, ev authgate.Event, cmd command.Command, doc settings.Document) {
	principal := rateLimitPrincipal(ev)
	if d.cfg.RateLimit != nil && !d.cfg.RateLimit.Allow(principal) {
		wait := d.cfg.RateLimit.ResetAt(principal)
		msg := "⏳ rate limit reached, please slow down"
		if !wait.IsZero() {
			msg = fmt.Sprintf("⏳ rate limit reached, try again after %s", wait.Format("15:04:05"))
		}
		d.replyError(ctx, ev, msg)
		return
	}

	needsMutex := cmd.Kind == command.KindAnalyze || cmd.Kind == command.KindTellme
	if needsMutex {
		analysisType := "analyze"
		if cmd.Kind == command.KindTellme {
			analysisType = "tellme"
		}
		_, ok := d.cfg.AnalyzeQ.TryStart(ev.ChatID, ev.SenderID, analysisType)
		if !ok {
			d.replyError(ctx, ev, "⏳ an analysis is already in progress for this chat")
			return
		}
	}

	systemMessage, userPrompt, err := d.buildAIRequest(ctx, ev, cmd)
	if err != nil {
		if needsMutex {
			d.cfg.AnalyzeQ.Fail(ev.ChatID)
		}
		if msg, show := userFacing(err); show {
			d.replyError(ctx, ev, msg)
		}
		return
	}

	thinkingID, err := d.startThinking(ctx, ev, "🤔 thinking…")
	if err != nil {
		if needsMutex {
			d.cfg.AnalyzeQ.Fail(ev.ChatID)
		}
		d.log.Warn("send thinking message failed", append(d.logFields(cl), zap.Error(err))...)
		return
	}

	result, callErr := d.callLLM(ctx, cl, llm.Request{
		Model:         d.cfg.LLMModel,
		SystemMessage: systemMessage,
		UserPrompt:    userPrompt,
		MaxTokens:     2048,
		Temperature:   0.7,
	})

	if needsMutex {
		if callErr != nil {
			d.cfg.AnalyzeQ.Fail(ev.ChatID)
		} else {
			d.cfg.AnalyzeQ.Complete(ev.ChatID)
		}
	}

	if callErr != nil {
		if msg, show := userFacing(callErr); show {
			_ = d.editOrFallback(ctx, ev, thinkingID, msg)
		}
		return
	}

	if err := d.deliver(ctx, ev, thinkingID, result.Text); err != nil {
		d.log.Warn("deliver AI response failed", append(d.logFields(cl), zap.Error(err))...)
		return
	}
	d.acknowledgeDone(ctx, ev)
}

// buildAIRequest maps a parsed command to the (system message, user
// prompt) pair the backend receives, fetching chat history for /analyze
// and /tellme.
func (d *Dispatcher) buildAIRequest(ctx context.Context, ev authgate.Event, cmd command.Command) (systemMessage, userPrompt string, err error) {
	switch cmd.Kind {
	case command.KindPrompt:
		return prompts.Prompt, cmd.Prompt, nil
	case command.KindTranslate:
		return prompts.Translate(cmd.TargetLang, cmd.SourceLang), cmd.Text, nil
	case command.KindAnalyze:
		transcript, err := d.fetchTranscript(ctx, ev, cmd.AnalyzeN)
		if err != nil {
			return "", "", errs.Wrap(errs.KindTelegram, "fetch chat history", err)
		}
		return prompts.Analyze(string(cmd.AnalyzeMode)), transcript, nil
	case command.KindTellme:
		transcript, err := d.fetchTranscript(ctx, ev, cmd.TellmeN)
		if err != nil {
			return "", "", errs.Wrap(errs.KindTelegram, "fetch chat history", err)
		}
		return prompts.Tellme(cmd.TellmeQuestion), transcript, nil
	default:
		return "", "", errs.New(errs.KindValidation, "not an AI command")
	}
}

// fetchTranscript fetches the last n messages of ev's chat and renders
// them oldest-first as "sender: text" lines, skipping media-only entries
// with no text body.
func (d *Dispatcher) fetchTranscript(ctx context.Context, ev authgate.Event, n int) (string, error) {
	msgs, err := d.cfg.Telegram.GetHistory(ctx, ev.Peer, n)
	if err != nil {
		return "", err
	}

	var lines []string
	for i := len(msgs) - 1; i >= 0; i-- {
		full, ok := msgs[i].(*tg.Message)
		if !ok || strings.TrimSpace(full.Message) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d: %s", senderIDOf(full), full.Message))
	}
	if len(lines) == 0 {
		return "", errs.New(errs.KindValidation, "no text messages found in the requested range")
	}
	return strings.Join(lines, "\n"), nil
}

func senderIDOf(msg *tg.Message) int64 {
	if peer, ok := msg.FromID.(*tg.PeerUser); ok {
		return peer.UserID
	}
	return 0
}

// callLLM invokes the configured LLM provider through the AI
// CircuitBreaker, rotating credentials from KeyRotator on retriable
// failures up to MaxRetries attempts total.
func (d *Dispatcher) callLLM(ctx context.Context, cl ctxLog, req llm.Request) (llm.Response, error) {
	if !d.cfg.AIBreaker.Allow() {
		return llm.Response{}, errs.New(errs.KindCircuitOpen, "AI backend circuit open")
	}

	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		cred, ok := d.cfg.LLMKeys.Current()
		if !ok {
			d.cfg.AIBreaker.Report(false)
			return llm.Response{}, errs.New(errs.KindConfiguration, "no usable API key configured")
		}
		req.APIKey = cred.Secret

		resp, err := d.cfg.LLMProvider.Generate(ctx, req)
		if err == nil {
			d.cfg.LLMKeys.MarkSuccess()
			d.cfg.AIBreaker.Report(true)
			return resp, nil
		}

		lastErr = err
		classified := llm.Classify(err)
		switch {
		case errors.Is(classified, llm.ErrRateLimited):
			d.log.Warn("llm provider rate limited, rotating key", append(d.logFields(cl), zap.String("masked_key", cred.Masked))...)
			if other := d.cfg.LLMKeys.MarkTransientFailure(true); !other {
				d.cfg.AIBreaker.Report(false)
				return llm.Response{}, errs.Wrap(errs.KindProviderRateLimit, "all credentials rate limited", err)
			}
			continue
		case errors.Is(classified, llm.ErrQuotaExhausted):
			d.log.Warn("llm provider quota exhausted, rotating key", append(d.logFields(cl), zap.String("masked_key", cred.Masked))...)
			if other := d.cfg.LLMKeys.MarkDayExhausted(); !other {
				d.cfg.AIBreaker.Report(false)
				return llm.Response{}, errs.Wrap(errs.KindProviderQuotaExhausted, "all credentials quota exhausted", err)
			}
			continue
		case errors.Is(classified, llm.ErrPermanent):
			d.cfg.LLMKeys.MarkTransientFailure(false)
			d.cfg.AIBreaker.Report(false)
			return llm.Response{}, errs.Wrap(errs.KindProviderPermanent, "backend rejected request", err)
		default:
			if other := d.cfg.LLMKeys.MarkTransientFailure(false); !other {
				d.cfg.AIBreaker.Report(false)
				return llm.Response{}, errs.Wrap(errs.KindProviderTransient, "backend call failed", err)
			}
			continue
		}
	}

	d.cfg.AIBreaker.Report(false)
	return llm.Response{}, errs.Wrap(errs.KindProviderTransient, "exhausted retries", lastErr)
}
