package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"sakaibot/internal/backends/image"
	"sakaibot/internal/backends/llm"
	"sakaibot/internal/backends/tts"
	"sakaibot/internal/domain/authgate"
	"sakaibot/internal/domain/command"
	"sakaibot/internal/domain/errs"
	"sakaibot/internal/domain/jobqueue"
	"sakaibot/internal/domain/prompts"
)

// handleImage enqueues a /image request onto the model's lane, editing the
// thinking message to reflect queue position, then delivers the rendered
// image as a reply and drops the thinking message once sent.
func (d *Dispatcher) handleImage(ctx context.Context, cl ctxLog, ev authgate.Event, cmd command.Command) {
	lane, gen := d.imageBackend(cmd.ImageModel)
	if lane == nil || gen == nil {
		d.replyError(ctx, ev, "⚠️ this image model is not configured")
		return
	}

	thinkingID, err := d.startThinking(ctx, ev, fmt.Sprintf("🎨 queued on %s…", cmd.ImageModel))
	if err != nil {
		d.log.Warn("send thinking message failed", append(d.logFields(cl), zap.Error(err))...)
		return
	}

	jobID := lane.Submit(ev.SenderID, cmd.ImagePrompt)

	job, err := awaitJob(ctx, lane, jobID, func(pos int) {
		_ = d.editOrFallback(ctx, ev, thinkingID, fmt.Sprintf("🎨 queued on %s (position %d)…", cmd.ImageModel, pos))
	})
	if err != nil {
		logWaitFailure(d.log, err)
		return
	}
	if job.Status == jobqueue.StatusFailed {
		_ = d.editOrFallback(ctx, ev, thinkingID, classifyImageError(job.Err))
		return
	}

	res, _ := job.Result.(imageResult)
	path, err := d.writeTempFile(res.Data, extensionForContentType(res.ContentType))
	if err != nil {
		d.log.Error("write image temp file failed", append(d.logFields(cl), zap.Error(err))...)
		_ = d.editOrFallback(ctx, ev, thinkingID, "❌ internal error rendering the image")
		return
	}
	defer os.Remove(path)

	if err := d.cfg.Telegram.SendFile(ctx, ev.Peer, path, false, "", ev.MsgID); err != nil {
		d.log.Warn("send image failed", append(d.logFields(cl), zap.Error(err))...)
		_ = d.editOrFallback(ctx, ev, thinkingID, "⚠️ Telegram delivery failed.")
		return
	}
	if err := d.cfg.Telegram.DeleteMessage(ctx, thinkingID); err != nil {
		d.log.Warn("delete thinking message failed", append(d.logFields(cl), zap.Error(err))...)
	}
}

func (d *Dispatcher) imageBackend(model string) (*jobqueue.Lane, image.Generator) {
	switch model {
	case "flux":
		return d.cfg.FluxLane, d.cfg.FluxGen
	case "sdxl":
		return d.cfg.SDXLLane, d.cfg.SDXLGen
	default:
		return nil, nil
	}
}

func classifyImageError(err error) string {
	switch {
	case errors.Is(err, image.ErrInvalid):
		return "⚠️ the prompt was rejected by the image backend"
	case errors.Is(err, image.ErrRateLimited):
		return "⏳ image backend is rate-limited, try again shortly"
	case errors.Is(err, image.ErrUnauthorized):
		return "⚠️ image backend credential is invalid"
	default:
		return "❌ image generation failed"
	}
}

func extensionForContentType(ct string) string {
	switch {
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return ".jpg"
	case strings.Contains(ct, "webp"):
		return ".webp"
	default:
		return ".png"
	}
}

// handleTTS enqueues a /tts request onto the TTS lane and delivers the
// rendered audio as a voice-note reply.
func (d *Dispatcher) handleTTS(ctx context.Context, cl ctxLog, ev authgate.Event, cmd command.Command) {
	if d.cfg.TTSProvider == nil || d.cfg.TTSLane == nil {
		d.replyError(ctx, ev, "⚠️ text-to-speech is not configured")
		return
	}

	thinkingID, err := d.startThinking(ctx, ev, "🔊 queued for speech synthesis…")
	if err != nil {
		d.log.Warn("send thinking message failed", append(d.logFields(cl), zap.Error(err))...)
		return
	}

	params := tts.Params{
		Text:   cmd.TTSText,
		Voice:  cmd.TTSParams["voice"],
		Rate:   cmd.TTSParams["rate"],
		Volume: cmd.TTSParams["volume"],
	}
	jobID := d.cfg.TTSLane.Submit(ev.SenderID, params)

	job, err := awaitJob(ctx, d.cfg.TTSLane, jobID, func(pos int) {
		_ = d.editOrFallback(ctx, ev, thinkingID, fmt.Sprintf("🔊 queued (position %d)…", pos))
	})
	if err != nil {
		logWaitFailure(d.log, err)
		return
	}
	if job.Status == jobqueue.StatusFailed {
		_ = d.editOrFallback(ctx, ev, thinkingID, classifyTTSError(job.Err))
		return
	}

	path, _ := job.Result.(string)
	defer os.Remove(path)

	if err := d.cfg.Telegram.SendFile(ctx, ev.Peer, path, true, "", ev.MsgID); err != nil {
		d.log.Warn("send voice note failed", append(d.logFields(cl), zap.Error(err))...)
		_ = d.editOrFallback(ctx, ev, thinkingID, "⚠️ Telegram delivery failed.")
		return
	}
	if err := d.cfg.Telegram.DeleteMessage(ctx, thinkingID); err != nil {
		d.log.Warn("delete thinking message failed", append(d.logFields(cl), zap.Error(err))...)
	}
}

func classifyTTSError(err error) string {
	switch {
	case errors.Is(err, tts.ErrPermanent):
		return "⚠️ the text-to-speech request was rejected"
	default:
		return "❌ speech synthesis failed"
	}
}

// handleSTT transcribes the voice message repliedMsg replies from, edits
// the transcript in place, then appends a short summary. Falls through to
// a "no summary available" note if summarization fails, while still
// delivering the transcript.
func (d *Dispatcher) handleSTT(ctx context.Context, cl ctxLog, ev authgate.Event, repliedMsg *tg.Message) {
	if repliedMsg == nil || !isVoiceMessage(repliedMsg) {
		d.replyError(ctx, ev, "⚠️ /stt must reply to a voice message")
		return
	}

	thinkingID, err := d.startThinking(ctx, ev, "🎙 transcribing…")
	if err != nil {
		d.log.Warn("send thinking message failed", append(d.logFields(cl), zap.Error(err))...)
		return
	}

	loc, err := voiceFileLocation(repliedMsg)
	if err != nil {
		_ = d.editOrFallback(ctx, ev, thinkingID, "❌ could not read the voice message")
		return
	}

	rawPath := filepath.Join(d.cfg.TempDir, fmt.Sprintf("stt_%d_raw.oga", ev.MsgID))
	if err := d.cfg.Telegram.DownloadMedia(ctx, loc, rawPath); err != nil {
		d.log.Warn("download voice media failed", append(d.logFields(cl), zap.Error(err))...)
		_ = d.editOrFallback(ctx, ev, thinkingID, "⚠️ could not download the voice message")
		return
	}
	defer os.Remove(rawPath)

	transcodedPath, cleanup, err := d.transcode(ctx, rawPath)
	if err != nil {
		d.log.Warn("transcode voice media failed", append(d.logFields(cl), zap.Error(err))...)
		_ = d.editOrFallback(ctx, ev, thinkingID, "⚠️ could not prepare the audio for transcription")
		return
	}
	defer cleanup()

	transcript, _, err := d.cfg.STT.Transcribe(ctx, transcodedPath)
	if err != nil {
		_ = d.editOrFallback(ctx, ev, thinkingID, "⚠️ transcription failed")
		return
	}

	_ = d.editOrFallback(ctx, ev, thinkingID, fmt.Sprintf("%s\n%s", sttTranscriptHeader, transcript))

	summary, sumErr := d.callLLM(ctx, cl, llm.Request{
		Model:         d.cfg.LLMModel,
		SystemMessage: prompts.STTSummary,
		UserPrompt:    transcript,
		MaxTokens:     512,
		Temperature:   0.5,
	})

	summaryText := "no summary available"
	if sumErr == nil {
		summaryText = summary.Text
	} else {
		d.log.Warn("stt summary generation failed", append(d.logFields(cl), zap.Error(sumErr))...)
	}

	final := fmt.Sprintf("%s\n%s\n\n%s\n%s", sttTranscriptHeader, transcript, sttSummaryHeader, summaryText)
	if err := d.deliver(ctx, ev, thinkingID, final); err != nil {
		d.log.Warn("deliver stt result failed", append(d.logFields(cl), zap.Error(err))...)
		return
	}
	d.acknowledgeDone(ctx, ev)
}

func voiceFileLocation(msg *tg.Message) (tg.InputFileLocationClass, error) {
	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return nil, errs.New(errs.KindValidation, "replied message has no document media")
	}
	doc, ok := media.Document.(*tg.Document)
	if !ok {
		return nil, errs.New(errs.KindValidation, "replied document is unavailable")
	}
	return &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}, nil
}

// transcode converts rawPath into the STT backend's canonical input format
// using the configured external tool. With no transcoder configured, the
// raw download is passed through unchanged and cleanup is a no-op.
func (d *Dispatcher) transcode(ctx context.Context, rawPath string) (outPath string, cleanup func(), err error) {
	if d.cfg.Transcoder == "" {
		return rawPath, func() {}, nil
	}

	outPath = strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + ".wav"
	tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(tctx, d.cfg.Transcoder, "-y", "-i", rawPath, outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", func() {}, fmt.Errorf("transcode: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return outPath, func() { os.Remove(outPath) }, nil
}

// writeTempFile writes data to a fresh file under TempDir with ext,
// returning its path for SendFile to upload from.
func (d *Dispatcher) writeTempFile(data []byte, ext string) (string, error) {
	f, err := os.CreateTemp(d.cfg.TempDir, "image_*"+ext)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
