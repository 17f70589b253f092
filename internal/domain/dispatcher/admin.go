package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sakaibot/internal/domain/authgate"
	"sakaibot/internal/domain/circuitbreaker"
	"sakaibot/internal/domain/command"
	"sakaibot/internal/domain/settings"
)

// isOwner reports whether class carries owner authority: /auth, /status
// and /help are owner-only, since they touch authorization state or
// expose internal diagnostics.
func isOwner(class authgate.Classification) bool {
	return class == authgate.OwnerDirect || class == authgate.ConfirmFlow
}

func (d *Dispatcher) handleAuth(ctx context.Context, cl ctxLog, ev authgate.Event, class authgate.Classification, cmd command.Command, doc settings.Document) {
	if !isOwner(class) {
		return
	}

	fields := strings.Fields(cmd.Text)
	if len(fields) == 0 {
		d.replyError(ctx, ev, "usage: /auth list|add <id>|remove <id>")
		return
	}

	switch strings.ToLower(fields[0]) {
	case "list":
		if len(doc.DirectlyAuthorizedPVs) == 0 {
			d.replyError(ctx, ev, "no authorized peers")
			return
		}
		lines := make([]string, len(doc.DirectlyAuthorizedPVs))
		for i, id := range doc.DirectlyAuthorizedPVs {
			lines[i] = strconv.FormatInt(id, 10)
		}
		d.replyError(ctx, ev, "authorized peers:\n"+strings.Join(lines, "\n"))

	case "add":
		if len(fields) < 2 {
			d.replyError(ctx, ev, "usage: /auth add <id>")
			return
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			d.replyError(ctx, ev, "invalid peer id")
			return
		}
		if !containsID(doc.DirectlyAuthorizedPVs, id) {
			doc.DirectlyAuthorizedPVs = append(doc.DirectlyAuthorizedPVs, id)
			if err := d.cfg.Settings.Save(doc); err != nil {
				d.log.Warn("save settings failed", append(d.logFields(cl), zap.Error(err))...)
				d.replyError(ctx, ev, "⚠️ could not save settings")
				return
			}
		}
		d.replyError(ctx, ev, fmt.Sprintf("authorized %d", id))

	case "remove":
		if len(fields) < 2 {
			d.replyError(ctx, ev, "usage: /auth remove <id>")
			return
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			d.replyError(ctx, ev, "invalid peer id")
			return
		}
		doc.DirectlyAuthorizedPVs = removeID(doc.DirectlyAuthorizedPVs, id)
		if err := d.cfg.Settings.Save(doc); err != nil {
			d.log.Warn("save settings failed", append(d.logFields(cl), zap.Error(err))...)
			d.replyError(ctx, ev, "⚠️ could not save settings")
			return
		}
		d.replyError(ctx, ev, fmt.Sprintf("removed %d", id))

	default:
		d.replyError(ctx, ev, "usage: /auth list|add <id>|remove <id>")
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// handleStatus reports KeyRotator, JobQueue lane depth and CircuitBreaker
// snapshots, mirroring the diagnostics the original CLI status command
// exposed.
func (d *Dispatcher) handleStatus(ctx context.Context, ev authgate.Event, class authgate.Classification) {
	if !isOwner(class) {
		return
	}

	var b strings.Builder
	b.WriteString("status:\n")

	b.WriteString(fmt.Sprintf("AI circuit: %s\n", breakerLabel(d.cfg.AIBreaker)))

	if d.cfg.LLMKeys != nil {
		b.WriteString(fmt.Sprintf("LLM keys (%s):\n", d.cfg.LLMModel))
		for _, k := range d.cfg.LLMKeys.Snapshot() {
			marker := " "
			if k.IsCurrent {
				marker = "*"
			}
			b.WriteString(fmt.Sprintf("  %s[%d] %s %s (errors=%d)\n", marker, k.Index, k.Masked, k.Status, k.ErrorCount))
		}
	}

	if d.cfg.FluxLane != nil {
		b.WriteString(fmt.Sprintf("flux queue: %d\n", d.cfg.FluxLane.Len()))
	}
	if d.cfg.SDXLLane != nil {
		b.WriteString(fmt.Sprintf("sdxl queue: %d\n", d.cfg.SDXLLane.Len()))
	}
	if d.cfg.TTSLane != nil {
		b.WriteString(fmt.Sprintf("tts queue: %d\n", d.cfg.TTSLane.Len()))
	}

	d.replyError(ctx, ev, b.String())
}

func breakerLabel(b *circuitbreaker.Breaker) string {
	if b == nil {
		return "unconfigured"
	}
	return b.State().String()
}

const helpText = `available commands:
/prompt=<text> — ask the model directly
/translate=<lang>[,<source>]=<text> or reply — translate text
/analyze=<N> or /analyze=<mode>=<N> — summarize the last N messages
/tellme=<N>=<question> — answer a question about the last N messages
/tts [voice=…] [rate=…] [volume=…] <text> or reply — render a voice note
/stt (reply to a voice message) — transcribe and summarize
/image=flux/<prompt> or /image=sdxl/<prompt> — generate an image
/<mapped name> (reply) — forward to the configured group/topic
/auth list|add <id>|remove <id> — manage authorized peers
/status — diagnostics
/help — this message`

func (d *Dispatcher) handleHelp(ctx context.Context, ev authgate.Event, class authgate.Classification) {
	if !isOwner(class) {
		return
	}
	d.replyError(ctx, ev, helpText)
}
