package logger

import (
	"regexp"

	"go.uber.org/zap/zapcore"
)

// secretPatterns matches substrings that must never reach a log sink:
// Bearer tokens, and the long alphanumeric key strings used by the
// LLM/image/TTS provider credentials this bot rotates through.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{10,}`),
	regexp.MustCompile(`[a-zA-Z0-9_-]{24,}`),
}

const redactedPlaceholder = "[REDACTED]"

func redactString(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// redactingCore wraps a zapcore.Core, scrubbing the message and every
// string-valued field before delegating to the wrapped core. API keys
// accidentally interpolated into an error message or a raw field are the
// most common leak path, so redaction happens here rather than relying on
// every call site to sanitize its own arguments.
type redactingCore struct {
	zapcore.Core
}

func newRedactingCore(next zapcore.Core) zapcore.Core {
	return &redactingCore{Core: next}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Core.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = redactString(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			f.String = redactString(f.String)
		}
		out[i] = f
	}
	return out
}
