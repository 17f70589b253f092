// Package command parses sanitized raw message text into a tagged command
// value. Parsing is a pure function: it performs no I/O and returns a
// validation error with a short usage string on malformed input.
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind tags which command a parsed value represents.
type Kind int

const (
	KindUnknown Kind = iota
	KindPrompt
	KindTranslate
	KindAnalyze
	KindTellme
	KindTTS
	KindSTT
	KindImage
	KindCategorize
	KindAuth
	KindStatus
	KindHelp
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindPrompt:     "prompt",
	KindTranslate:  "translate",
	KindAnalyze:    "analyze",
	KindTellme:     "tellme",
	KindTTS:        "tts",
	KindSTT:        "stt",
	KindImage:      "image",
	KindCategorize: "categorize",
	KindAuth:       "auth",
	KindStatus:     "status",
	KindHelp:       "help",
}

// String renders the command kind as a lowercase tag, used for metrics and
// logging rather than user-facing display.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// AnalyzeMode selects the tone /analyze renders with.
type AnalyzeMode string

const (
	AnalyzeGeneral AnalyzeMode = "general"
	AnalyzeFun     AnalyzeMode = "fun"
	AnalyzeRomance AnalyzeMode = "romance"
)

// Limits bounds the argument lengths accepted by the parser. Callers build
// one from configuration and pass it into Parse.
type Limits struct {
	PromptMax    int
	TranslateMax int
	TellmeMax    int
	ImageMax     int
	AnalyzeMax   int
}

// Command is the parsed, validated result.
type Command struct {
	Kind Kind

	Prompt string

	TargetLang string
	SourceLang string
	Text       string

	AnalyzeN    int
	AnalyzeMode AnalyzeMode

	TellmeN        int
	TellmeQuestion string

	TTSParams map[string]string
	TTSText   string

	ImageModel  string
	ImagePrompt string

	CategorizeName string
}

// ParseError is a validation failure with a short usage message safe to
// show the user.
type ParseError struct {
	Usage string
}

func (e *ParseError) Error() string { return e.Usage }

func usageErr(format string, args ...any) error {
	return &ParseError{Usage: fmt.Sprintf(format, args...)}
}

var isoLangs = map[string]struct{}{
	"en": {}, "fa": {}, "ar": {}, "fr": {}, "de": {}, "es": {}, "it": {},
	"tr": {}, "ru": {}, "zh": {}, "ja": {}, "ko": {}, "pt": {}, "nl": {},
}

var supportedImageModels = map[string]struct{}{
	"flux": {}, "sdxl": {},
}

var paramPattern = regexp.MustCompile(`^(\w+)=([^\s"']+|"[^"]*"|'[^']*')\s*`)

var rateVolumePattern = regexp.MustCompile(`^[+-]\d+%$`)

// sanitizationPatterns catches common injection attempts; matching text is
// rejected outright rather than repaired.
var sanitizationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile("`[^`]*`"),
	regexp.MustCompile(`\$\([^)]*\)`),
	regexp.MustCompile(`\$\{[^}]*\}`),
}

// Sanitize strips control characters and rejects text containing a known
// injection pattern. Applied to every user-supplied text segment before
// validation.
func Sanitize(text string, maxLength int) (string, error) {
	var b strings.Builder
	for _, r := range text {
		if r == '\n' || r == '\t' || r == ' ' || r >= 0x20 {
			if r == 0x7f || (r >= 0x80 && r <= 0x9f) {
				continue
			}
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())

	for _, pat := range sanitizationPatterns {
		if pat.MatchString(cleaned) {
			return "", usageErr("input rejected: contains disallowed content")
		}
	}

	if maxLength > 0 && len(cleaned) > maxLength {
		return "", usageErr("input too long (max %d characters)", maxLength)
	}
	return cleaned, nil
}

// parseParams extracts key=value parameters from rest (the text after the
// command name), mirroring the original tool's key=value scanning:
// parameters are consumed greedily from the front, leaving the remainder
// as free text.
func parseParams(rest string) (params map[string]string, remaining string) {
	params = make(map[string]string)
	for {
		loc := paramPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		name := strings.ToLower(rest[loc[2]:loc[3]])
		value := strings.Trim(rest[loc[4]:loc[5]], `"'`)
		params[name] = value
		rest = strings.TrimSpace(rest[loc[1]:])
	}
	return params, rest
}

// Parse parses a raw message text (including leading "/") into a Command,
// given the set of CommandMap keys recognized for categorization and
// applicable argument limits. ctx describes the message being replied to,
// if any, used by /translate, /tts and /stt's reply forms.
func Parse(raw string, categoryNames map[string]struct{}, limits Limits, ctx ReplyContext) (Command, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, usageErr("not a command")
	}
	body := trimmed[1:]

	name, rest := splitName(body)
	name = strings.ToLower(name)

	switch name {
	case "prompt":
		return parsePrompt(rest, limits)
	case "translate":
		return parseTranslate(rest, limits, ctx)
	case "analyze":
		return parseAnalyze(rest, limits)
	case "tellme":
		return parseTellme(rest, limits)
	case "tts":
		return parseTTS(rest, ctx)
	case "stt":
		return parseSTT(ctx)
	case "image":
		return parseImage(rest, limits)
	case "auth":
		return Command{Kind: KindAuth, Text: strings.TrimSpace(rest)}, nil
	case "status":
		return Command{Kind: KindStatus}, nil
	case "help":
		return Command{Kind: KindHelp}, nil
	default:
		if _, ok := categoryNames[name]; ok {
			return Command{Kind: KindCategorize, CategorizeName: name}, nil
		}
		return Command{}, usageErr("unknown command: /%s", name)
	}
}

func splitName(body string) (name, rest string) {
	body = strings.TrimPrefix(body, "=")
	idx := strings.IndexAny(body, "= ")
	if idx < 0 {
		return body, ""
	}
	return body[:idx], body[idx:]
}

func parsePrompt(rest string, limits Limits) (Command, error) {
	text := strings.TrimPrefix(strings.TrimSpace(rest), "=")
	clean, err := Sanitize(text, limits.PromptMax)
	if err != nil {
		return Command{}, err
	}
	if clean == "" {
		return Command{}, usageErr("usage: /prompt=<text>")
	}
	return Command{Kind: KindPrompt, Prompt: clean}, nil
}

// ReplyContext carries the details of a replied-to message, when the
// inbound command is itself a reply.
type ReplyContext struct {
	HasReply       bool
	Text           string
	IsSTTFormatted bool // replied message is a prior /stt transcript+summary
	TranscriptOnly string
	IsVoice        bool
}

func parseTranslate(rest string, limits Limits, ctx ReplyContext) (Command, error) {
	rest = strings.TrimPrefix(strings.TrimSpace(rest), "=")
	parts := strings.SplitN(rest, "=", 2)
	if len(parts) == 0 || parts[0] == "" {
		return Command{}, usageErr("usage: /translate=<lang>[,<source>]=<text>")
	}

	langSpec := strings.Split(parts[0], ",")
	target := strings.ToLower(strings.TrimSpace(langSpec[0]))
	if _, ok := isoLangs[target]; !ok {
		return Command{}, usageErr("unsupported target language: %s", target)
	}
	source := ""
	if len(langSpec) > 1 {
		source = strings.ToLower(strings.TrimSpace(langSpec[1]))
		if _, ok := isoLangs[source]; !ok {
			return Command{}, usageErr("unsupported source language: %s", source)
		}
	}

	var text string
	if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
		text = parts[1]
	} else if ctx.HasReply {
		if ctx.IsSTTFormatted && ctx.TranscriptOnly != "" {
			text = ctx.TranscriptOnly
		} else {
			text = ctx.Text
		}
	}

	clean, err := Sanitize(text, limits.TranslateMax)
	if err != nil {
		return Command{}, err
	}
	if clean == "" {
		return Command{}, usageErr("usage: /translate=<lang>[,<source>]=<text> or reply to a message")
	}

	return Command{Kind: KindTranslate, TargetLang: target, SourceLang: source, Text: clean}, nil
}

func parseAnalyze(rest string, limits Limits) (Command, error) {
	rest = strings.TrimPrefix(strings.TrimSpace(rest), "=")
	parts := strings.Split(rest, "=")

	mode := AnalyzeGeneral
	var nStr string
	switch len(parts) {
	case 1:
		nStr = parts[0]
	case 2:
		mode = AnalyzeMode(strings.ToLower(strings.TrimSpace(parts[0])))
		nStr = parts[1]
	default:
		return Command{}, usageErr("usage: /analyze=<N> or /analyze=<mode>=<N>")
	}

	if mode != AnalyzeGeneral && mode != AnalyzeFun && mode != AnalyzeRomance {
		return Command{}, usageErr("unknown analyze mode: %s", mode)
	}

	n, err := strconv.Atoi(strings.TrimSpace(nStr))
	if err != nil || n < 1 || (limits.AnalyzeMax > 0 && n > limits.AnalyzeMax) {
		return Command{}, usageErr("N must be between 1 and %d", limits.AnalyzeMax)
	}

	return Command{Kind: KindAnalyze, AnalyzeN: n, AnalyzeMode: mode}, nil
}

func parseTellme(rest string, limits Limits) (Command, error) {
	rest = strings.TrimPrefix(strings.TrimSpace(rest), "=")
	parts := strings.SplitN(rest, "=", 2)
	if len(parts) != 2 {
		return Command{}, usageErr("usage: /tellme=<N>=<question>")
	}

	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n < 1 {
		return Command{}, usageErr("N must be a positive integer")
	}

	question, err := Sanitize(parts[1], limits.TellmeMax)
	if err != nil {
		return Command{}, err
	}
	if question == "" {
		return Command{}, usageErr("usage: /tellme=<N>=<question>")
	}

	return Command{Kind: KindTellme, TellmeN: n, TellmeQuestion: question}, nil
}

func parseTTS(rest string, ctx ReplyContext) (Command, error) {
	rest = strings.TrimSpace(rest)
	params, remaining := parseParams(rest)

	for key, value := range params {
		switch key {
		case "voice":
			// any non-empty voice label accepted; backend validates further.
			if value == "" {
				return Command{}, usageErr("voice parameter must not be empty")
			}
		case "rate", "volume":
			if !rateVolumePattern.MatchString(value) {
				return Command{}, usageErr("%s must look like +10%% or -20%%", key)
			}
			n, _ := strconv.Atoi(strings.TrimSuffix(value, "%"))
			if n < -50 || n > 100 {
				return Command{}, usageErr("%s must be between -50%% and +100%%", key)
			}
		default:
			return Command{}, usageErr("unknown /tts parameter: %s", key)
		}
	}

	text := remaining
	if text == "" && ctx.HasReply {
		text = ctx.Text
	}
	clean, err := Sanitize(text, 0)
	if err != nil {
		return Command{}, err
	}
	if clean == "" {
		return Command{}, usageErr("usage: /tts [k=v ...] <text> or reply to a message")
	}

	return Command{Kind: KindTTS, TTSParams: params, TTSText: clean}, nil
}

func parseSTT(ctx ReplyContext) (Command, error) {
	if !ctx.HasReply || !ctx.IsVoice {
		return Command{}, usageErr("/stt must be used as a reply to a voice message")
	}
	return Command{Kind: KindSTT}, nil
}

func parseImage(rest string, limits Limits) (Command, error) {
	rest = strings.TrimPrefix(strings.TrimSpace(rest), "=")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return Command{}, usageErr("usage: /image=<model>/<prompt>")
	}

	model := strings.ToLower(strings.TrimSpace(parts[0]))
	if _, ok := supportedImageModels[model]; !ok {
		return Command{}, usageErr("unsupported image model: %s", model)
	}

	prompt, err := Sanitize(parts[1], limits.ImageMax)
	if err != nil {
		return Command{}, err
	}
	if prompt == "" {
		return Command{}, usageErr("usage: /image=<model>/<prompt>")
	}

	return Command{Kind: KindImage, ImageModel: model, ImagePrompt: prompt}, nil
}
