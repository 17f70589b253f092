package command

import "testing"

func defaultLimits() Limits {
	return Limits{PromptMax: 1000, TranslateMax: 1000, TellmeMax: 1000, ImageMax: 1000, AnalyzeMax: 500}
}

func TestParseRejectsNonCommand(t *testing.T) {
	if _, err := Parse("hello", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected an error for text without a leading /")
	}
}

func TestParsePrompt(t *testing.T) {
	cmd, err := Parse("/prompt=tell me a joke", nil, defaultLimits(), ReplyContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != KindPrompt || cmd.Prompt != "tell me a joke" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParsePromptEmptyRejected(t *testing.T) {
	if _, err := Parse("/prompt=", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestParseTranslateWithInlineText(t *testing.T) {
	cmd, err := Parse("/translate=en=salut", nil, defaultLimits(), ReplyContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != KindTranslate || cmd.TargetLang != "en" || cmd.Text != "salut" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseTranslateWithSourceLang(t *testing.T) {
	cmd, err := Parse("/translate=en,fr=salut", nil, defaultLimits(), ReplyContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.SourceLang != "fr" {
		t.Fatalf("SourceLang = %q, want fr", cmd.SourceLang)
	}
}

func TestParseTranslateUnsupportedLang(t *testing.T) {
	if _, err := Parse("/translate=xx=hi", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for unsupported target language")
	}
}

func TestParseTranslateFallsBackToReply(t *testing.T) {
	ctx := ReplyContext{HasReply: true, Text: "bonjour"}
	cmd, err := Parse("/translate=en", nil, defaultLimits(), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Text != "bonjour" {
		t.Fatalf("Text = %q, want bonjour", cmd.Text)
	}
}

func TestParseTranslatePrefersSTTTranscript(t *testing.T) {
	ctx := ReplyContext{HasReply: true, Text: "transcript + summary", IsSTTFormatted: true, TranscriptOnly: "transcript only"}
	cmd, err := Parse("/translate=en", nil, defaultLimits(), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Text != "transcript only" {
		t.Fatalf("Text = %q, want transcript only", cmd.Text)
	}
}

func TestParseAnalyzeSimple(t *testing.T) {
	cmd, err := Parse("/analyze=50", nil, defaultLimits(), ReplyContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != KindAnalyze || cmd.AnalyzeN != 50 || cmd.AnalyzeMode != AnalyzeGeneral {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseAnalyzeWithMode(t *testing.T) {
	cmd, err := Parse("/analyze=fun=20", nil, defaultLimits(), ReplyContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.AnalyzeMode != AnalyzeFun || cmd.AnalyzeN != 20 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseAnalyzeRejectsOutOfRange(t *testing.T) {
	if _, err := Parse("/analyze=0", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for N < 1")
	}
	if _, err := Parse("/analyze=99999", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for N over AnalyzeMax")
	}
}

func TestParseAnalyzeRejectsUnknownMode(t *testing.T) {
	if _, err := Parse("/analyze=bogus=10", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for unknown analyze mode")
	}
}

func TestParseTellme(t *testing.T) {
	cmd, err := Parse("/tellme=30=what happened?", nil, defaultLimits(), ReplyContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != KindTellme || cmd.TellmeN != 30 || cmd.TellmeQuestion != "what happened?" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseTellmeRequiresQuestion(t *testing.T) {
	if _, err := Parse("/tellme=30", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for missing question")
	}
}

func TestParseTTSWithParams(t *testing.T) {
	cmd, err := Parse(`/tts voice=en-US-GuyNeural rate=+10% hello there`, nil, defaultLimits(), ReplyContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != KindTTS || cmd.TTSText != "hello there" || cmd.TTSParams["voice"] != "en-US-GuyNeural" || cmd.TTSParams["rate"] != "+10%" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseTTSRejectsBadRate(t *testing.T) {
	if _, err := Parse("/tts rate=fast hello", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for malformed rate")
	}
}

func TestParseTTSRejectsUnknownParam(t *testing.T) {
	if _, err := Parse("/tts pitch=high hello", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for unknown parameter")
	}
}

func TestParseTTSFallsBackToReply(t *testing.T) {
	ctx := ReplyContext{HasReply: true, Text: "read this aloud"}
	cmd, err := Parse("/tts", nil, defaultLimits(), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.TTSText != "read this aloud" {
		t.Fatalf("TTSText = %q, want %q", cmd.TTSText, "read this aloud")
	}
}

func TestParseSTTRequiresVoiceReply(t *testing.T) {
	if _, err := Parse("/stt", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error without a reply")
	}
	if _, err := Parse("/stt", nil, defaultLimits(), ReplyContext{HasReply: true, IsVoice: false}); err == nil {
		t.Fatal("expected error when replied message is not voice")
	}
	cmd, err := Parse("/stt", nil, defaultLimits(), ReplyContext{HasReply: true, IsVoice: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != KindSTT {
		t.Fatalf("Kind = %v, want KindSTT", cmd.Kind)
	}
}

func TestParseImage(t *testing.T) {
	cmd, err := Parse("/image=flux/a red fox", nil, defaultLimits(), ReplyContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != KindImage || cmd.ImageModel != "flux" || cmd.ImagePrompt != "a red fox" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseImageRejectsUnknownModel(t *testing.T) {
	if _, err := Parse("/image=midjourney/a fox", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for unsupported model")
	}
}

func TestParseAuthAndStatusAndHelp(t *testing.T) {
	cmd, err := Parse("/auth add 123", nil, defaultLimits(), ReplyContext{})
	if err != nil || cmd.Kind != KindAuth || cmd.Text != "add 123" {
		t.Fatalf("unexpected /auth result: %+v, err=%v", cmd, err)
	}
	if cmd, err := Parse("/status", nil, defaultLimits(), ReplyContext{}); err != nil || cmd.Kind != KindStatus {
		t.Fatalf("unexpected /status result: %+v, err=%v", cmd, err)
	}
	if cmd, err := Parse("/help", nil, defaultLimits(), ReplyContext{}); err != nil || cmd.Kind != KindHelp {
		t.Fatalf("unexpected /help result: %+v, err=%v", cmd, err)
	}
}

func TestParseCategorizeName(t *testing.T) {
	categories := map[string]struct{}{"news": {}}
	cmd, err := Parse("/news", categories, defaultLimits(), ReplyContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind != KindCategorize || cmd.CategorizeName != "news" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseUnknownCommand(t *testing.T) {
	if _, err := Parse("/bogus", nil, defaultLimits(), ReplyContext{}); err == nil {
		t.Fatal("expected error for an unknown, non-category command")
	}
}

func TestSanitizeRejectsScriptInjection(t *testing.T) {
	if _, err := Sanitize("<script>alert(1)</script>", 0); err == nil {
		t.Fatal("expected sanitize to reject script tags")
	}
}

func TestSanitizeRejectsCommandSubstitution(t *testing.T) {
	if _, err := Sanitize("run $(rm -rf /)", 0); err == nil {
		t.Fatal("expected sanitize to reject command substitution")
	}
}

func TestSanitizeEnforcesMaxLength(t *testing.T) {
	if _, err := Sanitize("hello world", 5); err == nil {
		t.Fatal("expected sanitize to reject text over max length")
	}
}

func TestSanitizeStripsControlCharsAndTrims(t *testing.T) {
	clean, err := Sanitize("  hello\x00world  ", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clean != "helloworld" {
		t.Fatalf("clean = %q, want %q", clean, "helloworld")
	}
}
