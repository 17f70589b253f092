package textproc

import (
	"regexp"
	"strconv"
	"strings"
)

// lrm is the Unicode LEFT-TO-RIGHT MARK, the only BiDi control character
// Telegram clients render correctly (it does not support HTML dir
// attributes).
const lrm = "‎"

// persianPattern detects the Persian/Arabic Unicode block.
var persianPattern = regexp.MustCompile(`[\x{0600}-\x{06FF}]+`)

// urlPattern matches bare http(s) URLs.
var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

// ltrSegmentPattern matches email addresses, English words of 2+ chars,
// and inline code spans — the LTR runs that need a trailing LRM when
// embedded in RTL text. Numbers are deliberately excluded: marking them
// would corrupt "(1/2)"-style pagination and section numbering.
var ltrSegmentPattern = regexp.MustCompile(
	`(?i)\b[A-Za-z0-9._%-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b|\b[A-Za-z][A-Za-z0-9._-]+\b|` + "`[^`]+`",
)

// paginationPattern matches "(i/n)" pagination suffixes, which must be
// protected from LRM insertion.
var paginationPattern = regexp.MustCompile(`\(\d+/\d+\)`)

// HasPersianText reports whether text contains any Persian/Arabic script.
func HasPersianText(text string) bool {
	return text != "" && persianPattern.MatchString(text)
}

// FixRTLDisplay inserts LRM markers after LTR runs (URLs, English words,
// emails, inline code) embedded in Persian/Arabic text, so Telegram clients
// don't visually scramble the mixed-direction line. Text with no Persian
// content is returned unchanged. Idempotent: calling it twice on already-
// fixed text is safe.
func FixRTLDisplay(text string) string {
	if !HasPersianText(text) {
		return text
	}

	// Drop markers from an earlier pass so they are not doubled.
	text = strings.ReplaceAll(text, lrm, "")

	var placeholders []string
	protected := paginationPattern.ReplaceAllStringFunc(text, func(m string) string {
		placeholder := "​__PGNTN_" + strconv.Itoa(len(placeholders)) + "__​"
		placeholders = append(placeholders, m)
		return placeholder
	})

	protected = urlPattern.ReplaceAllStringFunc(protected, func(m string) string { return m + lrm })
	protected = ltrSegmentPattern.ReplaceAllStringFunc(protected, func(m string) string { return m + lrm })

	// Drop the LRM before punctuation where it produces a visible artifact,
	// e.g. a username label like "sina:" in a bullet list.
	replacer := strings.NewReplacer(
		lrm+":", ":",
		lrm+")", ")",
		lrm+"(", "(",
		lrm+" (", " (",
	)
	protected = replacer.Replace(protected)

	for i, original := range placeholders {
		placeholder := "​__PGNTN_" + strconv.Itoa(i) + "__​"
		protected = strings.Replace(protected, placeholder, original, 1)
	}

	return protected
}

// EnsureRTLSafe is the entry point callers should use before sending any
// message: it auto-detects Persian content and applies the fix only when
// needed, unless force is set.
func EnsureRTLSafe(text string, force bool) string {
	if !force && !HasPersianText(text) {
		return text
	}
	return FixRTLDisplay(text)
}
