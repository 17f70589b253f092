// Package prompts centralizes the system-message templates the dispatcher
// hands to the LLM backend, so wording changes happen in one place instead
// of scattered across command handlers.
package prompts

import "fmt"

// Translate builds the system message for /translate.
func Translate(targetLang, sourceLang string) string {
	if sourceLang == "" {
		return fmt.Sprintf("Translate the user's message into %s. Reply with only the translation, no notes or quotation marks.", targetLang)
	}
	return fmt.Sprintf("Translate the user's message from %s into %s. Reply with only the translation, no notes or quotation marks.", sourceLang, targetLang)
}

// Analyze builds the system message for /analyze for the given mode; the
// transcript itself is sent separately as the user message.
func Analyze(mode string) string {
	switch mode {
	case "fun":
		return "You are analyzing a group chat transcript. Write a short, funny, lighthearted summary of the conversation and its participants' dynamics. Keep it friendly, never mean-spirited."
	case "romance":
		return "You are analyzing a group chat transcript. Focus on romantic or flirtatious undertones between participants, written playfully and tactfully."
	default:
		return "You are analyzing a group chat transcript. Summarize the main topics, decisions and notable exchanges concisely."
	}
}

// Tellme builds the system message for /tellme, which answers a specific
// question about the last N messages of a chat.
func Tellme(question string) string {
	return fmt.Sprintf("You are given a chat transcript. Answer the following question about it as concisely as possible: %s", question)
}

// STTSummary builds the system message used to summarize a voice
// transcript after /stt finishes transcription.
const STTSummary = "Summarize the following voice message transcript in two or three sentences, preserving the speaker's intent and any action items."

// Prompt is the passthrough system message for /prompt: the user's text is
// the entire request, so the model gets only a minimal steering message.
const Prompt = "Respond directly and concisely to the user's message."
