package config

import "time"

const (
	// SessionExpiry is the silence after which the next message opens a new
	// session. The boundary is exclusive: a gap of exactly two hours still
	// resumes the old session.
	SessionExpiry = 2 * time.Hour

	// ReconnectGap is the in-session silence that asks the prompt selector
	// for a reconnect opener.
	ReconnectGap = 1 * time.Hour

	// AI request timeout
	RequestTimeout = 90 * time.Second

	// HTTP server timeouts
	HandlerTimeout  = 2 * time.Minute
	ShutdownTimeout = 10 * time.Second

	// History sent to the provider per turn
	MaxContextMessages = 40

	// Emotion analysis subcall budget
	EmotionAnalysisMaxTokens = 8

	// Session summary subcall budget
	SummaryMaxTokens = 256

	// Transaction types
	TxTypeCompanionChat  = "companion_chat"
	TxTypeSessionSummary = "session_summary"

	// Subcall types
	SubcallPrimary = "primary_call"
	SubcallEmotion = "emotion_analysis"
	SubcallSummary = "summary_generation"

	// DefaultSystemPrompt is the generic companion prompt used when no
	// contextual prompt matches.
	DefaultSystemPrompt = "You are Evermind, a warm, attentive journaling companion. " +
		"Listen closely, reflect feelings back, and ask one gentle question at a time."

	// EmotionAnalysisPrompt asks the model for a single-word label.
	EmotionAnalysisPrompt = "Label the dominant emotion of the user's message with a single " +
		"lowercase word such as joy, sadness, anger, fear, anxiety, or neutral. " +
		"Reply with the word only."

	// SummaryPrompt closes out a session.
	SummaryPrompt = "Summarize this journaling conversation in two or three sentences, " +
		"focusing on what the user worked through and how they felt."
)
