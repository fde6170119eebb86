package domain

import "time"

// TriggerType classifies why a contextual prompt is injected.
type TriggerType string

const (
	TriggerFirstTime       TriggerType = "first_time"
	TriggerNewDay          TriggerType = "new_day"
	TriggerGapReconnect    TriggerType = "gap_reconnect"
	TriggerEmotionDetected TriggerType = "emotion_detected"
)

// ContextualPrompt is a system-prompt variant managed by an external admin
// surface. Emotion is the optional trigger condition; empty means the prompt
// matches its trigger type generically.
type ContextualPrompt struct {
	ID        int64
	Trigger   TriggerType
	Emotion   string
	Content   string
	Active    bool
	CreatedAt time.Time
}
