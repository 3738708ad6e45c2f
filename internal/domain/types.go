package domain

import "time"

type SessionID string
type MessageID string

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

type Timestamp = time.Time

// Sentinel texts written into AI messages by the chat orchestrator.
const (
	PlaceholderText   = "..."
	StoppedText       = "[Stopped by user]"
	EmptyResponseText = "[Empty Response]"
	GeneratingImage   = "Generating image..."
)
