package domain

import (
	"strings"
	"time"
)

const MaxChatTextLen = 4096

type ChatMessage struct {
	SessionID          SessionID    `json:"sessionId"`
	SenderConnectionID ConnectionID `json:"senderConnectionId"`
	SenderName         string       `json:"sender"`
	Text               string       `json:"message"`
	Timestamp          time.Time    `json:"timestamp"`
}

// NormalizeChatText trims text and checks its limits.
func NormalizeChatText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrTextEmpty
	}
	if len(text) > MaxChatTextLen {
		return "", ErrTextTooLong
	}
	return text, nil
}
