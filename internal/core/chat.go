package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// Post appends a chat message stamped by the server and broadcasts it to every
// participant, sender included.
func (s *Session) Post(ctx context.Context, id domain.ConnectionID, text string) (domain.ChatMessage, PublishResult, error) {
	var (
		msg     domain.ChatMessage
		postErr error
	)
	res, err := s.do(ctx, func(st *sessionState) { msg, postErr = st.post(id, text) })
	if err != nil {
		return msg, res, err
	}
	return msg, res, postErr
}

func (st *sessionState) post(id domain.ConnectionID, text string) (domain.ChatMessage, error) {
	m, ok := st.members[id]
	if !ok {
		return domain.ChatMessage{}, fmt.Errorf("chat from %s: %w", id, domain.ErrNotAParticipant)
	}
	text, err := domain.NormalizeChatText(text)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	// Never step backwards, even if the wall clock does.
	ts := st.clock()
	if ts.Before(st.lastChatAt) {
		ts = st.lastChatAt
	}
	st.lastChatAt = ts

	msg := domain.ChatMessage{
		SessionID:          st.id,
		SenderConnectionID: id,
		SenderName:         m.meta.Name,
		Text:               text,
		Timestamp:          ts,
	}
	st.chat = append(st.chat, msg)
	st.broadcast(protocol.NewChatBroadcast(msg), "")
	return msg, nil
}

// joinTranscript picks the newest messages that fit the join budget, oldest
// first. Sizes are measured on the encoded broadcast so escaping counts.
func (st *sessionState) joinTranscript() ([]domain.ChatMessage, bool) {
	start, used := len(st.chat), 0
	for start > 0 && len(st.chat)-start < st.joinChatLimit {
		b, err := json.Marshal(protocol.NewChatBroadcast(st.chat[start-1]))
		if err != nil || used+len(b) > st.joinChatBytes {
			break
		}
		used += len(b)
		start--
	}
	return st.chat[start:], start > 0
}
