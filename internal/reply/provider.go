package reply

import (
	"context"
	"strings"
)

type Message struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// Provider delivers a text reply to a WhatsApp chat.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// NumberFromChatID strips the WhatsApp JID suffix from a direct chat id.
// Group ids are returned unchanged because the send API expects the full JID.
func NumberFromChatID(chatID string) string {
	if strings.HasSuffix(chatID, "@g.us") {
		return chatID
	}
	if i := strings.IndexByte(chatID, '@'); i >= 0 {
		return chatID[:i]
	}
	return chatID
}
