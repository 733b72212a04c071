package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		want     ContentType
		priority Priority
		media    bool
	}{
		{"conversation", Message{MessageType: "Conversation", Text: "oi"}, ContentTextOnly, PriorityHigh, false},
		{"extended text", Message{MessageType: "ExtendedTextMessage", Text: "oi"}, ContentTextOnly, PriorityHigh, false},
		{"image with caption", Message{MessageType: "ImageMessage", Text: "look"}, ContentTextWithImage, PriorityNormal, true},
		{"bare image", Message{MessageType: "image"}, ContentImageOnly, PriorityNormal, true},
		{"voice note", Message{MessageType: "ptt", MediaType: "ptt"}, ContentAudioOnly, PriorityHigh, true},
		{"audio with text", Message{MessageType: "AudioMessage", Content: "transcribe"}, ContentTextWithAudio, PriorityHigh, true},
		{"document", Message{MessageType: "DocumentMessage"}, ContentDocumentOnly, PriorityNormal, true},
		{"video with text", Message{MessageType: "VideoMessage", Text: "see"}, ContentTextWithVideo, PriorityLow, true},
		{"sticker", Message{MessageType: "StickerMessage"}, ContentSticker, PriorityLow, false},
		{"location", Message{Type: "location"}, ContentLocation, PriorityNormal, false},
		{"contacts", Message{MessageType: "ContactsMessage"}, ContentContact, PriorityNormal, false},
		{"unrecognised with text", Message{MessageType: "PollCreationMessage", Text: "vote"}, ContentTextOnly, PriorityNormal, false},
		{"unrecognised without text", Message{MessageType: "PollCreationMessage"}, ContentUnknown, PriorityNormal, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.msg)
			assert.Equal(t, tc.want, got.ContentType)
			assert.Equal(t, tc.priority, got.Priority)
			assert.Equal(t, tc.media, got.HasMedia)
		})
	}
}

func TestShouldProcess(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"user text", Message{MessageType: "Conversation", Text: "oi"}, true},
		{"from bot", Message{FromMe: true, Text: "oi"}, false},
		{"protocol", Message{MessageType: "protocol"}, false},
		{"system", Message{MessageType: "system"}, false},
		{"reaction", Message{MessageType: "ReactionMessage", Reaction: "👍"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := ShouldProcess(tc.msg)
			assert.Equal(t, tc.want, got)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestExtractMedia(t *testing.T) {
	info := ExtractMedia(Message{
		MediaType: "image",
		Content:   `{"url":"https://cdn/x.jpg","caption":"receipt","mimetype":"image/jpeg"}`,
	})
	assert.True(t, info.HasMedia)
	assert.Equal(t, "https://cdn/x.jpg", info.URL)
	assert.Equal(t, "image", info.Type)
	assert.Equal(t, "receipt", info.Caption)
	assert.Equal(t, "image/jpeg", info.Mimetype)

	assert.False(t, ExtractMedia(Message{Content: "just text"}).HasMedia)
}

func TestMessageKeyAndBody(t *testing.T) {
	assert.Equal(t, "wamid", Message{ID: "owner:wamid", MessageID: "wamid"}.Key())
	assert.Equal(t, "owner:wamid", Message{ID: "owner:wamid"}.Key())
	assert.Equal(t, "caption", Message{Text: "caption", Content: "raw"}.Body())
	assert.Equal(t, "raw", Message{Content: "raw"}.Body())
}
