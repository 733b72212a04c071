package routing

import (
	"encoding/json"
	"strings"
)

type ContentType string

const (
	ContentTextOnly         ContentType = "text_only"
	ContentAudioOnly        ContentType = "audio_only"
	ContentTextWithAudio    ContentType = "text_with_audio"
	ContentImageOnly        ContentType = "image_only"
	ContentTextWithImage    ContentType = "text_with_image"
	ContentDocumentOnly     ContentType = "document_only"
	ContentTextWithDocument ContentType = "text_with_document"
	ContentVideoOnly        ContentType = "video_only"
	ContentTextWithVideo    ContentType = "text_with_video"
	ContentSticker          ContentType = "sticker"
	ContentLocation         ContentType = "location"
	ContentContact          ContentType = "contact"

	// ContentUnknown is a classification result only; it never has a route.
	ContentUnknown ContentType = "unknown"
)

// ContentTypes lists every type that must carry a route.
var ContentTypes = []ContentType{
	ContentTextOnly,
	ContentAudioOnly,
	ContentTextWithAudio,
	ContentImageOnly,
	ContentTextWithImage,
	ContentDocumentOnly,
	ContentTextWithDocument,
	ContentVideoOnly,
	ContentTextWithVideo,
	ContentSticker,
	ContentLocation,
	ContentContact,
}

func (c ContentType) Valid() bool {
	for _, ct := range ContentTypes {
		if ct == c {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Message is the subset of an inbound WhatsApp message the router looks at.
type Message struct {
	ID          string `json:"id"`
	MessageID   string `json:"messageid"`
	ChatID      string `json:"chatid"`
	Sender      string `json:"sender"`
	SenderName  string `json:"senderName"`
	GroupName   string `json:"groupName"`
	IsGroup     bool   `json:"isGroup"`
	FromMe      bool   `json:"fromMe"`
	Text        string `json:"text"`
	Content     string `json:"content"`
	MediaType   string `json:"mediaType"`
	MessageType string `json:"messageType"`
	Type        string `json:"type"`
	Reaction    string `json:"reaction"`
	Timestamp   int64  `json:"messageTimestamp"`
}

// Key returns the identifier used to deduplicate webhook deliveries.
func (m Message) Key() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.ID
}

// Body returns the text the user typed, preferring the caption/text field.
func (m Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Content
}

type Analysis struct {
	ContentType ContentType
	HasText     bool
	HasMedia    bool
	MediaType   string
	MessageType string
	Priority    Priority
}

var mediaKinds = []string{"image", "audio", "video", "document"}

// Classify derives the content type of msg from its message type and text.
func Classify(msg Message) Analysis {
	hasText := msg.Text != "" || msg.Content != ""
	messageType := msg.MessageType
	if messageType == "" {
		messageType = msg.Type
	}

	a := Analysis{
		ContentType: ContentUnknown,
		HasText:     hasText,
		MediaType:   msg.MediaType,
		MessageType: messageType,
		Priority:    PriorityNormal,
	}

	switch strings.ToLower(messageType) {
	case "conversation", "text", "extendedtextmessage":
		a.ContentType = ContentTextOnly
		a.Priority = PriorityHigh
	case "imagemessage", "image":
		a.ContentType = pick(hasText, ContentTextWithImage, ContentImageOnly)
	case "audiomessage", "audio", "ptt":
		a.ContentType = pick(hasText, ContentTextWithAudio, ContentAudioOnly)
		a.Priority = PriorityHigh
	case "documentmessage", "document":
		a.ContentType = pick(hasText, ContentTextWithDocument, ContentDocumentOnly)
	case "videomessage", "video":
		a.ContentType = pick(hasText, ContentTextWithVideo, ContentVideoOnly)
		a.Priority = PriorityLow
	case "stickermessage", "sticker":
		a.ContentType = ContentSticker
		a.Priority = PriorityLow
	case "locationmessage", "location":
		a.ContentType = ContentLocation
	case "contactmessage", "contact", "contactsmessage":
		a.ContentType = ContentContact
	default:
		if hasText {
			a.ContentType = ContentTextOnly
		}
	}

	a.HasMedia = msg.MediaType != ""
	lower := strings.ToLower(messageType)
	for _, kind := range mediaKinds {
		if strings.Contains(lower, kind) {
			a.HasMedia = true
		}
	}
	return a
}

func pick(hasText bool, withText, without ContentType) ContentType {
	if hasText {
		return withText
	}
	return without
}

// ShouldProcess filters out messages that never reach a route: our own
// outbound messages, protocol/system notices and reactions.
func ShouldProcess(msg Message) (bool, string) {
	if msg.FromMe {
		return false, "message sent by bot"
	}
	if msg.MessageType == "protocol" || msg.MessageType == "system" {
		return false, "system message"
	}
	if msg.Reaction != "" {
		return false, "reaction message"
	}
	return true, "valid user message"
}

type MediaInfo struct {
	HasMedia bool   `json:"hasMedia"`
	URL      string `json:"url,omitempty"`
	Type     string `json:"mediaType,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// ExtractMedia reads the structured media descriptor UAZ embeds as JSON in
// the content field. Plain text content yields HasMedia=false.
func ExtractMedia(msg Message) MediaInfo {
	var raw struct {
		URL       string `json:"url"`
		MediaURL  string `json:"mediaUrl"`
		MediaType string `json:"mediaType"`
		Caption   string `json:"caption"`
		Text      string `json:"text"`
		Mimetype  string `json:"mimetype"`
		MimeType  string `json:"mimeType"`
	}
	if err := json.Unmarshal([]byte(msg.Content), &raw); err != nil {
		return MediaInfo{}
	}
	info := MediaInfo{
		URL:      firstNonEmpty(raw.URL, raw.MediaURL),
		Type:     firstNonEmpty(raw.MediaType, msg.MediaType),
		Caption:  firstNonEmpty(raw.Caption, raw.Text),
		Mimetype: firstNonEmpty(raw.Mimetype, raw.MimeType),
	}
	info.HasMedia = info.URL != ""
	return info
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
