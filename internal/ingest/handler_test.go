package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/message-router/internal/routing"
)

func TestValidateRequest(t *testing.T) {
	msg := &routing.Message{ID: "m1"}
	chat := &Chat{ID: "c1"}

	tests := []struct {
		name    string
		request WebhookPayload
		wantErr bool
	}{
		{
			name:    "valid message",
			request: WebhookPayload{EventType: EventMessages, Owner: "o", Token: "t", Message: msg, Chat: chat},
		},
		{
			name:    "missing event type",
			request: WebhookPayload{Owner: "o", Token: "t", Message: msg, Chat: chat},
			wantErr: true,
		},
		{
			name:    "missing owner",
			request: WebhookPayload{EventType: EventMessages, Token: "t", Message: msg, Chat: chat},
			wantErr: true,
		},
		{
			name:    "missing token",
			request: WebhookPayload{EventType: EventMessages, Owner: "o", Message: msg, Chat: chat},
			wantErr: true,
		},
		{
			name:    "message without chat",
			request: WebhookPayload{EventType: EventMessagesUpdate, Owner: "o", Token: "t", Message: msg},
			wantErr: true,
		},
		{
			name:    "presence without event",
			request: WebhookPayload{EventType: EventPresence, Owner: "o", Token: "t", Type: "composing"},
			wantErr: true,
		},
		{
			name:    "connection",
			request: WebhookPayload{EventType: EventConnection, Owner: "o", Token: "t"},
		},
		{
			name:    "unrecognised event",
			request: WebhookPayload{EventType: "labels", Owner: "o", Token: "t"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRequest(tc.request)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

type stubHandler struct {
	calls []routing.Message
	owner string
	err   error
}

func (s *stubHandler) Handle(_ context.Context, owner string, _ Chat, msg routing.Message) (Outcome, error) {
	s.calls = append(s.calls, msg)
	s.owner = owner
	return Outcome{Status: StatusEnqueued, ContentType: routing.ContentTextOnly}, s.err
}

const messageWebhook = `{
  "EventType": "messages",
  "owner": "5511888888888",
  "token": "instance-token",
  "message": {
    "id": "5511888888888:ABC",
    "messageid": "ABC",
    "chatid": "5511999999999@s.whatsapp.net",
    "sender": "5511999999999@s.whatsapp.net",
    "senderName": "Maria",
    "messageType": "Conversation",
    "text": "oi"
  },
  "chat": {"id": "r1", "name": "Maria", "wa_chatid": "5511999999999@s.whatsapp.net"}
}`

func TestWebhookRoutesMessages(t *testing.T) {
	stub := &stubHandler{}
	h := NewHandler(stub, zerolog.Nop())
	rr := httptest.NewRecorder()

	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webhook/uaz", strings.NewReader(messageWebhook)))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":true`)
	require.Len(t, stub.calls, 1)
	assert.Equal(t, "ABC", stub.calls[0].Key())
	assert.Equal(t, "5511888888888", stub.owner)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	stub := &stubHandler{}
	h := NewHandler(stub, zerolog.Nop())
	rr := httptest.NewRecorder()

	body := `{"EventType":"connection","owner":"o","token":"t"}`
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webhook/uaz", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, stub.calls)
}

func TestWebhookErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"invalid json", `{`, nil, http.StatusBadRequest},
		{"invalid structure", `{"EventType":"messages","owner":"o","token":"t"}`, nil, http.StatusBadRequest},
		{"service failure", messageWebhook, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&stubHandler{err: tc.err}, zerolog.Nop())
			rr := httptest.NewRecorder()

			h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webhook/uaz", strings.NewReader(tc.body)))

			assert.Equal(t, tc.status, rr.Code)
			assert.NotContains(t, rr.Body.String(), "db down")
		})
	}
}

func TestWebhookHealth(t *testing.T) {
	h := NewHandler(&stubHandler{}, zerolog.Nop())
	rr := httptest.NewRecorder()

	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/webhook/uaz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "UAZ Webhook Handler")
}
