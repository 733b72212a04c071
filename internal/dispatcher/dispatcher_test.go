package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/message-router/internal/queue"
	"github.com/example/message-router/internal/routing"
)

func testPayload() queue.Payload {
	return queue.Payload{
		Message:     "oi",
		UserID:      "user-1",
		PhoneNumber: "5511999999999",
		Context:     queue.PayloadContext{ConversationID: "chat-1"},
	}
}

func TestForward(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		retries   int
		wantErr   bool
		wantCalls int32
	}{
		{name: "first attempt", statuses: []int{200}, retries: 2, wantCalls: 1},
		{name: "retry then ok", statuses: []int{502, 200}, retries: 1, wantCalls: 2},
		{name: "retries exhausted", statuses: []int{503, 503}, retries: 1, wantErr: true, wantCalls: 2},
		{name: "no retries", statuses: []int{500}, retries: 0, wantErr: true, wantCalls: 1},
		{name: "permanent", statuses: []int{400}, retries: 2, wantErr: true, wantCalls: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				assert.Equal(t, "crew", r.Header.Get("X-Agent"))
				w.WriteHeader(tc.statuses[int(n)-1])
			}))
			defer srv.Close()

			route := routing.RouteConfig{
				Endpoint: "/process",
				Method:   routing.MethodPost,
				Timeout:  time.Second,
				Retries:  tc.retries,
				Headers:  map[string]string{"X-Agent": "crew"},
			}
			d := &Dispatcher{RetryInterval: 5 * time.Millisecond, Logger: zerolog.Nop()}
			err := d.Forward(context.Background(), route, srv.URL+"/process", testPayload())

			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestForwardRejectsLocalRoute(t *testing.T) {
	d := &Dispatcher{Logger: zerolog.Nop()}
	err := d.Forward(context.Background(), routing.RouteConfig{Endpoint: routing.LocalEndpoint, Method: routing.MethodReply, Timeout: time.Second}, "local", testPayload())
	require.Error(t, err)
}

func TestForwardAppliesRouteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	d := &Dispatcher{Logger: zerolog.Nop()}
	start := time.Now()
	err := d.Forward(context.Background(), routing.RouteConfig{Endpoint: "/process", Method: routing.MethodPost, Timeout: 50 * time.Millisecond}, srv.URL, testPayload())

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
