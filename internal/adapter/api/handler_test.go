package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"shopassist/internal/domain/entity"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubmitter struct {
	mu  sync.Mutex
	got []entity.TurnRequest
	err error
}

func (s *fakeSubmitter) Submit(req entity.TurnRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, req)
	return nil
}

type fakeStreamer struct {
	events []entity.StreamEvent
}

func (s fakeStreamer) ProcessStreamingTurn(context.Context, entity.TurnRequest) <-chan entity.StreamEvent {
	ch := make(chan entity.StreamEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (l fakeLimiter) Allow(context.Context, string) (bool, error) { return l.allow, l.err }

func newChatApp(sub *fakeSubmitter, stream fakeStreamer, limiter fakeLimiter) *fiber.App {
	app := fiber.New()
	chat := NewChatHandler(sub, stream, limiter, time.Second, zap.NewNop())
	merchant := NewMerchantHandler(nil, nil, nil, nil, nil, zap.NewNop())
	SetupRouter(app, chat, merchant, nil, "test")
	return app
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandleChat(t *testing.T) {
	valid := `{"shop":"s1","sessionId":"c1","message":"hi"}`

	tests := []struct {
		name       string
		method     string
		body       string
		submitErr  error
		limiter    fakeLimiter
		wantStatus int
		wantQueued int
	}{
		{"accepted", http.MethodPost, valid, nil, fakeLimiter{allow: true}, fiber.StatusOK, 1},
		{"missing message", http.MethodPost, `{"shop":"s1","sessionId":"c1"}`, nil, fakeLimiter{allow: true}, fiber.StatusBadRequest, 0},
		{"malformed body", http.MethodPost, `{"shop":`, nil, fakeLimiter{allow: true}, fiber.StatusBadRequest, 0},
		{"wrong method", http.MethodGet, "", nil, fakeLimiter{allow: true}, fiber.StatusMethodNotAllowed, 0},
		{"throttled", http.MethodPost, valid, nil, fakeLimiter{allow: false}, fiber.StatusTooManyRequests, 0},
		{"throttle down fails open", http.MethodPost, valid, nil, fakeLimiter{err: errors.New("redis down")}, fiber.StatusOK, 1},
		{"queue full", http.MethodPost, valid, entity.ErrQueueFull, fakeLimiter{allow: true}, fiber.StatusServiceUnavailable, 0},
		{"shutting down", http.MethodPost, valid, entity.ErrDispatcherClosed, fakeLimiter{allow: true}, fiber.StatusServiceUnavailable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.submitErr}
			app := newChatApp(sub, fakeStreamer{}, tt.limiter)

			resp, err := app.Test(jsonRequest(tt.method, "/api/chat", tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Len(t, sub.got, tt.wantQueued)

			body := decodeBody(t, resp)
			assert.Equal(t, tt.wantStatus == fiber.StatusOK, body["success"])
		})
	}
}

func TestHandleChatStampsReceivedAt(t *testing.T) {
	sub := &fakeSubmitter{}
	app := newChatApp(sub, fakeStreamer{}, fakeLimiter{allow: true})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/chat", `{"shop":"s1","sessionId":"c1","message":"hi","email":"a@b.com","previousSessionId":"g1"}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, sub.got, 1)
	assert.Equal(t, "g1", sub.got[0].PreviousSessionID)
	assert.False(t, sub.got[0].ReceivedAt.IsZero())
}

func TestPreflightEchoesOrigin(t *testing.T) {
	app := newChatApp(&fakeSubmitter{}, fakeStreamer{}, fakeLimiter{allow: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://demo.myshopify.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://demo.myshopify.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestHandleChatStream(t *testing.T) {
	stream := fakeStreamer{events: []entity.StreamEvent{
		{Type: entity.StreamText, Content: "Hello "},
		{Type: entity.StreamText, Content: "there"},
		{Type: entity.StreamMetadata, Products: []entity.RecommendedProduct{{ProductID: "p1", Title: "Red Runner"}}},
	}}
	app := newChatApp(&fakeSubmitter{}, stream, fakeLimiter{allow: true})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/chat/stream", `{"shop":"s1","sessionId":"c1","message":"hi"}`), 5000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := strings.Split(strings.TrimSpace(string(raw)), "\n\n")
	require.Len(t, frames, 3)

	var last entity.StreamEvent
	require.True(t, strings.HasPrefix(frames[2], "data: "))
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[2], "data: ")), &last))
	assert.Equal(t, entity.StreamMetadata, last.Type)
	require.Len(t, last.Products, 1)
	assert.Equal(t, "p1", last.Products[0].ProductID)
	assert.Equal(t, `data: {"type":"text","content":"Hello "}`, frames[0])
}

func TestHandleChatStreamValidatesBeforeStreaming(t *testing.T) {
	app := newChatApp(&fakeSubmitter{}, fakeStreamer{}, fakeLimiter{allow: true})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/chat/stream", `{"shop":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestHealth(t *testing.T) {
	app := newChatApp(&fakeSubmitter{}, fakeStreamer{}, fakeLimiter{allow: true})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["env"])
}
