package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"podpiska-billing/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Method string
	Body   map[string]interface{}
}

func createTestServer(t *testing.T, respond func(method string) string) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	var mu sync.Mutex
	calls := []recordedCall{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		assert.Equal(t, "/botTOKEN/"+method, r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		calls = append(calls, recordedCall{Method: method, Body: body})
		mu.Unlock()

		w.Write([]byte(respond(method)))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func createTestClient(t *testing.T, url string) *Client {
	return NewClient(&Config{
		BotToken: "TOKEN",
		APIURL:   url,
		Timeout:  2 * time.Second,
	}, logger.NewTestLogger(t))
}

func TestCreateInviteLink(t *testing.T) {
	server, calls := createTestServer(t, func(string) string {
		return `{"ok":true,"result":{"invite_link":"https://t.me/+abc"}}`
	})

	link, err := createTestClient(t, server.URL).CreateInviteLink(context.Background(), "-100123", "Sub_42")
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abc", link)

	require.Len(t, *calls, 1)
	body := (*calls)[0].Body
	assert.Equal(t, "-100123", body["chat_id"])
	assert.Equal(t, "Sub_42", body["name"])
	assert.Equal(t, float64(1), body["member_limit"])
}

func TestBanAndUnban(t *testing.T) {
	server, calls := createTestServer(t, func(string) string { return `{"ok":true,"result":true}` })
	client := createTestClient(t, server.URL)

	require.NoError(t, client.BanMember(context.Background(), "-100123", 42))
	require.NoError(t, client.UnbanMember(context.Background(), "-100123", 42))

	require.Len(t, *calls, 2)
	assert.Equal(t, "banChatMember", (*calls)[0].Method)
	assert.Equal(t, float64(42), (*calls)[0].Body["user_id"])
	assert.Equal(t, "unbanChatMember", (*calls)[1].Method)
	assert.Equal(t, true, (*calls)[1].Body["only_if_banned"])
}

func TestSendMessage(t *testing.T) {
	server, calls := createTestServer(t, func(string) string { return `{"ok":true,"result":{}}` })

	require.NoError(t, createTestClient(t, server.URL).SendMessage(context.Background(), 42, "hello"))
	body := (*calls)[0].Body
	assert.Equal(t, float64(42), body["chat_id"])
	assert.Equal(t, "hello", body["text"])
	assert.Equal(t, "HTML", body["parse_mode"])
}

func TestCall_APIError(t *testing.T) {
	server, _ := createTestServer(t, func(string) string {
		return `{"ok":false,"error_code":400,"description":"Bad Request: not enough rights"}`
	})

	_, err := createTestClient(t, server.URL).CreateInviteLink(context.Background(), "-100123", "Sub_42")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "not enough rights")
}

func TestCall_TransportErrorHidesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := createTestClient(t, url).SendMessage(context.Background(), 42, "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "TOKEN")
}

func TestCall_CancelledContext(t *testing.T) {
	server, _ := createTestServer(t, func(string) string { return `{"ok":true}` })
	client := NewClient(&Config{BotToken: "TOKEN", APIURL: server.URL, RatePerSecond: 0.001, Timeout: time.Second}, logger.NewNoOpLogger())

	require.NoError(t, client.SendMessage(context.Background(), 1, "first"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, client.SendMessage(ctx, 1, "second"))
}
