package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cardalert-backend/lib/apperr"

	"github.com/stretchr/testify/require"
)

type fakeBotAPI struct {
	mu       sync.Mutex
	sent     []map[string]any
	updates  []Update
	lastAck  int64
	getMeErr string
	// simulated long-poll hold before each getUpdates response
	holdUpdates time.Duration
}

func (f *fakeBotAPI) addUpdate(u Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/bottoken123/"))
		method := strings.TrimPrefix(r.URL.Path, "/bottoken123/")

		var params map[string]any
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&params)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		switch method {
		case "getMe":
			if f.getMeErr != "" {
				fmt.Fprintf(w, `{"ok":false,"description":%q}`, f.getMeErr)
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":{"id":42,"username":"card_alert_bot"}}`)
		case "sendMessage":
			f.sent = append(f.sent, params)
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1}}`)
		case "getUpdates":
			if f.holdUpdates > 0 {
				f.mu.Unlock()
				time.Sleep(f.holdUpdates)
				f.mu.Lock()
			}
			offset := int64(params["offset"].(float64))
			f.lastAck = offset
			var pending []Update
			for _, u := range f.updates {
				if u.UpdateID >= offset {
					pending = append(pending, u)
				}
			}
			body, err := json.Marshal(pending)
			require.NoError(t, err)
			fmt.Fprintf(w, `{"ok":true,"result":%s}`, body)
		default:
			t.Errorf("unexpected method %q", method)
		}
	})
}

func newFake(t *testing.T) (*fakeBotAPI, *Client) {
	fake := &fakeBotAPI{}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientOptions{Token: "token123", BaseURL: server.URL})
	require.NoError(t, err)
	return fake, client
}

func TestBotName(t *testing.T) {
	_, client := newFake(t)
	name, err := client.BotName(context.Background())
	require.NoError(t, err)
	require.Equal(t, "@card_alert_bot", name)
}

func TestBotNameAPIError(t *testing.T) {
	fake, client := newFake(t)
	fake.getMeErr = "Unauthorized"

	_, err := client.BotName(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "getMe", apiErr.Method)
	require.True(t, apperr.IsRecoverable(err))
}

func TestSendMessage(t *testing.T) {
	fake, client := newFake(t)

	err := client.SendMessage(context.Background(), 777, "<b>hello</b>", SendOptions{HTML: true, Silent: true})
	require.NoError(t, err)

	require.Len(t, fake.sent, 1)
	sent := fake.sent[0]
	require.EqualValues(t, 777, sent["chat_id"])
	require.Equal(t, "<b>hello</b>", sent["text"])
	require.Equal(t, "HTML", sent["parse_mode"])
	require.Equal(t, true, sent["disable_notification"])
	require.Equal(t, true, sent["disable_web_page_preview"])
}

func TestSendMessagePlain(t *testing.T) {
	fake, client := newFake(t)

	err := client.SendMessage(context.Background(), 777, "hello", SendOptions{})
	require.NoError(t, err)

	sent := fake.sent[0]
	require.NotContains(t, sent, "parse_mode")
	require.NotContains(t, sent, "disable_notification")
}

func TestWaitForMessage(t *testing.T) {
	fake, client := newFake(t)
	fake.updates = []Update{
		{UpdateID: 10, Message: &Message{Chat: Chat{ID: 1}, Text: "noise"}},
		{UpdateID: 11, Message: &Message{Chat: Chat{ID: 555}, Text: "  /ecard_deploy abc  "}},
	}

	chatID, ok, err := client.WaitForMessage(context.Background(), "/ecard_deploy abc", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 555, chatID)

	// the matched update must have been acknowledged
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.EqualValues(t, 12, fake.lastAck)
}

func TestClientTimeoutOutlastsLongPoll(t *testing.T) {
	// getUpdates asks the server to hold the connection for pollSeconds;
	// if the transport timeout were at or below that, every idle poll
	// would die as a client-side timeout and exhaust the retry budget
	_, client := newFake(t)
	require.Greater(t, client.http.GetClient().Timeout, pollSeconds*time.Second)
}

func TestWaitForMessageSurvivesIdlePolls(t *testing.T) {
	// no pending updates at first: the poll cycles through held empty
	// responses until the command arrives
	fake, client := newFake(t)
	fake.holdUpdates = 20 * time.Millisecond
	go func() {
		time.Sleep(50 * time.Millisecond)
		fake.addUpdate(Update{
			UpdateID: 7,
			Message:  &Message{Chat: Chat{ID: 99}, Text: "/ecard_deploy xyz"},
		})
	}()

	chatID, ok, err := client.WaitForMessage(context.Background(), "/ecard_deploy xyz", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 99, chatID)
}

func TestWaitForMessageTimeout(t *testing.T) {
	fake, client := newFake(t)
	fake.updates = []Update{
		{UpdateID: 10, Message: &Message{Chat: Chat{ID: 1}, Text: "noise"}},
	}

	_, ok, err := client.WaitForMessage(context.Background(), "/ecard_deploy abc", 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWaitForMessageCancelled(t *testing.T) {
	_, client := newFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := client.WaitForMessage(ctx, "whatever", 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(ClientOptions{})
	require.Error(t, err)
}
