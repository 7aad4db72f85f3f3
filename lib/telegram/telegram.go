package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cardalert-backend/lib/apperr"
	"cardalert-backend/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("telegram")

const DefaultBaseURL = "https://api.telegram.org"

// long-poll duration requested from getUpdates while waiting
const pollSeconds = 30

// APIError is a bot API response with ok=false.
type APIError struct {
	Method      string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %s", e.Method, e.Description)
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Client talks to the Telegram bot API. It goes through the same
// outbound proxy as the portal clients when one is configured, since
// the bot API may be unreachable from the same networks the portal is
// reachable from.
type Client struct {
	http    *restyutil.Client
	baseURL string
	token   string
}

type ClientOptions struct {
	Token string
	// outbound proxy url, empty for a direct connection
	Proxy string
	// defaults to DefaultBaseURL
	BaseURL string
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	// getUpdates holds the connection open for pollSeconds, so the
	// transport timeout must outlast the hold or every idle poll dies
	// as a client-side timeout
	httpClient, err := restyutil.NewClient(restyutil.ClientOptions{
		Name:    "telegram",
		Proxy:   opts.Proxy,
		Timeout: (pollSeconds + 15) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimSuffix(base, "/"),
		token:   opts.Token,
	}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// call posts params as JSON to a bot API method and decodes the result
// envelope into out when out is non-nil.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	ctx, span := tracer.Start(ctx, "client:"+method)
	defer span.End()

	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetHeader("content-type", "application/json").SetBody(params)
	}
	res, err := c.http.Execute(req, resty.MethodPost, c.baseURL+"/bot"+c.token+"/"+method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return apperr.Recoverable(err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(res.Body(), &envelope); err != nil {
		err = fmt.Errorf("decoding %s response: %w", method, err)
		span.SetStatus(codes.Error, err.Error())
		return apperr.Recoverable(err)
	}
	if !envelope.OK {
		err := &APIError{Method: method, Description: envelope.Description}
		span.SetStatus(codes.Error, err.Error())
		return apperr.Recoverable(err)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			err = fmt.Errorf("decoding %s result: %w", method, err)
			span.SetStatus(codes.Error, err.Error())
			return apperr.Recoverable(err)
		}
	}
	return nil
}

// BotName resolves the bot's own identity via getMe. Used as a token
// sanity check before anything else touches the API.
func (c *Client) BotName(ctx context.Context) (string, error) {
	var me User
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return "", err
	}
	if me.Username != "" {
		return "@" + me.Username, nil
	}
	return me.FirstName, nil
}

type SendOptions struct {
	// render the message body as Telegram HTML
	HTML bool
	// deliver without a notification sound
	Silent bool
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error {
	params := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if opts.HTML {
		params["parse_mode"] = "HTML"
	}
	if opts.Silent {
		params["disable_notification"] = true
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// WaitForMessage long-polls getUpdates until a message whose trimmed
// text equals want arrives, and reports the chat it came from. A false
// ok means the timeout elapsed without a match. Matched and skipped
// updates are both acknowledged so they are not redelivered on the
// next call.
func (c *Client) WaitForMessage(ctx context.Context, want string, timeout time.Duration) (chatID int64, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "client:WaitForMessage")
	defer span.End()

	deadline := time.Now().Add(timeout)
	var offset int64
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}

		var updates []Update
		err := c.call(ctx, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         pollSeconds,
			"allowed_updates": []string{"message"},
		}, &updates)
		if err != nil {
			return 0, false, err
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil {
				continue
			}
			if strings.TrimSpace(update.Message.Text) == want {
				c.ackUpdates(ctx, offset)
				return update.Message.Chat.ID, true, nil
			}
		}
	}
	return 0, false, nil
}

// ackUpdates advances the server-side update cursor. Best effort: a
// failed ack only risks one redelivered command.
func (c *Client) ackUpdates(ctx context.Context, offset int64) {
	_ = c.call(ctx, "getUpdates", map[string]any{
		"offset":  offset,
		"timeout": 0,
	}, nil)
}
