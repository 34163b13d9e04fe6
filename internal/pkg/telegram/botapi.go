package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// BotAPI is a direct Telegram Bot API client for outbound notifications.
type BotAPI struct {
	token  string
	client *resty.Client
}

// NewBotAPI creates a new direct Telegram Bot API client.
func NewBotAPI(token string) *BotAPI {
	return &BotAPI{
		token:  token,
		client: resty.New().SetBaseURL("https://api.telegram.org/bot" + token),
	}
}

// Call makes a raw API call to the Telegram Bot API.
func (b *BotAPI) Call(ctx context.Context, method string, params map[string]interface{}) (string, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(params).
		Post("/" + method)
	if err != nil {
		return "", fmt.Errorf("telegram API call %s failed: %w", method, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("telegram API call %s: status %d", method, resp.StatusCode())
	}
	return resp.String(), nil
}

// SendMessage sends a text message to a chat.
func (b *BotAPI) SendMessage(ctx context.Context, chatID int64, text string) (string, error) {
	return b.Call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"text":       text,
		"parse_mode": "HTML",
	})
}
