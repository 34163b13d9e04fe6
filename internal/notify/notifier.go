package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/pkg/telegram"
)

// Notifier delivers customer and admin messages. Delivery failures are
// reported but callers treat them as non-fatal; billing never blocks on
// a message.
type Notifier interface {
	SendToCustomer(ctx context.Context, telegramID int64, text string) error
	SendToAdmin(ctx context.Context, text string) error
}

// TelegramNotifier sends messages through the Telegram Bot API.
type TelegramNotifier struct {
	api     *telegram.BotAPI
	adminID int64
	log     *zap.Logger
}

func NewTelegramNotifier(token string, adminID int64, log *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		api:     telegram.NewBotAPI(token),
		adminID: adminID,
		log:     log,
	}
}

func (n *TelegramNotifier) SendToCustomer(ctx context.Context, telegramID int64, text string) error {
	_, err := n.api.SendMessage(ctx, telegramID, text)
	if err != nil {
		n.log.Warn("customer notification failed", zap.Int64("telegram_id", telegramID), zap.Error(err))
	}
	return err
}

func (n *TelegramNotifier) SendToAdmin(ctx context.Context, text string) error {
	if n.adminID == 0 {
		return nil
	}
	_, err := n.api.SendMessage(ctx, n.adminID, text)
	if err != nil {
		n.log.Warn("admin notification failed", zap.Error(err))
	}
	return err
}

// NopNotifier drops every message. Used when no bot token is configured
// and in tests.
type NopNotifier struct{}

func (NopNotifier) SendToCustomer(ctx context.Context, telegramID int64, text string) error {
	return nil
}

func (NopNotifier) SendToAdmin(ctx context.Context, text string) error { return nil }
