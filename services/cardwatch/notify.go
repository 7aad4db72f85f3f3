package cardwatch

import (
	"context"
	"fmt"
	"html"

	"cardalert-backend/lib/scrapers/ecard"
	"cardalert-backend/lib/telegram"
)

// Notifier delivers messages to the single bound recipient.
type Notifier interface {
	Notify(ctx context.Context, htmlBody string, silent bool) error
}

// TelegramNotifier sends to the chat recorded by the deploy flow.
type TelegramNotifier struct {
	Client *telegram.Client
	ChatID int64
}

func (n TelegramNotifier) Notify(ctx context.Context, htmlBody string, silent bool) error {
	return n.Client.SendMessage(ctx, n.ChatID, htmlBody, telegram.SendOptions{
		HTML:   true,
		Silent: silent,
	})
}

// formatAlert renders one (possibly merged) spending record as the
// Telegram HTML message body.
func formatAlert(t ecard.Transaction) string {
	return fmt.Sprintf(
		"<b>校园卡支出 %s 元</b>\n"+
			"\n"+
			"<b>时间：</b>%s\n"+
			"<b>消费类别：</b>%s\n"+
			"<b>位置：</b>%s\n"+
			"\n"+
			"<b>钱包余额：</b>%s 元",
		ecard.FormatAmount(t.Amount),
		html.EscapeString(t.Time),
		html.EscapeString(t.Category),
		html.EscapeString(t.Location),
		ecard.FormatAmount(t.Balance),
	)
}
