package notify

import (
	"context"
	"fmt"

	"sana/internal/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// templates maps a template name to a message format. Payload keys are
// substituted by renderTemplate.
var templates = map[string]string{
	"booking_upcoming":      "Напоминание: ваша сессия начинается %s (бронирование #%s).",
	"booking_review":        "Как прошла сессия #%s? Поделитесь впечатлением — это займёт минуту.",
	"group_session_summary": "Групповая сессия #%s скоро начнётся: записано участников — %s.",
	"payout_completed":      "Выплата по партии %s завершена: %s.",
	"payout_failed":         "Выплата по партии %s не прошла: %s.",
}

// TelegramNotifier delivers reminders and payout notices through the bot API.
// Recipient IDs are telegram chat ids.
type TelegramNotifier struct {
	bot       *tgbotapi.BotAPI
	opsChatID int64
	logger    zerolog.Logger
}

func NewTelegramNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug

	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "notifier").Logger()
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier authorized")

	return &TelegramNotifier{
		bot:       bot,
		opsChatID: cfg.OpsChatID,
		logger:    log,
	}, nil
}

func renderTemplate(template string, payload map[string]string) string {
	switch template {
	case "booking_upcoming":
		return fmt.Sprintf(templates[template], payload["start_time"], payload["booking_id"])
	case "booking_review":
		return fmt.Sprintf(templates[template], payload["booking_id"])
	case "group_session_summary":
		return fmt.Sprintf(templates[template], payload["session_id"], payload["attendees"])
	case "payout_completed", "payout_failed":
		return fmt.Sprintf(templates[template], payload["batch_id"], payload["detail"])
	default:
		return fmt.Sprintf("%s: %v", template, payload)
	}
}

func (n *TelegramNotifier) Send(ctx context.Context, recipientID int64, template string, payload map[string]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	msg := tgbotapi.NewMessage(recipientID, renderTemplate(template, payload))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// SendBatch delivers the same rendered message to every recipient. The first
// failure aborts so the dispatcher can reopen and retry the whole group.
func (n *TelegramNotifier) SendBatch(ctx context.Context, recipientIDs []int64, template string, payload map[string]string) error {
	text := renderTemplate(template, payload)
	for _, id := range recipientIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg := tgbotapi.NewMessage(id, text)
		if _, err := n.bot.Send(msg); err != nil {
			return fmt.Errorf("failed to send batch notification to %d: %w", id, err)
		}
	}
	return nil
}

// NotifyOps posts an operational alert to the ops chat. Best effort.
func (n *TelegramNotifier) NotifyOps(text string) {
	if n.opsChatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(n.opsChatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("ops notification error")
	}
}
