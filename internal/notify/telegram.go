package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"salonbook/internal/calendar"
	"salonbook/internal/config"
	"salonbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// StaffAlerter posts booking changes into the salon staff chats.
type StaffAlerter struct {
	bot      botSender
	chatIDs  []int64
	resolver *calendar.Resolver
	logger   zerolog.Logger
}

// NewStaffAlerter connects to the Bot API. It returns nil when no token or
// chats are configured.
func NewStaffAlerter(cfg config.TelegramConfig, resolver *calendar.Resolver, logger *zerolog.Logger) (*StaffAlerter, error) {
	if cfg.BotToken == "" || len(cfg.ChatIDs) == 0 {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	api.Debug = cfg.Debug
	return newStaffAlerter(api, cfg.ChatIDs, resolver, logger), nil
}

func newStaffAlerter(bot botSender, chatIDs []int64, resolver *calendar.Resolver, logger *zerolog.Logger) *StaffAlerter {
	return &StaffAlerter{
		bot:      bot,
		chatIDs:  chatIDs,
		resolver: resolver,
		logger:   componentLogger(logger, "telegram"),
	}
}

// Alert sends the message to every configured chat. Reminders are not posted.
func (a *StaffAlerter) Alert(_ context.Context, kind string, p *models.NotificationPayload) error {
	text := a.render(kind, p)
	if text == "" {
		return nil
	}

	var errs []error
	for _, chatID := range a.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := a.bot.Send(msg); err != nil {
			a.logger.Error().Err(err).Int64("chat_id", chatID).Str("appointment_id", p.AppointmentID).Msg("staff alert failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (a *StaffAlerter) render(kind string, p *models.NotificationPayload) string {
	var head string
	switch kind {
	case models.NotificationConfirmation:
		head = "📅 Новая запись"
	case models.NotificationCancellation:
		head = "❌ Запись отменена"
	default:
		return ""
	}

	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Клиент: %s", p.ClientName)
	if p.ClientEmail != "" {
		fmt.Fprintf(&b, " (%s)", p.ClientEmail)
	}
	fmt.Fprintf(&b, "\nУслуга: %s\nМастер: %s\nВремя: %s - %s",
		p.ServiceName, p.StylistName,
		a.resolver.Format(p.Start), a.resolver.LocalTimeOfDay(p.End))
	if p.Notes != "" {
		fmt.Fprintf(&b, "\nКомментарий: %s", p.Notes)
	}
	return b.String()
}
