// internal/notify/notify.go
// Package notify pushes operator alerts to Telegram. The notifier is
// deliberately best-effort: alert failures are logged and dropped, never
// propagated into the turn pipeline.
package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/warroom/internal/types"
)

const maxTelegramMessage = 4096

// Notifier sends operator alerts for terminal errors, identity disclosures,
// and watchdog interventions. A nil Notifier is a no-op, so callers never
// need guard checks.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// New creates a Telegram notifier. Returns nil (disabled) when token or
// chatID is unset.
func New(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID, logger: logger}, nil
}

// TurnError reports a turn that ended in a pipeline failure.
func (n *Notifier) TurnError(sessionID types.SessionID, message string) {
	n.send(fmt.Sprintf("⚠️ turn failed\nsession: %s\n%s", sessionID, message))
}

// Disclosure reports that a raw identity disclosure was served.
func (n *Notifier) Disclosure(sessionID types.SessionID, userID string) {
	n.send(fmt.Sprintf("🪪 identity disclosure served\nsession: %s\nuser: %s", sessionID, userID))
}

// WatchdogKill reports a stalled session forced into the error state.
func (n *Notifier) WatchdogKill(sessionID types.SessionID, reason string) {
	n.send(fmt.Sprintf("🐕 watchdog intervention\nsession: %s\n%s", sessionID, reason))
}

func (n *Notifier) send(text string) {
	if n == nil {
		return
	}
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(n.chatID, part)
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Warn("telegram alert failed", "error", err)
			return
		}
	}
}

// splitMessage chops text into Telegram-sized chunks.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		parts = append(parts, text[:maxTelegramMessage])
		text = text[maxTelegramMessage:]
	}
	if len(text) > 0 {
		parts = append(parts, text)
	}
	return parts
}
