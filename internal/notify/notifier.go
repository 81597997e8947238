package notify

import (
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trade_exec/pkg/logger"
)

// Notifier — алерты наружу. Ядро шлёт только текст, канал доставки не его забота.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Telegram — пассивный нотифайер: только исходящие алерты, команд не слушаем.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	_, _ = t.bot.Send(tgbot.NewMessage(t.chatID, msg))
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Stdout — фоллбэк, когда TELEGRAM_* не заданы.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Send(msg string) { logger.Info("[NOTIFY] %s", msg) }

func (s *Stdout) Sendf(format string, args ...any) { s.Send(fmt.Sprintf(format, args...)) }
