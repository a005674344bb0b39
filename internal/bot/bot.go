// Package bot connects the message pipeline to Telegram.
package bot

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xaenox/teadesk-bot/internal/models"
)

// Sender is the part of the Telegram API used for outbound traffic.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api     *tgbotapi.BotAPI
	sender  Sender
	selfID  int64
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(token string, sendRate float64, sendBurst int, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Authorized on Telegram", zap.String("username", api.Self.UserName))

	b := NewWithSender(api, sendRate, sendBurst, logger)
	b.api = api
	b.selfID = api.Self.ID
	return b, nil
}

// NewWithSender builds an outbound-only bot around s.
func NewWithSender(s Sender, sendRate float64, sendBurst int, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sendBurst <= 0 {
		sendBurst = 1
	}
	limit := rate.Inf
	if sendRate > 0 {
		limit = rate.Limit(sendRate)
	}
	return &Bot{
		sender:  s,
		limiter: rate.NewLimiter(limit, sendBurst),
		logger:  logger,
	}
}

// Start receives updates until ctx is cancelled and hands every private
// message to dispatch.
func (b *Bot) Start(ctx context.Context, dispatch func(context.Context, models.InboundMessage)) error {
	if b.api == nil {
		return fmt.Errorf("bot has no update source")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			msg, ok := ToInbound(update.Message, b.selfID)
			if !ok {
				continue
			}
			dispatch(ctx, msg)
		}
	}
}

// ToInbound converts a Telegram message. It reports false for messages
// without text.
func ToInbound(m *tgbotapi.Message, selfID int64) (models.InboundMessage, bool) {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" || m.Chat == nil {
		return models.InboundMessage{}, false
	}

	msg := models.InboundMessage{
		Sender:  models.Sender(strconv.FormatInt(m.Chat.ID, 10)),
		Text:    text,
		IsGroup: !m.Chat.IsPrivate(),
		SentAt:  m.Time(),
	}
	if m.From != nil {
		msg.DisplayName = displayName(m.From)
		msg.IsSelf = m.From.ID == selfID
	}
	if r := m.ReplyToMessage; r != nil {
		msg.HasQuote = true
		msg.QuotedText = r.Text
		if msg.QuotedText == "" {
			msg.QuotedText = r.Caption
		}
	}
	return msg, true
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func chatID(to models.Sender) (int64, error) {
	id, err := strconv.ParseInt(string(to), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	return id, nil
}

func (b *Bot) SendText(ctx context.Context, to models.Sender, text string) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	return b.send(ctx, tgbotapi.NewMessage(id, text), id)
}

func (b *Bot) SendFile(ctx context.Context, to models.Sender, name string, r io.Reader) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(id, tgbotapi.FileReader{Name: name, Reader: r})
	return b.send(ctx, doc, id)
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable, id int64) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := b.sender.Send(c); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", id))
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
