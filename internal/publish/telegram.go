package publish

import (
	"context"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"postpilot/internal/retry"
)

// TelegramPublisher posts to a Telegram channel or group. "Login" builds the
// bot client (which validates the token against getMe); the bot instance is
// the reusable session handle.
type TelegramPublisher struct {
	ChatID  int64
	Timeout time.Duration
}

func NewTelegramPublisher(chatID int64, timeout time.Duration) *TelegramPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramPublisher{ChatID: chatID, Timeout: timeout}
}

func (p *TelegramPublisher) Login(ctx context.Context, creds Credentials) (any, error) {
	_ = ctx
	token := strings.TrimSpace(creds.Token)
	if token == "" {
		return nil, retry.NewError(retry.KindAuthFailure, "telegram: bot token is empty")
	}
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		// NewBot fails on an invalid token (401 from getMe) or on network
		// trouble; the classifier sorts out the text.
		return nil, err
	}
	return bot, nil
}

func (p *TelegramPublisher) Publish(ctx context.Context, handle any, req Request) (Receipt, error) {
	bot, ok := handle.(*tele.Bot)
	if !ok || bot == nil {
		return Receipt{}, retry.NewError(retry.KindAuthFailure, "telegram: session handle is not a bot")
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	var (
		msg *tele.Message
		err error
	)
	to := tele.ChatID(p.ChatID)
	switch {
	case req.ImagePath != "":
		msg, err = bot.Send(to, &tele.Photo{File: tele.FromDisk(req.ImagePath), Caption: req.Text})
	case req.VideoPath != "":
		msg, err = bot.Send(to, &tele.Video{File: tele.FromDisk(req.VideoPath), Caption: req.Text})
	default:
		msg, err = bot.Send(to, req.Text, &tele.SendOptions{DisableWebPagePreview: true})
	}
	if err != nil {
		if flood, ok := err.(tele.FloodError); ok {
			return Receipt{}, retry.NewError(retry.KindRateLimited,
				"telegram: flood limit, retry after "+strconv.Itoa(flood.RetryAfter)+"s")
		}
		return Receipt{}, err
	}

	ref := ""
	if msg != nil {
		ref = "tg:" + strconv.Itoa(msg.ID)
	}
	return Receipt{Ref: ref, PostedAt: time.Now()}, nil
}
