package verifier

import (
	"context"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramChatAPI adapts a telego bot to the ChatAPI surface.
type TelegramChatAPI struct {
	bot *telego.Bot
}

func NewTelegramChatAPI(bot *telego.Bot) *TelegramChatAPI {
	return &TelegramChatAPI{bot: bot}
}

func (t *TelegramChatAPI) MemberStatus(ctx context.Context, chatID string, userID int64) (string, error) {
	member, err := t.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: toChatID(chatID),
		UserID: userID,
	})
	if err != nil {
		return "", err
	}
	return member.MemberStatus(), nil
}

func (t *TelegramChatAPI) ChatInfo(ctx context.Context, chatID string) (*ChatInfo, error) {
	chat, err := t.bot.GetChat(ctx, &telego.GetChatParams{ChatID: toChatID(chatID)})
	if err != nil {
		return nil, err
	}
	return &ChatInfo{
		Username:   chat.Username,
		InviteLink: chat.InviteLink,
	}, nil
}

func (t *TelegramChatAPI) CreateInviteLink(ctx context.Context, chatID string) (string, error) {
	link, err := t.bot.CreateChatInviteLink(ctx, &telego.CreateChatInviteLinkParams{
		ChatID: toChatID(chatID),
	})
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

// toChatID maps the registry's normalized chat id strings to telego's
// ChatID union: @username entries stay usernames, numeric ids are parsed.
func toChatID(chatID string) telego.ChatID {
	if len(chatID) > 0 && chatID[0] == '@' {
		return tu.Username(chatID)
	}
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return tu.ID(id)
	}
	return tu.Username(chatID)
}
