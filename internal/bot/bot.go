package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"refgate-bot/internal/config"
	"refgate-bot/internal/coordinator"
	"refgate-bot/internal/ledger"
	"refgate-bot/internal/registry"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Broadcast pacing: a pause after every batch keeps the send rate under
// transport throttling limits.
const (
	broadcastBatchSize = 30
	broadcastPause     = 1 * time.Second
)

type Bot struct {
	Instance    *telego.Bot
	Coordinator *coordinator.Coordinator
	Ledger      *ledger.Ledger
	Registry    *registry.Registry
	Config      *config.Config
	username    string
}

func NewBot(token string, coord *coordinator.Coordinator, l *ledger.Ledger, reg *registry.Registry, cfg *config.Config) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		Instance:    tgBot,
		Coordinator: coord,
		Ledger:      l,
		Registry:    reg,
		Config:      cfg,
	}, nil
}

func (b *Bot) Start() {
	if info, err := b.Instance.GetMe(context.Background()); err == nil {
		b.username = info.Username
	} else {
		log.Printf("Failed to fetch bot username: %v", err)
	}

	updates, _ := b.Instance.UpdatesViaLongPolling(context.Background(), nil)

	handler, _ := th.NewBotHandler(b.Instance, updates)

	// /start command, with optional REF<id> payload
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		userID := message.From.ID

		// Parse arguments manually
		payload := ""
		if parts := strings.Split(message.Text, " "); len(parts) > 1 {
			payload = parts[1]
		}

		outcome := b.Coordinator.HandleEntry(ctx.Context(), userID, payload)
		b.sendClaimFeedback(ctx, message.Chat.ID, outcome)
		b.renderOutcome(ctx, message.Chat.ID, message.From.FirstName, outcome)
		return nil
	}, th.CommandEqual("start"))

	// Callback for "Verify Join"
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		userID := callback.From.ID

		outcome := b.Coordinator.HandleVerify(ctx.Context(), userID)
		b.renderOutcome(ctx, userID, callback.From.FirstName, outcome)
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("verify_join"))

	// /withdraw <amount> <method>
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		userID := message.From.ID

		parts := strings.Fields(message.Text)
		if len(parts) != 3 {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(message.Chat.ID),
				"Usage: /withdraw <amount> <method>\nExample: /withdraw 10 UPI",
			))
			return nil
		}

		amount, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(message.Chat.ID),
				"❌ Invalid amount. Please enter a number.",
			))
			return nil
		}
		method := parts[2]

		requestID, err := b.Ledger.RecordWithdrawal(userID, amount, method)
		if err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(message.Chat.ID),
				withdrawalErrorText(err),
			))
			return nil
		}

		balance := 0.0
		if user, ok := b.Ledger.UserSnapshot(userID); ok {
			balance = user.Balance
		}
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("✅ Withdrawal request submitted!\n\n💸 Amount: %.2f\n📤 Method: %s\n💰 Remaining balance: %.2f\n\nAn admin will process your request shortly.",
				amount, method, balance),
		))

		// Admin notification stays off the interaction path.
		go b.notifyAdmins(fmt.Sprintf("💸 Withdrawal request %s\nUser: %d\nAmount: %.2f\nMethod: %s", requestID, userID, amount, method))
		return nil
	}, th.CommandEqual("withdraw"))

	// Callback for Balance
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		user := b.Ledger.GetOrCreateUser(callback.From.ID)

		msg := fmt.Sprintf("💰 *Your Balance*\n\n🔹 Balance: %.2f\n🔹 Total earned: %.2f\n🔹 Total withdrawn: %.2f\n\nMinimum withdrawal: %.0f\nUse /withdraw <amount> <method> to cash out.",
			user.Balance, user.TotalEarned, user.TotalWithdrawn, ledger.MinWithdrawal)

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), msg).
			WithParseMode(telego.ModeMarkdown).WithReplyMarkup(backKeyboard()))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("balance"))

	// Callback for Transaction History
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		user := b.Ledger.GetOrCreateUser(callback.From.ID)

		var sb strings.Builder
		sb.WriteString("📜 *Transaction History*\n\n")
		if len(user.Transactions) == 0 {
			sb.WriteString("No transactions yet.")
		} else {
			// Most recent first, capped to keep the message readable.
			shown := 0
			for i := len(user.Transactions) - 1; i >= 0 && shown < 10; i-- {
				tx := user.Transactions[i]
				sign, amount := "+", tx.Amount
				if amount < 0 {
					sign, amount = "-", -amount
				}
				fmt.Fprintf(&sb, "%s%.2f | %s (%s)\n", sign, amount, tx.Description, tx.Date.Format("02.01.2006"))
				shown++
			}
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), sb.String()).
			WithParseMode(telego.ModeMarkdown).WithReplyMarkup(backKeyboard()))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("history"))

	// Callback for Referral Stats
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		user := b.Ledger.GetOrCreateUser(callback.From.ID)

		msg := fmt.Sprintf("🤝 *Your Referrals*\n\n👥 Referred users: %d\n💰 Earned from referrals: %.2f\n\nShare your link and earn %.2f for every friend who joins all channels!",
			user.ReferralCount, float64(user.ReferralCount)*ledger.ReferralBonus, ledger.ReferralBonus)

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), msg).
			WithParseMode(telego.ModeMarkdown).WithReplyMarkup(backKeyboard()))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("referrals"))

	// Callback for Invite Link
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		user := b.Ledger.GetOrCreateUser(callback.From.ID)

		refLink := fmt.Sprintf("https://t.me/%s?start=%s", b.username, user.ReferralCode)
		msg := fmt.Sprintf("🔗 *Your Referral Link*\n\n`%s`\n\nEvery friend who starts the bot through this link and joins all channels earns you %.2f.",
			refLink, ledger.ReferralBonus)

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), msg).
			WithParseMode(telego.ModeMarkdown).WithReplyMarkup(backKeyboard()))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("invite_link"))

	// Callback for Back to Main Menu
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		b.sendMainMenu(ctx, callback.From.ID, callback.From.FirstName)
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("back_to_main"))

	// Admin: /broadcast <text>
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if !b.Config.IsAdmin(message.From.ID) {
			return nil
		}

		text := strings.TrimSpace(strings.TrimPrefix(message.Text, "/broadcast"))
		if text == "" {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "Usage: /broadcast <message>"))
			return nil
		}

		go b.broadcast(message.Chat.ID, text)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "📣 Broadcast started..."))
		return nil
	}, th.CommandEqual("broadcast"))

	// Admin: /listchannels
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if !b.Config.IsAdmin(message.From.ID) {
			return nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📢 *Configured Channels (%d)*\n\n", b.Registry.Len())
		for i, ch := range b.Registry.Channels() {
			fmt.Fprintf(&sb, "%d. %s | `%s`\n", i+1, ch.Name, ch.ChatID)
		}
		if b.Registry.Len() == 0 {
			sb.WriteString("No channels configured, the gate is open.")
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), sb.String()).
			WithParseMode(telego.ModeMarkdown))
		return nil
	}, th.CommandEqual("listchannels"))

	// Admin: /stats
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if !b.Config.IsAdmin(message.From.ID) {
			return nil
		}

		stats := b.Ledger.Stats()
		msg := fmt.Sprintf("📊 *Statistics*\n\n📢 Channels: %d\n👥 Users: %d\n🔗 Referrals: %d\n⏳ Pending referrals: %d\n💰 Total balance: %.2f",
			b.Registry.Len(), stats.Users, stats.Referrals, stats.Pending, stats.TotalBalance)

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), msg).
			WithParseMode(telego.ModeMarkdown))
		return nil
	}, th.CommandEqual("stats"))

	handler.Start()
}

// renderOutcome turns a coordinator outcome into messages and keyboards.
func (b *Bot) renderOutcome(ctx *th.Context, chatID int64, firstName string, outcome coordinator.Outcome) {
	if outcome.Kind == coordinator.JoinPrompt {
		b.sendJoinPrompt(ctx, chatID, firstName, outcome)
		return
	}

	if outcome.WelcomeGranted {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(chatID),
			fmt.Sprintf("🎁 *Welcome bonus!*\n\n%.2f has been credited to your balance for joining all channels.", ledger.WelcomeBonus),
		).WithParseMode(telego.ModeMarkdown))
	}

	if outcome.Promotion != nil {
		// Fired after the mutation committed; reads the post-bonus balance.
		promotion := *outcome.Promotion
		go b.notifyReferrer(promotion)
	}

	b.sendMainMenu(ctx, chatID, firstName)
}

func (b *Bot) sendClaimFeedback(ctx *th.Context, chatID int64, outcome coordinator.Outcome) {
	switch {
	case outcome.ReferralClaimed:
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(chatID),
			fmt.Sprintf("✅ Referral accepted!\n\nYour referrer earns %.2f once you join all required channels.", ledger.ReferralBonus),
		))
	case outcome.AlreadyReferred:
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(chatID),
			"⚠️ You have already been referred before. Referral bonuses only apply to new users.",
		))
	case outcome.ClaimDuplicate:
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(chatID),
			"⚠️ This referral could not be recorded. You may have an earlier claim already.",
		))
	}
}

func (b *Bot) sendJoinPrompt(ctx *th.Context, chatID int64, firstName string, outcome coordinator.Outcome) {
	var rows [][]telego.InlineKeyboardButton
	for _, target := range outcome.Missing {
		if target.Link == "" {
			// No resolvable invite link: omit the button rather than render
			// a dead one.
			log.Printf("No invite link for channel %s, omitting button", target.Channel.ChatID)
			continue
		}
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("📢 "+target.Channel.Name).WithURL(target.Link),
		))
	}

	if len(rows) == 0 {
		// Every link failed to resolve; degrade to the menu so the user is
		// never stuck on an empty prompt.
		log.Printf("No invite links resolvable for user %d, degrading to main menu", chatID)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(chatID),
			"⚠️ We couldn't fetch invite links for the required channels right now. Please try again later.",
		))
		b.sendMainMenu(ctx, chatID, firstName)
		return
	}

	rows = append(rows, tu.InlineKeyboardRow(
		tu.InlineKeyboardButton("✅ Verify Join").WithCallbackData("verify_join"),
	))

	msg := fmt.Sprintf("👋 Welcome, %s!\n\nTo use this bot you need to join %d channel(s).\nAfter joining all of them, tap 'Verify Join' below.",
		firstName, len(outcome.Missing))

	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), msg).
		WithReplyMarkup(&telego.InlineKeyboardMarkup{InlineKeyboard: rows}))
}

func (b *Bot) sendMainMenu(ctx *th.Context, chatID int64, firstName string) {
	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("💰 Balance").WithCallbackData("balance"),
			tu.InlineKeyboardButton("📜 History").WithCallbackData("history"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🤝 Referrals").WithCallbackData("referrals"),
			tu.InlineKeyboardButton("🔗 Invite Link").WithCallbackData("invite_link"),
		),
	)

	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
		tu.ID(chatID),
		fmt.Sprintf("Hi, %s! 👋\n\nInvite friends and earn %.2f per referral.\nUse /withdraw <amount> <method> to cash out (minimum %.0f).",
			firstName, ledger.ReferralBonus, ledger.MinWithdrawal),
	).WithReplyMarkup(keyboard))
}

func (b *Bot) notifyReferrer(p ledger.PromotionResult) {
	_, err := b.Instance.SendMessage(context.Background(), tu.Message(
		tu.ID(p.ReferrerID),
		fmt.Sprintf("🎉 *New referral!*\n\nA friend joined through your link.\n• Bonus: %.2f\n• Total referrals: %d\n💰 Your new balance: %.2f",
			ledger.ReferralBonus, p.ReferralCount, p.ReferrerBalance),
	).WithParseMode(telego.ModeMarkdown))
	if err != nil {
		log.Printf("Failed to notify referrer %d: %v", p.ReferrerID, err)
	}
}

func (b *Bot) notifyAdmins(text string) {
	for _, adminID := range b.Config.AdminIDs {
		_, err := b.Instance.SendMessage(context.Background(), tu.Message(tu.ID(adminID), text))
		if err != nil {
			log.Printf("Failed to notify admin %d: %v", adminID, err)
		}
	}
}

// broadcast fans a message out to every known user in rate-limited batches
// and reports partial-failure counts back to the admin.
func (b *Bot) broadcast(adminChatID int64, text string) {
	ids := b.Ledger.AllUserIDs()
	sent, failed := 0, 0

	for i, userID := range ids {
		_, err := b.Instance.SendMessage(context.Background(), tu.Message(tu.ID(userID), text))
		if err != nil {
			failed++
			log.Printf("Broadcast to %d failed: %v", userID, err)
		} else {
			sent++
		}
		if (i+1)%broadcastBatchSize == 0 {
			time.Sleep(broadcastPause)
		}
	}

	_, _ = b.Instance.SendMessage(context.Background(), tu.Message(
		tu.ID(adminChatID),
		fmt.Sprintf("📣 Broadcast finished: %d sent, %d failed (of %d users)", sent, failed, len(ids)),
	))
}

func withdrawalErrorText(err error) string {
	switch err {
	case ledger.ErrBelowMinimum:
		return fmt.Sprintf("❌ Minimum withdrawal is %.0f.", ledger.MinWithdrawal)
	case ledger.ErrInsufficientBalance:
		return "❌ Insufficient balance for this withdrawal."
	case ledger.ErrInvalidAmount:
		return "❌ Withdrawal amount must be positive."
	default:
		return "❌ Could not process the withdrawal. Please try again."
	}
}

func backKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("« Back").WithCallbackData("back_to_main"),
		),
	)
}
