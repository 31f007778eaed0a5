package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/replydesk/internal/collision"
	"github.com/xaenox/replydesk/internal/drafter"
	"github.com/xaenox/replydesk/internal/inbox"
	"github.com/xaenox/replydesk/internal/notify"
	"go.uber.org/zap"
)

// Bot lets staff claim, release and answer conversations from Telegram.
type Bot struct {
	api     *tgbotapi.BotAPI
	sender  notify.Sender
	claims  *collision.Service
	inbox   *inbox.Service
	drafter drafter.Drafter
	logger  *zap.Logger
}

func New(api *tgbotapi.BotAPI, claims *collision.Service, inbox *inbox.Service, d drafter.Drafter, logger *zap.Logger) *Bot {
	b := NewWithSender(api, claims, inbox, d, logger)
	b.api = api
	return b
}

// NewWithSender builds a bot that only sends; Start needs New.
func NewWithSender(sender notify.Sender, claims *collision.Service, inbox *inbox.Service, d drafter.Drafter, logger *zap.Logger) *Bot {
	if d == nil {
		d = drafter.NewTemplateDrafter()
	}
	return &Bot{
		sender:  sender,
		claims:  claims,
		inbox:   inbox,
		drafter: d,
		logger:  logger,
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return errors.New("bot has no telegram api")
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
			go b.HandleMessage(ctx, update.Message)
		}
	}
}

func staffID(from *tgbotapi.User) string {
	if from == nil {
		return ""
	}
	if from.UserName != "" {
		return from.UserName
	}
	return strconv.FormatInt(from.ID, 10)
}

// HandleMessage runs one staff command.
func (b *Bot) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	if !message.IsCommand() {
		b.sendMessage(message.Chat.ID, "Use /help to see available commands.")
		return
	}

	user := staffID(message.From)
	if user == "" {
		b.sendErrorMessage(message.Chat.ID, "I can't tell who you are.")
		return
	}
	ctx = collision.WithUser(ctx, user)
	args := strings.Fields(message.CommandArguments())

	switch message.Command() {
	case "start", "help":
		b.handleHelp(message)
	case "assign":
		b.handleAssign(ctx, message, args)
	case "takeover":
		b.handleTakeOver(ctx, message, args)
	case "release":
		b.handleRelease(ctx, message, args)
	case "status":
		b.handleStatus(ctx, message, args)
	case "reply":
		b.handleReply(ctx, message, args)
	case "draft":
		b.handleDraft(ctx, message, args)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/assign <thread> <message> - Assign a message to yourself
/takeover <thread> <message> - Take over from whoever holds it
/release <thread> <message> - Release your claim
/status <thread> - Show who is handling a conversation
/reply <thread> <message|-> <text> - Reply to a guest
/draft <thread> <guest text> - Suggest a reply

Claims expire automatically after 30 minutes of inactivity.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleAssign(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) != 2 {
		b.sendMessage(message.Chat.ID, "Usage: /assign <thread> <message>")
		return
	}

	res, err := b.claims.AssignToMe(ctx, args[0], args[1])
	if err != nil {
		b.logger.Error("Failed to assign",
			zap.Error(err),
			zap.String("thread_id", args[0]))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't assign that conversation.")
		return
	}

	if !res.Assigned {
		b.sendMessage(message.Chat.ID, fmt.Sprintf(
			"Message already assigned to %s. Use /takeover %s %s to take it over.",
			res.Current.AssignedTo, args[0], args[1]))
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Conversation %s is assigned to you.", args[0]))
}

func (b *Bot) handleTakeOver(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) != 2 {
		b.sendMessage(message.Chat.ID, "Usage: /takeover <thread> <message>")
		return
	}

	res, err := b.claims.TakeOver(ctx, args[0], args[1])
	if err != nil {
		b.logger.Error("Failed to take over",
			zap.Error(err),
			zap.String("thread_id", args[0]))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't take over that conversation.")
		return
	}

	text := fmt.Sprintf("You took over conversation %s.", args[0])
	if res.Previous != nil && res.Previous.AssignedTo != res.Current.AssignedTo {
		text = fmt.Sprintf("You took over conversation %s from %s.", args[0], res.Previous.AssignedTo)
	}
	b.sendMessage(message.Chat.ID, text)
}

func (b *Bot) handleRelease(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) != 2 {
		b.sendMessage(message.Chat.ID, "Usage: /release <thread> <message>")
		return
	}

	if err := b.claims.Release(ctx, args[0], args[1]); err != nil {
		b.logger.Error("Failed to release",
			zap.Error(err),
			zap.String("thread_id", args[0]))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't release that conversation.")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Conversation %s released.", args[0]))
}

func (b *Bot) handleStatus(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) != 1 {
		b.sendMessage(message.Chat.ID, "Usage: /status <thread>")
		return
	}

	status, err := b.claims.Status(ctx, args[0])
	if err != nil {
		b.logger.Error("Failed to get status",
			zap.Error(err),
			zap.String("thread_id", args[0]))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't look that conversation up.")
		return
	}

	switch {
	case !status.IsAssigned:
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Conversation %s is unassigned.", args[0]))
	case status.CanTakeOver:
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Conversation %s is handled by %s since %s.",
			args[0], status.AssignedTo, status.AssignedAt.UTC().Format("15:04 MST")))
	default:
		b.sendMessage(message.Chat.ID, fmt.Sprintf("You are handling conversation %s.", args[0]))
	}
}

func (b *Bot) handleReply(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) < 3 {
		b.sendMessage(message.Chat.ID, "Usage: /reply <thread> <message|-> <text>")
		return
	}

	in := inbox.ReplyInput{
		ThreadID: args[0],
		ReplyTo:  args[1],
		Body:     strings.Join(args[2:], " "),
	}
	if in.ReplyTo == "-" {
		in.ReplyTo = ""
	}

	msg, err := b.inbox.SendReply(ctx, in)
	var blocked *inbox.BlockedError
	switch {
	case errors.As(err, &blocked):
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Not sent: %s is handling this conversation.", blocked.Holder))
	case err != nil:
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.String("thread_id", in.ThreadID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't send your reply. Please try again.")
	default:
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Reply sent to %s.", msg.ThreadID))
	}
}

func (b *Bot) handleDraft(ctx context.Context, message *tgbotapi.Message, args []string) {
	if len(args) < 2 {
		b.sendMessage(message.Chat.ID, "Usage: /draft <thread> <guest text>")
		return
	}

	staff, _ := collision.UserFromContext(ctx)
	reply, err := b.drafter.Draft(ctx, drafter.DraftRequest{
		ThreadID:     args[0],
		GuestMessage: strings.Join(args[1:], " "),
		StaffName:    staff,
	})
	if err != nil {
		b.logger.Error("Failed to draft reply",
			zap.Error(err),
			zap.String("thread_id", args[0]))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't draft a reply.")
		return
	}
	b.sendMessage(message.Chat.ID, reply)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.sendMessage(chatID, "⚠️ "+text)
}
