package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zulandar/relayhub/internal/models"
)

const helpText = `Commands:
/connect <bot_token> - connect a Telegram bot you own
/connect discord <bot_token> - connect a Discord bot you own
/mybots - list your connected bots
/addadmin <bot> <admin_id> - let a user receive and answer messages
/deladmin <bot> <admin_id> - remove an admin
/admins <bot> - list admins
/stats <bot> - subscriber and admin counts
/disconnect <bot> - stop relaying and forget a bot

<bot> is the bot token or its @username.`

// CommandHandler answers chat commands sent to the hub bot.
type CommandHandler struct {
	registrar *Registrar
	log       *logrus.Logger
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Registrar *Registrar
	Log       *logrus.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Registrar == nil {
		return nil, fmt.Errorf("relay: command handler: registrar is required")
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CommandHandler{registrar: opts.Registrar, log: log}, nil
}

// Execute runs a "/command args..." line from requesterID and returns the
// text to reply with.
func (h *CommandHandler) Execute(ctx context.Context, requesterID, text string) string {
	name, args := parseCommand(text)
	switch name {
	case "start":
		return "Welcome to the Contact Hub Bot!\n\n" + helpText
	case "help":
		return helpText
	case "connect":
		return h.cmdConnect(ctx, requesterID, args)
	case "mybots":
		return h.cmdMyBots(ctx, requesterID)
	case "addadmin":
		return h.cmdAddAdmin(ctx, requesterID, args)
	case "deladmin":
		return h.cmdDelAdmin(ctx, requesterID, args)
	case "admins":
		return h.cmdAdmins(ctx, requesterID, args)
	case "stats":
		return h.cmdStats(ctx, requesterID, args)
	case "disconnect":
		return h.cmdDisconnect(ctx, requesterID, args)
	case "":
		return helpText
	default:
		return fmt.Sprintf("Unknown command: /%s\n\n%s", name, helpText)
	}
}

// parseCommand splits "/name@hubbot a b" into ("name", [a b]).
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}

func (h *CommandHandler) cmdConnect(ctx context.Context, requesterID string, args []string) string {
	platform, token := models.PlatformTelegram, ""
	switch len(args) {
	case 1:
		token = args[0]
	case 2:
		platform, token = strings.ToLower(args[0]), args[1]
	default:
		return "Usage: /connect <bot_token> or /connect discord <bot_token>"
	}

	id, err := h.registrar.Register(ctx, platform, token, requesterID)
	if err != nil {
		return h.errorText(err)
	}
	if id.Handle == "" {
		return "Bot connected successfully."
	}
	return fmt.Sprintf("Bot connected successfully: @%s", id.Handle)
}

func (h *CommandHandler) cmdMyBots(ctx context.Context, requesterID string) string {
	bots, err := h.registrar.ListBots(ctx, requesterID)
	if err != nil {
		return h.errorText(err)
	}
	if len(bots) == 0 {
		return "You have no connected bots. Use /connect <bot_token> to add one."
	}
	var b strings.Builder
	b.WriteString("Your bots:")
	for _, bot := range bots {
		fmt.Fprintf(&b, "\n%s (%s)", BotLabel(bot), bot.Platform)
	}
	return b.String()
}

func (h *CommandHandler) cmdAddAdmin(ctx context.Context, requesterID string, args []string) string {
	if len(args) != 2 {
		return "Usage: /addadmin <bot> <admin_id>"
	}
	if err := h.registrar.GrantAdmin(ctx, args[0], requesterID, args[1]); err != nil {
		return h.errorText(err)
	}
	return fmt.Sprintf("Admin %s added.", args[1])
}

func (h *CommandHandler) cmdDelAdmin(ctx context.Context, requesterID string, args []string) string {
	if len(args) != 2 {
		return "Usage: /deladmin <bot> <admin_id>"
	}
	if err := h.registrar.RevokeAdmin(ctx, args[0], requesterID, args[1]); err != nil {
		return h.errorText(err)
	}
	return fmt.Sprintf("Admin %s removed.", args[1])
}

func (h *CommandHandler) cmdAdmins(ctx context.Context, requesterID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /admins <bot>"
	}
	admins, err := h.registrar.ListAdmins(ctx, args[0], requesterID)
	if err != nil {
		return h.errorText(err)
	}
	if len(admins) == 0 {
		return "No admins. Messages go to you only."
	}
	return "Admins:\n" + strings.Join(admins, "\n")
}

func (h *CommandHandler) cmdStats(ctx context.Context, requesterID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /stats <bot>"
	}
	st, err := h.registrar.Stats(ctx, args[0], requesterID)
	if err != nil {
		return h.errorText(err)
	}
	return fmt.Sprintf("%s\nSubscribers: %d\nAdmins: %d", BotLabel(st.Bot), st.Subscribers, st.Admins)
}

func (h *CommandHandler) cmdDisconnect(ctx context.Context, requesterID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /disconnect <bot>"
	}
	if err := h.registrar.Disconnect(ctx, args[0], requesterID); err != nil {
		return h.errorText(err)
	}
	return "Bot disconnected."
}

// errorText maps registrar errors to user-facing replies. Unexpected errors
// are logged and answered generically.
func (h *CommandHandler) errorText(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredential):
		return "Invalid bot token. Please check and try again."
	case errors.Is(err, ErrAlreadyRegistered):
		return "This bot is already connected."
	case errors.Is(err, ErrNotOwner):
		return "You are not the owner of this bot."
	case errors.Is(err, ErrUnsupportedPlatform):
		return "Unsupported platform. Use telegram or discord."
	case errors.Is(err, ErrNotAdmin):
		return "That user is not an admin of this bot."
	}
	h.log.WithError(err).Error("relay: command failed")
	return "Something went wrong. Please try again later."
}
