package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommandHandler(t *testing.T) (*CommandHandler, *registrarFixture) {
	t.Helper()
	f := newRegistrarFixture(t)
	h, err := NewCommandHandler(CommandHandlerOpts{Registrar: f.reg, Log: quietLogger()})
	require.NoError(t, err)
	return h, f
}

func TestNewCommandHandler_RequiresRegistrar(t *testing.T) {
	_, err := NewCommandHandler(CommandHandlerOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registrar is required")
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		name string
		args []string
	}{
		{"/start", "start", []string{}},
		{"  /connect  123:abc ", "connect", []string{"123:abc"}},
		{"/addadmin@ContactHubBot @shop 42", "addadmin", []string{"@shop", "42"}},
		{"/HELP", "help", []string{}},
		{"hello", "", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, args := parseCommand(tt.in)
			assert.Equal(t, tt.name, name)
			if tt.args == nil {
				assert.Nil(t, args)
			} else {
				assert.Equal(t, tt.args, append([]string{}, args...))
			}
		})
	}
}

func TestExecute_StartAndHelp(t *testing.T) {
	h, _ := newTestCommandHandler(t)
	ctx := context.Background()

	assert.Contains(t, h.Execute(ctx, "u1", "/start"), "Welcome to the Contact Hub Bot!")
	assert.Contains(t, h.Execute(ctx, "u1", "/help"), "/addadmin <bot> <admin_id>")
	assert.Contains(t, h.Execute(ctx, "u1", "/frobnicate"), "Unknown command: /frobnicate")
}

func TestExecute_ConnectFlow(t *testing.T) {
	h, f := newTestCommandHandler(t)
	ctx := context.Background()

	assert.Equal(t, "Usage: /connect <bot_token> or /connect discord <bot_token>", h.Execute(ctx, "owner", "/connect"))
	assert.Equal(t, "Invalid bot token. Please check and try again.", h.Execute(ctx, "owner", "/connect nope"))
	assert.Equal(t, "Bot connected successfully: @ShopBot", h.Execute(ctx, "owner", "/connect tok-1"))
	assert.Equal(t, "This bot is already connected.", h.Execute(ctx, "other", "/connect tok-1"))
	assert.Equal(t, "Unsupported platform. Use telegram or discord.", h.Execute(ctx, "owner", "/connect discord tok-2"))

	bot, err := f.store.GetBot(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "owner", bot.OwnerID)
}

func TestExecute_MyBots(t *testing.T) {
	h, f := newTestCommandHandler(t)
	ctx := context.Background()

	assert.Contains(t, h.Execute(ctx, "owner", "/mybots"), "no connected bots")
	putBot(t, f.store, "tok-1", "shopbot", "owner")
	putBot(t, f.store, "tok-without-handle-123", "", "owner")

	out := h.Execute(ctx, "owner", "/mybots")
	assert.Contains(t, out, "@shopbot (telegram)")
	assert.Contains(t, out, "tok-…-123 (telegram)")
	assert.NotContains(t, out, "tok-without-handle-123")
}

func TestExecute_AdminCommands(t *testing.T) {
	h, f := newTestCommandHandler(t)
	ctx := context.Background()
	putBot(t, f.store, "tok-1", "shopbot", "owner")

	assert.Equal(t, "Usage: /addadmin <bot> <admin_id>", h.Execute(ctx, "owner", "/addadmin tok-1"))
	assert.Equal(t, "You are not the owner of this bot.", h.Execute(ctx, "intruder", "/addadmin tok-1 intruder"))
	assert.Equal(t, "Admin 42 added.", h.Execute(ctx, "owner", "/addadmin @shopbot 42"))
	assert.Equal(t, "Admins:\n42", h.Execute(ctx, "owner", "/admins @shopbot"))
	assert.Equal(t, "Admin 42 removed.", h.Execute(ctx, "owner", "/deladmin tok-1 42"))
	assert.Equal(t, "That user is not an admin of this bot.", h.Execute(ctx, "owner", "/deladmin tok-1 42"))
	assert.Equal(t, "No admins. Messages go to you only.", h.Execute(ctx, "owner", "/admins tok-1"))
}

func TestExecute_StatsAndDisconnect(t *testing.T) {
	h, f := newTestCommandHandler(t)
	ctx := context.Background()
	putBot(t, f.store, "tok-1", "shopbot", "owner", "a1")

	assert.Equal(t, "@shopbot\nSubscribers: 0\nAdmins: 1", h.Execute(ctx, "owner", "/stats @shopbot"))
	assert.Equal(t, "You are not the owner of this bot.", h.Execute(ctx, "a1", "/disconnect tok-1"))
	assert.Equal(t, "Bot disconnected.", h.Execute(ctx, "owner", "/disconnect @shopbot"))
	assert.Contains(t, h.Execute(ctx, "owner", "/mybots"), "no connected bots")
}
