package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zulandar/relayhub/internal/config"
	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/opslog"
	"github.com/zulandar/relayhub/internal/store"
)

// Daemon is the hub process. It opens the hub bot session and answers its
// commands, runs a session per managed bot, and prunes old mappings.
type Daemon struct {
	cfg        *config.Config
	store      store.Store
	connectors Connectors
	reporter   *opslog.Reporter
	log        *logrus.Logger
	out        io.Writer

	router    *Router
	mux       *Multiplexer
	registrar *Registrar
	commands  *CommandHandler
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config     *config.Config
	Store      store.Store
	Connectors Connectors
	Reporter   *opslog.Reporter // defaults to a log-only reporter
	Log        *logrus.Logger
	Out        io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon and wires the relay components.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("relay: config is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	if _, err := opts.Connectors.Get(models.PlatformTelegram); err != nil {
		return nil, fmt.Errorf("relay: hub bot needs a telegram connector: %w", err)
	}
	d := &Daemon{
		cfg:        opts.Config,
		store:      opts.Store,
		connectors: opts.Connectors,
		reporter:   opts.Reporter,
		log:        opts.Log,
		out:        opts.Out,
	}
	if d.log == nil {
		d.log = logrus.StandardLogger()
	}
	if d.out == nil {
		d.out = os.Stdout
	}
	if d.reporter == nil {
		d.reporter = opslog.NewReporter(d.log, opslog.LogSink{Log: d.log})
	}

	var err error
	d.router, err = NewRouter(RouterOpts{
		Store:             d.store,
		Reporter:          d.reporter,
		Log:               d.log,
		FanoutConcurrency: d.cfg.Relay.FanoutConcurrency,
	})
	if err != nil {
		return nil, err
	}
	d.mux, err = NewMultiplexer(MultiplexerOpts{
		Connectors: d.connectors,
		Router:     d.router,
		Reporter:   d.reporter,
		Log:        d.log,
	})
	if err != nil {
		return nil, err
	}
	d.registrar, err = NewRegistrar(RegistrarOpts{
		Store:        d.store,
		Connectors:   d.connectors,
		Sessions:     d.mux,
		Reporter:     d.reporter,
		Log:          d.log,
		ProbeTimeout: d.cfg.Relay.ProbeTimeout(),
		Reserved:     []string{d.cfg.Hub.BotToken},
	})
	if err != nil {
		return nil, err
	}
	d.commands, err = NewCommandHandler(CommandHandlerOpts{Registrar: d.registrar, Log: d.log})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Sessions returns a snapshot of managed bot sessions.
func (d *Daemon) Sessions() []SessionInfo {
	return d.mux.Sessions()
}

// Run opens the hub session, starts every stored bot and serves hub commands
// until ctx is cancelled. On shutdown it waits up to the configured grace for
// in-flight relays and commands.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Relay hub connecting...\n")
	hubConn, _ := d.connectors.Get(models.PlatformTelegram)
	hub, err := hubConn.Open(ctx, models.ManagedBot{
		Credential: d.cfg.Hub.BotToken,
		Platform:   models.PlatformTelegram,
	})
	if err != nil {
		return fmt.Errorf("relay: open hub session: %w", err)
	}
	if d.cfg.Hub.LogChannelID != "" {
		d.reporter.AddSink(opslog.ChannelSink{Poster: sessionPoster{m: hub}, ChannelID: d.cfg.Hub.LogChannelID})
	}

	bots, err := d.store.ListBots(ctx, "")
	if err != nil {
		_ = hub.Close()
		return fmt.Errorf("relay: load bots: %w", err)
	}
	started := d.mux.Start(ctx, bots)

	var pruner *Pruner
	if d.cfg.Retention.Enabled {
		pruner, err = NewPruner(PrunerOpts{
			Store:    d.store,
			MaxAge:   d.cfg.Retention.MaxAge(),
			Reporter: d.reporter,
			Log:      d.log,
		})
		if err == nil {
			err = pruner.Start(ctx, d.cfg.Retention.Cron)
		}
		if err != nil {
			d.log.WithError(err).Error("relay: retention disabled")
			pruner = nil
		}
	}

	fmt.Fprintf(d.out, "Relay hub online as @%s (%d/%d bots)\n", hub.Identity().Handle, started, len(bots))

	var commands sync.WaitGroup
	var runErr error
	updates := hub.Updates()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case u, ok := <-updates:
			if !ok {
				d.log.Warn("relay: hub update stream ended")
				runErr = ErrHubStreamEnded
				break loop
			}
			if !isCommand(u) {
				continue
			}
			commands.Add(1)
			go func() {
				defer commands.Done()
				d.handleCommand(context.WithoutCancel(ctx), hub, u)
			}()
		}
	}

	fmt.Fprintf(d.out, "Relay hub shutting down...\n")
	if pruner != nil {
		pruner.Stop()
	}
	grace := d.cfg.Relay.ShutdownGrace()
	shutdownErr := d.mux.Shutdown(grace)
	if errors.Is(shutdownErr, ErrShutdownTimeout) {
		d.log.WithField("grace", grace).Warn("relay: in-flight relays abandoned")
	}
	commands.Wait()
	if err := hub.Close(); err != nil {
		d.log.WithError(err).Warn("relay: close hub session")
	}
	fmt.Fprintf(d.out, "Relay hub stopped\n")
	return runErr
}

func isCommand(u Update) bool {
	return u.IsCommand || strings.HasPrefix(strings.TrimSpace(u.Text), "/")
}

// handleCommand answers one hub command in the chat it came from.
func (d *Daemon) handleCommand(ctx context.Context, hub Messenger, u Update) {
	reply := d.commands.Execute(ctx, u.SenderID, u.Text)
	if _, err := hub.Send(ctx, Outbound{ChatID: u.ChatID, Text: reply, ReplyToMessageID: u.MessageID}); err != nil {
		d.log.WithError(err).WithField("chat", u.ChatID).Warn("relay: reply to command failed")
	}
}
