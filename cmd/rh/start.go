package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/relayhub/internal/config"
	"github.com/zulandar/relayhub/internal/dashboard"
	"github.com/zulandar/relayhub/internal/logging"
	"github.com/zulandar/relayhub/internal/opslog"
	"github.com/zulandar/relayhub/internal/relay"
	"github.com/zulandar/relayhub/internal/relay/discord"
	"github.com/zulandar/relayhub/internal/relay/telegram"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay hub",
		Long: "Connects the hub bot, starts a session for every registered bot and " +
			"relays messages until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relayhub.yaml", "path to relayhub config file")
	return cmd
}

// newConnectors builds the platform connectors the hub supports.
func newConnectors(log *logrus.Logger) relay.Connectors {
	return relay.NewConnectors(
		telegram.NewConnector(telegram.ConnectorOpts{Log: log}),
		discord.NewConnector(discord.ConnectorOpts{Log: log}),
	)
}

func runStart(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := logrus.New()
	logCloser, err := logging.Setup(log, cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Info("shutdown requested")
			cancel()
		case <-ctx.Done():
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reporter, closeReporter, err := newReporter(cfg.Ops, log)
	if err != nil {
		return err
	}
	defer closeReporter()

	daemon, err := relay.NewDaemon(relay.DaemonOpts{
		Config:     cfg,
		Store:      st,
		Connectors: newConnectors(log),
		Reporter:   reporter,
		Log:        log,
		Out:        cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return daemon.Run(gctx)
	})
	if cfg.Dashboard.Enabled {
		g.Go(func() error {
			return dashboard.Start(gctx, dashboard.StartOpts{
				Store:    st,
				Sessions: daemon,
				Port:     cfg.Dashboard.Port,
				Out:      cmd.OutOrStdout(),
			})
		})
	}
	return g.Wait()
}

// newReporter builds the operational event reporter: always the process log,
// plus an AMQP exchange when one is configured.
func newReporter(cfg config.OpsConfig, log *logrus.Logger) (*opslog.Reporter, func(), error) {
	reporter := opslog.NewReporter(log, opslog.LogSink{Log: log})
	if cfg.AMQPURL == "" {
		return reporter, func() {}, nil
	}
	sink, err := opslog.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, fmt.Errorf("ops amqp: %w", err)
	}
	reporter.AddSink(sink)
	return reporter, func() { sink.Close() }, nil
}
