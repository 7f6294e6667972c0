package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"workpulse/internal/agent"
	"workpulse/internal/agent/localstore"
	"workpulse/internal/agent/probe"
	"workpulse/internal/agent/tracker"
	"workpulse/internal/apiclient"
	"workpulse/internal/config"

	"github.com/spf13/cobra"
)

// app is built before any subcommand runs.
type app struct {
	cfg    *config.Agent
	logger *slog.Logger
	store  *localstore.Store
	client *apiclient.Client
	agent  *agent.Agent
}

func (a *app) setup(configPath string) error {
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(a.logger)

	a.store, err = localstore.Open(cfg.Agent.StatePath)
	if err != nil {
		return err
	}
	a.client = apiclient.New(cfg.Server.BaseURL, cfg.Server.Timeout, apiclient.WithLogger(a.logger))
	a.agent = agent.New(a.client, a.store, probe.New(), agent.Config{
		PollInterval: cfg.Agent.PollInterval,
		Tracker: tracker.Config{
			SampleInterval:   cfg.Agent.SampleInterval,
			TransmitInterval: cfg.Agent.TransmitInterval,
			IdleThreshold:    cfg.Agent.IdleThreshold,
			RequestTimeout:   cfg.Server.Timeout,
		},
		ShutdownGrace: cfg.Agent.ShutdownGrace,
	}, a.logger)
	return nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// session loads the stored token for one-shot commands.
func (a *app) session(ctx context.Context) error {
	loggedIn, err := a.agent.LoadSession(ctx)
	if err != nil {
		return err
	}
	if !loggedIn {
		return agent.ErrNotLoggedIn
	}
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var configPath string

	root := &cobra.Command{
		Use:           "workagent",
		Short:         "Desktop attendance and activity agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the agent config file")

	root.AddCommand(
		newRunCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newStartDayCmd(a),
		newEndDayCmd(a),
		newStatusCmd(a),
		newConsentCmd(a),
		newWhoamiCmd(a),
		newSummaryCmd(a),
	)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("WORKAGENT_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "workagent.yaml"
	}
	return dir + string(os.PathSeparator) + "workagent" + string(os.PathSeparator) + "config.yaml"
}
