package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/kahlabot"
	"github.com/tgifai/kahlabot/internal/config"
	"github.com/tgifai/kahlabot/internal/console"
	"github.com/tgifai/kahlabot/internal/consts"
	"github.com/tgifai/kahlabot/internal/gateway"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
)

const historyFileName = "history"

var runHwd = &RunRunner{}

type RunRunner struct{}

func (r *RunRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Sign in, open the event channel and serve the operator console",
		Action: r.run,
	}
}

func (r *RunRunner) run(ctx context.Context, cmd *cli.Command) error {
	cfgPath := cmd.String(configFlag.Name)

	ins, err := config.LoadOrInit(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}
	cfg, err := ins.Get()
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}

	if err = r.initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}

	rl, err := console.NewReadline(filepath.Join(consts.HomeDir(), historyFileName))
	if err != nil {
		return err
	}

	logs.CtxInfo(ctx, "booting kahlabot %s (%s bot), using config file: %s...", kahlabot.VERSION, cfg.Bot.Type, ins.Path())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gw, err := gateway.NewGateway(gateway.Options{
		Config:   cfg,
		Settings: ins.Settings(),
		Reader:   rl,
		Out:      rl.Stdout(),
	})
	if err != nil {
		_ = rl.Close()
		return fmt.Errorf("build runtime: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- gw.Run(ctx)
	}()

	logs.CtxInfo(ctx, "ALL IS WELL!!! Type `help` for commands, `exit` or Ctrl+C to stop.")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "Received shutdown signal (%s). Stopping runtime...", sig.String())
	case err = <-done:
		if err != nil {
			logs.CtxError(ctx, "console stopped: %v", err)
		}
	}

	if err = gw.Stop(context.Background()); err != nil {
		logs.CtxError(ctx, "stop runtime error: %v", err)
	}

	logs.CtxInfo(ctx, "all stopped, good bye!")
	logs.Flush()
	return nil
}

func (r *RunRunner) initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})
}
