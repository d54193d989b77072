// Package gateway assembles one bot runtime: the Kahla client, the event
// channel transport, the configured policy, the operator console and the
// optional status server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hzprom "github.com/hertz-contrib/monitor-prometheus"

	"github.com/tgifai/kahlabot"
	"github.com/tgifai/kahlabot/internal/bot"
	"github.com/tgifai/kahlabot/internal/bots"
	"github.com/tgifai/kahlabot/internal/config"
	"github.com/tgifai/kahlabot/internal/console"
	"github.com/tgifai/kahlabot/internal/kahla"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
	"github.com/tgifai/kahlabot/internal/pkg/prometheus"
	"github.com/tgifai/kahlabot/internal/stargate"
)

const (
	metricsPath   = "/metrics"
	statusTimeout = 10 * time.Second
)

type Options struct {
	Config   *config.Config
	Settings config.Settings
	Reader   console.LineReader
	Out      io.Writer
}

type Gateway struct {
	cfg        *config.Config
	sm         *bot.SessionManager
	console    *console.Console
	httpServer *hzServer.Hertz

	mu        sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc

	stopOnce sync.Once
}

func NewGateway(opts Options) (*Gateway, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("gateway requires a config")
	}
	if opts.Reader == nil || opts.Out == nil {
		return nil, errors.New("gateway requires a console reader and output")
	}

	policy, err := bots.New(cfg.Bot.Type, cfg.Bot.Config)
	if err != nil {
		return nil, fmt.Errorf("build bot %q: %w", cfg.Bot.Type, err)
	}

	timeout := time.Duration(cfg.Server.Timeout) * time.Second
	client := kahla.NewClient(kahla.WithTimeout(timeout))
	dialer := stargate.NewDialer(cfg.Server.WSAttempts, timeout)

	router := console.NewRouter()
	con := console.New(opts.Reader, opts.Out, router)

	sm, err := bot.NewSessionManager(bot.Options{
		Service:    client,
		Settings:   opts.Settings,
		Prompter:   con,
		Policy:     policy,
		Transport:  dialer,
		APIVersion: kahlabot.APIVersion,
	})
	if err != nil {
		return nil, err
	}
	console.RegisterBuiltins(router, sm, opts.Out)

	gw := &Gateway{
		cfg:     cfg,
		sm:      sm,
		console: con,
	}
	if cfg.Status.Enabled {
		gw.httpServer = newStatusServer(cfg.Status, sessionStatus{sm: sm},
			hzServer.WithTracer(hzprom.NewServerTracer(cfg.Status.MetricsBind, metricsPath,
				hzprom.WithRegistry(prometheus.GetRegistry()))),
		)
	}
	return gw, nil
}

func (gw *Gateway) SessionManager() *bot.SessionManager {
	return gw.sm
}

// Start brings up the status server and begins connecting in the background.
// The handshake prompts through the console, so Run must be serving it.
func (gw *Gateway) Start(ctx context.Context) error {
	gw.mu.Lock()
	gw.runCtx, gw.runCancel = context.WithCancel(ctx)
	runCtx := gw.runCtx
	gw.mu.Unlock()

	if gw.httpServer != nil {
		hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger(), "[status]"))
		go gw.httpServer.Spin()
		logs.CtxInfo(ctx, "[gateway] status server listening on %s, metrics on %s%s",
			gw.cfg.Status.Bind, gw.cfg.Status.MetricsBind, metricsPath)
	}

	go func() {
		connectCtx := logs.WithNewLogID(runCtx)
		if err := gw.sm.Connect(connectCtx); err != nil {
			if runCtx.Err() != nil {
				return
			}
			logs.CtxError(connectCtx, "[gateway] connect failed: %v, type `reconnect` to try again", err)
		}
	}()
	return nil
}

// Run starts the runtime and serves the console until the operator exits or
// ctx ends.
func (gw *Gateway) Run(ctx context.Context) error {
	if err := gw.Start(ctx); err != nil {
		return err
	}
	gw.mu.Lock()
	runCtx := gw.runCtx
	gw.mu.Unlock()
	return gw.console.Run(runCtx)
}

func (gw *Gateway) Stop(ctx context.Context) error {
	gw.stopOnce.Do(func() {
		gw.sm.Channel().RequestShutdown()
		gw.mu.Lock()
		if gw.runCancel != nil {
			gw.runCancel()
		}
		gw.mu.Unlock()

		if err := gw.console.Close(); err != nil {
			logs.CtxWarn(ctx, "[gateway] close console error: %v", err)
		}

		if gw.httpServer != nil {
			if err := gw.httpServer.Shutdown(ctx); err != nil {
				logs.CtxWarn(ctx, "[gateway] shutdown status server error: %v", err)
			}
		}

		logs.CtxInfo(ctx, "[gateway] all resources stopped")
	})
	return nil
}
