package gateway

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/tgifai/kahlabot/internal/bot"
	botconfig "github.com/tgifai/kahlabot/internal/config"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
)

type statusSource interface {
	Snapshot() bot.SessionSnapshot
	Alive() bool
	Generation() uint64
}

type sessionStatus struct {
	sm *bot.SessionManager
}

func (s sessionStatus) Snapshot() bot.SessionSnapshot { return s.sm.Session().Snapshot() }
func (s sessionStatus) Alive() bool                   { return s.sm.Channel().Alive() }
func (s sessionStatus) Generation() uint64            { return s.sm.Channel().Generation() }

func newStatusServer(cfg botconfig.StatusConfig, source statusSource, opts ...config.Option) *hzServer.Hertz {
	opts = append([]config.Option{
		hzServer.WithHostPorts(cfg.Bind),
		hzServer.WithReadTimeout(statusTimeout),
		hzServer.WithWriteTimeout(statusTimeout),
		hzServer.WithExitWaitTime(5 * time.Second),
		hzServer.WithDisablePrintRoute(true),
	}, opts...)
	h := hzServer.Default(opts...)
	registerStatusRoutes(h, source)
	return h
}

func registerStatusRoutes(h *hzServer.Hertz, source statusSource) {
	h.Use(accessLog)

	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	h.GET("/status", func(ctx context.Context, c *app.RequestContext) {
		snap := source.Snapshot()
		body := utils.H{
			"state":      snap.State.String(),
			"server":     snap.Server,
			"channel":    snap.ChannelAddress != "",
			"pending":    len(snap.Pending),
			"generation": source.Generation(),
			"alive":      source.Alive(),
		}
		if snap.Profile != nil {
			body["user_id"] = snap.Profile.ID
			body["nickname"] = snap.Profile.NickName
		}
		c.JSON(consts.StatusOK, body)
	})
}

// accessLog gives every request its own log id, so hertz lines and the
// access line for one request can be matched up.
func accessLog(ctx context.Context, c *app.RequestContext) {
	ctx = logs.WithNewLogID(ctx)
	start := time.Now()
	c.Next(ctx)
	logs.CtxDebug(ctx, "[status] %s %s %d in %s",
		c.Method(), c.Path(), c.Response.StatusCode(), time.Since(start).Round(time.Microsecond))
}
