package logs

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

func TestHlogLogger_TagsLinesAndKeepsLogID(t *testing.T) {
	l, err := newConfiguredLogger(Options{Level: "debug", Output: "stdout"})
	if err != nil {
		t.Fatalf("newConfiguredLogger() error = %v", err)
	}
	var buf bytes.Buffer
	l.(*defaultLogger).stdout.swap(&buf)

	h := NewHlogLogger(l, "[status]")
	ctx := l.SetLogID(context.Background(), "log-42")
	h.CtxInfof(ctx, "HERTZ: served %s", "/status")
	h.Warn("disk at 100% full")

	out := buf.String()
	if !strings.Contains(out, "log-42") || !strings.Contains(out, "[status] served /status") {
		t.Fatalf("ctx line = %q", out)
	}
	if strings.Contains(out, "HERTZ:") {
		t.Fatalf("hertz prefix kept: %q", out)
	}
	if !strings.Contains(out, "[status] disk at 100% full") {
		t.Fatalf("plain line = %q", out)
	}
}

func TestHlogLogger_SetLevelFiltersOnlyHertz(t *testing.T) {
	l, err := newConfiguredLogger(Options{Level: "debug", Output: "stdout"})
	if err != nil {
		t.Fatalf("newConfiguredLogger() error = %v", err)
	}
	var buf bytes.Buffer
	l.(*defaultLogger).stdout.swap(&buf)

	h := NewHlogLogger(l, "[status]")
	h.SetLevel(hlog.LevelWarn)
	h.Infof("dropped %d", 1)
	h.Errorf("kept %d", 2)
	l.Info("[session] still %s", "logged")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "[status] kept 2") {
		t.Fatalf("hertz lines = %q", out)
	}
	if l.GetLevel() != DebugLevel || !strings.Contains(out, "[session] still logged") {
		t.Fatalf("bot logger level changed: %v, %q", l.GetLevel(), out)
	}
}
