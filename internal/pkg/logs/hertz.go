package logs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

// hertzLogger feeds the status server's own logging into a Logger. Lines are
// tagged with the component, and hertz's SetLevel only filters hertz lines.
type hertzLogger struct {
	l     Logger
	tag   string
	level atomic.Int32
}

var _ hlog.FullLogger = (*hertzLogger)(nil)

// NewHlogLogger returns a hertz FullLogger writing through l, prefixing
// every line with tag.
func NewHlogLogger(l Logger, tag string) hlog.FullLogger {
	h := &hertzLogger{l: l, tag: tag}
	h.level.Store(int32(DebugLevel))
	return h
}

func (h *hertzLogger) emit(ctx context.Context, level LogLevel, msg string) {
	if level < LogLevel(h.level.Load()) {
		return
	}
	msg = strings.TrimSpace(strings.TrimPrefix(msg, "HERTZ: "))
	if h.tag != "" {
		msg = h.tag + " " + msg
	}
	switch level {
	case DebugLevel:
		h.l.CtxDebug(ctx, "%s", msg)
	case InfoLevel:
		h.l.CtxInfo(ctx, "%s", msg)
	case WarnLevel:
		h.l.CtxWarn(ctx, "%s", msg)
	case ErrorLevel:
		h.l.CtxError(ctx, "%s", msg)
	default:
		h.l.CtxFatal(ctx, "%s", msg)
	}
}

func (h *hertzLogger) Trace(v ...interface{}) {
	h.emit(context.Background(), DebugLevel, fmt.Sprint(v...))
}
func (h *hertzLogger) Debug(v ...interface{}) {
	h.emit(context.Background(), DebugLevel, fmt.Sprint(v...))
}
func (h *hertzLogger) Info(v ...interface{}) {
	h.emit(context.Background(), InfoLevel, fmt.Sprint(v...))
}
func (h *hertzLogger) Notice(v ...interface{}) {
	h.emit(context.Background(), InfoLevel, fmt.Sprint(v...))
}
func (h *hertzLogger) Warn(v ...interface{}) {
	h.emit(context.Background(), WarnLevel, fmt.Sprint(v...))
}
func (h *hertzLogger) Error(v ...interface{}) {
	h.emit(context.Background(), ErrorLevel, fmt.Sprint(v...))
}
func (h *hertzLogger) Fatal(v ...interface{}) {
	h.emit(context.Background(), FatalLevel, fmt.Sprint(v...))
}

func (h *hertzLogger) Tracef(format string, v ...interface{}) {
	h.emit(context.Background(), DebugLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) Debugf(format string, v ...interface{}) {
	h.emit(context.Background(), DebugLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) Infof(format string, v ...interface{}) {
	h.emit(context.Background(), InfoLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) Noticef(format string, v ...interface{}) {
	h.emit(context.Background(), InfoLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) Warnf(format string, v ...interface{}) {
	h.emit(context.Background(), WarnLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) Errorf(format string, v ...interface{}) {
	h.emit(context.Background(), ErrorLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) Fatalf(format string, v ...interface{}) {
	h.emit(context.Background(), FatalLevel, fmt.Sprintf(format, v...))
}

// Request scoped lines keep the log id the status middleware put on ctx.

func (h *hertzLogger) CtxTracef(ctx context.Context, format string, v ...interface{}) {
	h.emit(ctx, DebugLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) CtxDebugf(ctx context.Context, format string, v ...interface{}) {
	h.emit(ctx, DebugLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) CtxInfof(ctx context.Context, format string, v ...interface{}) {
	h.emit(ctx, InfoLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) CtxNoticef(ctx context.Context, format string, v ...interface{}) {
	h.emit(ctx, InfoLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) CtxWarnf(ctx context.Context, format string, v ...interface{}) {
	h.emit(ctx, WarnLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) CtxErrorf(ctx context.Context, format string, v ...interface{}) {
	h.emit(ctx, ErrorLevel, fmt.Sprintf(format, v...))
}
func (h *hertzLogger) CtxFatalf(ctx context.Context, format string, v ...interface{}) {
	h.emit(ctx, FatalLevel, fmt.Sprintf(format, v...))
}

func (h *hertzLogger) SetLevel(level hlog.Level) {
	var own LogLevel
	switch level {
	case hlog.LevelTrace, hlog.LevelDebug:
		own = DebugLevel
	case hlog.LevelInfo, hlog.LevelNotice:
		own = InfoLevel
	case hlog.LevelWarn:
		own = WarnLevel
	case hlog.LevelError:
		own = ErrorLevel
	default:
		own = FatalLevel
	}
	h.level.Store(int32(own))
}

// SetOutput is ignored; the wrapped Logger owns its writers.
func (h *hertzLogger) SetOutput(io.Writer) {}
