//go:build !windows && !plan9

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"log/syslog"
	"strings"
	"sync"
)

// SyslogWriter is the subset of *syslog.Writer the handler needs.
type SyslogWriter interface {
	Err(m string) error
	Warning(m string) error
	Notice(m string) error
	Debug(m string) error
}

func dialSyslog(tag string) (*syslog.Writer, error) {
	return syslog.New(syslog.LOG_USER|syslog.LOG_NOTICE, tag)
}

// SyslogHandler renders records as logfmt and hands them to syslog with a
// priority derived from the level: error->LOG_ERR, warn->LOG_WARNING,
// info->LOG_NOTICE, debug->LOG_DEBUG.
type SyslogHandler struct {
	w     SyslogWriter
	mu    *sync.Mutex
	buf   *bytes.Buffer
	inner slog.Handler
}

func NewSyslogHandler(w SyslogWriter, opts *slog.HandlerOptions) *SyslogHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	// syslog stamps time and priority itself.
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
			return slog.Attr{}
		}
		return a
	}
	buf := &bytes.Buffer{}
	return &SyslogHandler{w: w, mu: &sync.Mutex{}, buf: buf, inner: slog.NewTextHandler(buf, &o)}
}

func (h *SyslogHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *SyslogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	line := strings.TrimRight(h.buf.String(), "\n")
	switch {
	case r.Level >= slog.LevelError:
		return h.w.Err(line)
	case r.Level >= slog.LevelWarn:
		return h.w.Warning(line)
	case r.Level >= slog.LevelInfo:
		return h.w.Notice(line)
	default:
		return h.w.Debug(line)
	}
}

func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SyslogHandler{w: h.w, mu: h.mu, buf: h.buf, inner: h.inner.WithAttrs(attrs)}
}

func (h *SyslogHandler) WithGroup(name string) slog.Handler {
	return &SyslogHandler{w: h.w, mu: h.mu, buf: h.buf, inner: h.inner.WithGroup(name)}
}
