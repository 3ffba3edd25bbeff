package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"err", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_FileSinkRotatesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runsvc.log")
	log, closer, err := New(Config{Sink: SinkFile, File: path, Level: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if closer == nil {
		t.Fatalf("file sink must return a closer")
	}
	ljw, ok := closer.(*lj.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer, got %T", closer)
	}
	if ljw.MaxSize != DefaultMaxSizeMB || ljw.MaxBackups != DefaultMaxBackups || ljw.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", ljw)
	}

	log.Debug("service started", "service", "web", "pid", 42)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "service=web") || !strings.Contains(out, "pid=42") {
		t.Fatalf("unexpected log content: %s", out)
	}
}

func TestNew_FileSinkRequiresPath(t *testing.T) {
	if _, _, err := New(Config{Sink: SinkFile}); err == nil {
		t.Fatalf("expected error without log.file")
	}
}

func TestNew_RejectsUnknownSinkAndLevel(t *testing.T) {
	if _, _, err := New(Config{Sink: "kafka"}); err == nil {
		t.Fatalf("expected error for unknown sink")
	}
	if _, _, err := New(Config{Level: "chatty"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNew_ConsoleSink(t *testing.T) {
	for _, c := range []Config{{}, {Sink: "console", NoColor: true}} {
		log, closer, err := New(c)
		if err != nil {
			t.Fatalf("New(%+v): %v", c, err)
		}
		if log == nil || closer != nil {
			t.Fatalf("console sink should return a logger and no closer")
		}
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h).With("service", "web")

	log.Warn("restart too frequently")
	out := buf.String()
	if !strings.HasPrefix(out, "\033[33mWARN\033[0m  msg=\"restart too frequently\"") {
		t.Fatalf("missing colored prefix: %q", out)
	}
	if strings.Contains(out, "time=") || strings.Contains(out, "level=") {
		t.Fatalf("time and level keys should be dropped: %q", out)
	}
	if !strings.Contains(out, "service=web") {
		t.Fatalf("WithAttrs lost: %q", out)
	}

	buf.Reset()
	slog.New(h).WithGroup("g").Error("boom", "k", "v")
	if !strings.Contains(buf.String(), "\033[31mERROR") || !strings.Contains(buf.String(), "g.k=v") {
		t.Fatalf("unexpected group output: %q", buf.String())
	}

	buf.Reset()
	slog.New(NewColorTextHandler(&buf, nil, true)).Info("hi")
	if !strings.Contains(buf.String(), "time=") {
		t.Fatalf("showTime should keep the time key: %q", buf.String())
	}
}
