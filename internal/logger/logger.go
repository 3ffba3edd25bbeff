package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the supervisor's own log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultSyslogTag  = "runsvc"
)

// Sink names accepted in Config.Sink.
const (
	SinkConsole = "console"
	SinkFile    = "file"
	SinkSyslog  = "syslog"
)

// Config selects where the supervisor reports state transitions.
// Rotation parameters follow lumberjack semantics and apply to SinkFile only.
type Config struct {
	Sink       string `json:"sink,omitempty" mapstructure:"sink" toml:"sink"`
	Level      string `json:"level,omitempty" mapstructure:"level" toml:"level"`
	File       string `json:"file,omitempty" mapstructure:"file" toml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" mapstructure:"max_size_mb" toml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" mapstructure:"max_backups" toml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" mapstructure:"max_age_days" toml:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty" mapstructure:"compress" toml:"compress,omitempty"`
	SyslogTag  string `json:"syslog_tag,omitempty" mapstructure:"syslog_tag" toml:"syslog_tag,omitempty"`
	NoColor    bool   `json:"no_color,omitempty" mapstructure:"no_color" toml:"no_color,omitempty"`
}

// New builds the logger for c. The returned closer (possibly nil) releases
// the underlying file or syslog connection.
func New(c Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(c.Sink)) {
	case "", SinkConsole:
		if c.NoColor {
			return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil, nil
		}
		return slog.New(NewColorTextHandler(os.Stderr, opts, true)), nil, nil
	case SinkFile:
		w, err := c.fileWriter()
		if err != nil {
			return nil, nil, err
		}
		return slog.New(slog.NewTextHandler(w, opts)), w, nil
	case SinkSyslog:
		tag := c.SyslogTag
		if tag == "" {
			tag = DefaultSyslogTag
		}
		w, err := dialSyslog(tag)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to syslog: %w", err)
		}
		return slog.New(NewSyslogHandler(w, opts)), w, nil
	default:
		return nil, nil, fmt.Errorf("unknown log sink %q (want console, file or syslog)", c.Sink)
	}
}

func (c Config) fileWriter() (io.WriteCloser, error) {
	if c.File == "" {
		return nil, fmt.Errorf("log sink %q requires log.file", SinkFile)
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

// ParseLevel maps debug/info/warn/error (case-insensitive) to slog levels.
// An empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
