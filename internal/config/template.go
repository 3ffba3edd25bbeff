package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/loykin/runsvc/internal/logger"
)

// Template is the sample configuration written by `runsvc config init`.
func Template() FileConfig {
	return FileConfig{
		KillSubject: "group",
		PIDFile:     "/run/runsvc.pid",
		Log: logger.Config{
			Sink:  logger.SinkConsole,
			Level: "info",
		},
		Services: []ServiceConfig{
			{
				Name:          "sleep-10",
				WorkDirectory: "/tmp",
				Command:       []string{"/bin/sleep", "10"},
			},
		},
	}
}

// WriteTemplate encodes fc as TOML.
func WriteTemplate(w io.Writer, fc FileConfig) error {
	return toml.NewEncoder(w).Encode(fc)
}

// WriteTemplateFile writes the sample configuration to path. An existing file
// is only replaced when force is set.
func WriteTemplateFile(path string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return err
	}
	if err := WriteTemplate(f, Template()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
