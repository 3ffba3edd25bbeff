package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/loykin/runsvc"
	cfg "github.com/loykin/runsvc/internal/config"
)

type command struct {
	out io.Writer
	// opts are passed to runsvc.New; tests use them to keep signals and
	// the default registry alone.
	opts []runsvc.Option
}

// load reads the configuration and applies command-line overrides.
func (c command) load(f RunFlags) (*runsvc.Config, error) {
	conf, err := runsvc.LoadConfig(f.ConfigPath, f.ServiceFiles...)
	if err != nil {
		return nil, err
	}
	if f.KillSubject != "" {
		ks, err := runsvc.ParseKillSubject(f.KillSubject)
		if err != nil {
			return nil, err
		}
		conf.KillSubject = ks
	}
	if f.LogSink != "" {
		conf.Log.Sink = f.LogSink
	}
	if f.LogLevel != "" {
		conf.Log.Level = f.LogLevel
	}
	if f.PIDFile != "" {
		conf.PIDFile = f.PIDFile
	}
	return conf, nil
}

// Run supervises until the supervisor is told to stop.
func (c command) Run(ctx context.Context, f RunFlags) error {
	conf, err := c.load(f)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return runsvc.Run(ctx, conf, c.opts...)
}

type validateOutput struct {
	KillSubject runsvc.KillSubject `json:"kill_subject"`
	PIDFile     string             `json:"pid_file,omitempty"`
	Services    []runsvc.Spec      `json:"services"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// Validate prints the resolved service definitions as JSON.
func (c command) Validate(f ValidateFlags) error {
	conf, err := runsvc.LoadConfig(f.ConfigPath, f.ServiceFiles...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.writer())
	enc.SetIndent("", "  ")
	return enc.Encode(validateOutput{
		KillSubject: conf.KillSubject,
		PIDFile:     conf.PIDFile,
		Services:    conf.Specs,
		Warnings:    conf.Warnings,
	})
}

// ConfigInit writes the sample configuration.
func (c command) ConfigInit(f ConfigInitFlags) error {
	if err := cfg.WriteTemplateFile(f.Output, f.Force); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.writer(), "Configuration written: %s\n", f.Output)
	_, _ = fmt.Fprintf(c.writer(), "Check it with: runsvc validate --config %s\n", f.Output)
	return nil
}
