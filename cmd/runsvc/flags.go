package main

// Flag structs decouple cobra from the command logic for testing.

type RunFlags struct {
	ConfigPath   string
	ServiceFiles []string
	KillSubject  string
	LogSink      string
	LogLevel     string
	PIDFile      string
}

type ValidateFlags struct {
	ConfigPath   string
	ServiceFiles []string
}

type ConfigInitFlags struct {
	Output string
	Force  bool
}
