package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/runsvc/internal/logger"
	"github.com/loykin/runsvc/internal/manager"
	"github.com/loykin/runsvc/internal/process"
)

// EnvPrefix is the prefix of environment variables that override top-level
// scalar settings, e.g. RUNSVC_KILL_SUBJECT or RUNSVC_LOG_LEVEL.
const EnvPrefix = "RUNSVC"

// ErrNoServices is returned when neither the main file nor any service file
// defines a service.
var ErrNoServices = errors.New("no services defined")

// FileConfig is the on-disk shape of the main configuration file.
type FileConfig struct {
	KillSubject  string          `toml:"kill_subject" mapstructure:"kill_subject"`
	PIDFile      string          `toml:"pid_file,omitempty" mapstructure:"pid_file"`
	Env          []string        `toml:"env,omitempty" mapstructure:"env"`
	EnvFiles     []string        `toml:"env_files,omitempty" mapstructure:"env_files"`
	ServiceFiles []string        `toml:"service_files,omitempty" mapstructure:"service_files"`
	Log          logger.Config   `toml:"log" mapstructure:"log"`
	Metrics      MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History      HistoryConfig   `toml:"history" mapstructure:"history"`
	Services     []ServiceConfig `toml:"services" mapstructure:"services"`
}

type MetricsConfig struct {
	// Textfile is rewritten after every tick in node_exporter textfile format.
	Textfile string `toml:"textfile,omitempty" mapstructure:"textfile"`
}

type HistoryConfig struct {
	DSN       string `toml:"dsn,omitempty" mapstructure:"dsn"`
	QueueSize int    `toml:"queue_size,omitempty" mapstructure:"queue_size"`
}

// ServiceConfig is one service definition, either inline under [[services]]
// or as a standalone service file.
type ServiceConfig struct {
	Name          string   `toml:"name" mapstructure:"name" json:"name"`
	WorkDirectory string   `toml:"work_directory" mapstructure:"work_directory" json:"work_directory"`
	Command       []string `toml:"command" mapstructure:"command" json:"command"`
	Prepare       string   `toml:"prepare,omitempty" mapstructure:"prepare" json:"prepare,omitempty"`
	Env           []string `toml:"env,omitempty" mapstructure:"env" json:"env,omitempty"`
}

// Spec converts the definition; the first command element is both the
// executable path and argv[0].
func (sc ServiceConfig) Spec() process.Spec {
	s := process.FromCommand(strings.TrimSpace(sc.Name), sc.WorkDirectory, sc.Command)
	s.Prepare = strings.TrimSpace(sc.Prepare)
	s.Env = append([]string(nil), sc.Env...)
	return s
}

// Config is the validated result of Load.
type Config struct {
	Path            string
	KillSubject     manager.KillSubject
	PIDFile         string
	Log             logger.Config
	MetricsTextfile string
	History         HistoryConfig
	Specs           []process.Spec
	// Warnings are non-fatal findings the caller should log once the logger
	// exists.
	Warnings []string
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	if t := configType(path); t != "" {
		v.SetConfigType(t)
	}
	return v
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// LoadFile reads the main configuration file without validating it.
// RUNSVC_* environment variables override top-level scalars.
func LoadFile(path string) (*FileConfig, error) {
	v := newViper(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// keys must be known to viper for AutomaticEnv to apply on Unmarshal
	v.SetDefault("kill_subject", "group")
	v.SetDefault("pid_file", "")
	v.SetDefault("log.sink", logger.SinkConsole)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.syslog_tag", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("history.dsn", "")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &fc, nil
}

// LoadServiceFile reads one standalone service definition.
func LoadServiceFile(path string) (ServiceConfig, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return ServiceConfig{}, fmt.Errorf("read service file %s: %w", path, err)
	}
	var sc ServiceConfig
	if err := v.Unmarshal(&sc); err != nil {
		return ServiceConfig{}, fmt.Errorf("decode service file %s: %w", path, err)
	}
	return sc, nil
}

// Load reads the main file at path plus every service file it references
// (globs relative to the file's directory) and every extra service file, and
// validates the result. Paths named in definitions are not checked for
// existence; a missing work directory or executable is the child's failure.
func Load(path string, extraServiceFiles ...string) (*Config, error) {
	fc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)

	services := append([]ServiceConfig(nil), fc.Services...)
	files, err := expandServiceFiles(base, fc.ServiceFiles)
	if err != nil {
		return nil, err
	}
	files = append(files, extraServiceFiles...)
	for _, f := range files {
		sc, err := LoadServiceFile(f)
		if err != nil {
			return nil, err
		}
		services = append(services, sc)
	}
	if len(services) == 0 {
		return nil, ErrNoServices
	}

	subject, err := manager.ParseKillSubject(fc.KillSubject)
	if err != nil {
		return nil, err
	}
	if _, err := logger.ParseLevel(fc.Log.Level); err != nil {
		return nil, err
	}

	global, err := globalEnv(base, fc)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Path:            path,
		KillSubject:     subject,
		PIDFile:         fc.PIDFile,
		Log:             fc.Log,
		MetricsTextfile: fc.Metrics.Textfile,
		History:         fc.History,
	}
	seen := make(map[string]bool, len(services))
	for _, sc := range services {
		s := sc.Spec()
		if len(global) > 0 {
			s.Env = process.MergeEnv(global, s.Env)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate service name %q", s.Name)
		}
		seen[s.Name] = true
		cfg.Warnings = append(cfg.Warnings, s.Warnings()...)
		cfg.Specs = append(cfg.Specs, s)
	}
	return cfg, nil
}

func expandServiceFiles(base string, patterns []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("service_files pattern %q: %w", p, err)
		}
		if len(matches) == 0 && !hasMeta(p) {
			return nil, fmt.Errorf("service file %s: %w", p, os.ErrNotExist)
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

func hasMeta(p string) bool { return strings.ContainsAny(p, `*?[\`) }

// globalEnv merges env_files (in order) and then top-level env entries. The
// result is merged in front of every service's own env; service entries win.
func globalEnv(base string, fc *FileConfig) ([]string, error) {
	if len(fc.EnvFiles) == 0 && len(fc.Env) == 0 {
		return nil, nil
	}
	m := map[string]string{}
	for _, p := range fc.EnvFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("env entry %q must be KEY=VALUE", kv)
		}
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines. Blank lines and lines starting with #
// are ignored; an optional leading "export " is stripped.
func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	m := map[string]string{}
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", n)
		}
		m[k] = strings.TrimSpace(v)
	}
	return m, sc.Err()
}
