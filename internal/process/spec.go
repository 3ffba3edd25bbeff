package process

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Spec describes one managed service. It is immutable once the supervision
// loop has started; only the owning Record's runtime state changes.
type Spec struct {
	Name    string   `json:"name"`
	WorkDir string   `json:"work_directory"`  // absolute directory the child changes into before exec
	Path    string   `json:"executable_path"` // exec target, resolved like execv (no PATH lookup)
	Argv    []string `json:"argv"`            // argv[0] is conventionally the program name
	Prepare string   `json:"prepare,omitempty"`
	Env     []string `json:"env,omitempty"` // extra KEY=VALUE entries appended to the inherited environment
}

// FromCommand builds a Spec the way service definition files describe one:
// the first command element is both the executable path and argv[0].
func FromCommand(name, workDir string, command []string) Spec {
	s := Spec{Name: name, WorkDir: workDir}
	if len(command) > 0 {
		s.Path = command[0]
		s.Argv = append([]string(nil), command...)
	}
	return s
}

// Validate checks the structural fields only. Whether WorkDir or Path exist
// is deliberately left to the child: those failures surface as exit codes.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("service name is required")
	}
	if s.WorkDir == "" {
		return fmt.Errorf("service %s: work_directory is required", s.Name)
	}
	if s.Path == "" || len(s.Argv) == 0 {
		return fmt.Errorf("service %s: command is required", s.Name)
	}
	for _, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("service %s: env entry %q must be KEY=VALUE", s.Name, kv)
		}
	}
	if s.Prepare != "" {
		if _, ok := LookupPrepare(s.Prepare); !ok {
			return fmt.Errorf("service %s: %w %q", s.Name, ErrUnknownPrepare, s.Prepare)
		}
	}
	return nil
}

// Warnings reports non-fatal oddities worth surfacing to the operator.
func (s Spec) Warnings() []string {
	var out []string
	if s.Path != "" && !filepath.IsAbs(s.Path) {
		out = append(out, fmt.Sprintf("service %s: executable %q is not an absolute path; it is resolved against %s", s.Name, s.Path, s.WorkDir))
	}
	if s.WorkDir != "" && !filepath.IsAbs(s.WorkDir) {
		out = append(out, fmt.Sprintf("service %s: work_directory %q is not absolute", s.Name, s.WorkDir))
	}
	return out
}
