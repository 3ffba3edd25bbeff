package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/loykin/runsvc/internal/logger"
)

const (
	childPlanEnv = "RUNSVC_CHILD_PLAN"
	childArgv0   = "runsvc-child: "
)

// childPlan is everything a child needs to finish its own setup.
type childPlan struct {
	Spec Spec          `json:"spec"`
	Log  logger.Config `json:"log"`
}

// IsChild reports whether this process was started by a Launcher and must
// run ChildMain instead of the normal program.
func IsChild() bool {
	_, ok := os.LookupEnv(childPlanEnv)
	return ok
}

// ChildMain is the child side of a launch. It never returns: it either
// replaces the process image with the service executable or exits with
// ExitChdirFailed, ExitPrepareFailed, ExitPlanInvalid or ExitExecFailed.
func ChildMain() {
	plan, err := readPlan()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "runsvc child: %v\n", err)
		os.Exit(ExitPlanInvalid)
	}
	log, closer, err := logger.New(plan.Log)
	if err != nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	log = log.With("service", plan.Spec.Name, "pid", os.Getpid())
	exit := func(code int) {
		if closer != nil {
			_ = closer.Close()
		}
		os.Exit(code)
	}

	if err := markInheritedCloseOnExec(); err != nil {
		log.Warn("cannot mark inherited file descriptors close-on-exec", "error", err)
	}
	if err := unix.Chdir(plan.Spec.WorkDir); err != nil {
		log.Error("failed on changing work directory", "dir", plan.Spec.WorkDir, "error", err)
		exit(ExitChdirFailed)
	}
	if plan.Spec.Prepare != "" {
		if err := runPrepare(plan.Spec.Prepare); err != nil {
			log.Error("cannot prepare runtime environment", "hook", plan.Spec.Prepare, "error", err)
			exit(ExitPrepareFailed)
		}
	}
	_ = os.Unsetenv(childPlanEnv)
	// descriptors opened by the runtime, the log sink included, carry
	// O_CLOEXEC and do not leak into the service
	err = unix.Exec(plan.Spec.Path, plan.Spec.Argv, os.Environ())
	log.Error("cannot execute target program", "path", plan.Spec.Path, "error", err)
	exit(ExitExecFailed)
}

func readPlan() (childPlan, error) {
	var plan childPlan
	raw := os.Getenv(childPlanEnv)
	if raw == "" {
		return plan, errors.New("missing launch plan")
	}
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return plan, fmt.Errorf("decode launch plan: %w", err)
	}
	if len(plan.Spec.Argv) == 0 || plan.Spec.Path == "" {
		return plan, errors.New("launch plan has no command")
	}
	return plan, nil
}

func runPrepare(name string) error {
	fn, ok := LookupPrepare(name)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownPrepare, name)
	}
	return fn()
}
