package process

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// PrepareFunc runs inside the child after the working-directory change and
// before exec. A non-nil error aborts the child with ExitPrepareFailed.
type PrepareFunc func() error

var (
	hooksMu sync.RWMutex
	hooks   = map[string]PrepareFunc{
		"setsid":  func() error { _, err := unix.Setsid(); return err },
		"setpgid": func() error { return unix.Setpgid(0, 0) },
	}
)

// RegisterPrepare makes fn available to service specs under name. Children
// are re-executions of the supervisor binary, so hooks must be registered
// unconditionally at program start (an init function or the top of main),
// never conditionally on parent-only state.
func RegisterPrepare(name string, fn PrepareFunc) {
	if name == "" || fn == nil {
		panic("process: RegisterPrepare requires a name and a function")
	}
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if _, dup := hooks[name]; dup {
		panic(fmt.Sprintf("process: prepare hook %q registered twice", name))
	}
	hooks[name] = fn
}

func LookupPrepare(name string) (PrepareFunc, bool) {
	hooksMu.RLock()
	fn, ok := hooks[name]
	hooksMu.RUnlock()
	return fn, ok
}
