package process

import "time"

// State is the runtime state of a Record: either Idle or Running.
type State interface {
	isState()
	String() string
}

// Idle means no process runs on behalf of the record; it needs (re)starting.
type Idle struct{}

// Running carries the identity of the live child.
type Running struct {
	PID       int
	StartedAt time.Time
}

func (Idle) isState()    {}
func (Running) isState() {}

func (Idle) String() string    { return "idle" }
func (Running) String() string { return "running" }

// Record is one entry of the definition store: a Spec plus the runtime
// identity the supervision loop maintains for it.
//
// Records are owned by the supervision loop goroutine and are not safe for
// concurrent use.
type Record struct {
	spec      Spec
	state     State
	startedAt time.Time // last launch attempt that passed the throttle; survives Idle
}

func NewRecord(spec Spec) *Record {
	return &Record{spec: spec, state: Idle{}}
}

// NewRecords builds the record list for the given specs, preserving order.
func NewRecords(specs []Spec) []*Record {
	out := make([]*Record, 0, len(specs))
	for _, s := range specs {
		out = append(out, NewRecord(s))
	}
	return out
}

func (r *Record) Spec() Spec   { return r.spec }
func (r *Record) Name() string { return r.spec.Name }
func (r *Record) State() State { return r.state }

func (r *Record) Idle() bool {
	_, ok := r.state.(Idle)
	return ok
}

// PID returns the running child's pid, or 0 when idle.
func (r *Record) PID() int {
	if run, ok := r.state.(Running); ok {
		return run.PID
	}
	return 0
}

// StartedAt is the time of the most recent launch attempt that passed the
// restart throttle. It is zero before the first attempt.
func (r *Record) StartedAt() time.Time { return r.startedAt }

// MarkIdle records that the child has been reaped.
func (r *Record) MarkIdle() { r.state = Idle{} }

// markRunning is the only Idle -> Running transition; it belongs to the Launcher.
func (r *Record) markRunning(pid int) {
	r.state = Running{PID: pid, StartedAt: r.startedAt}
}

// Snapshot is a read-only copy of a record for reporting.
type Snapshot struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

func (r *Record) Snapshot() Snapshot {
	return Snapshot{Name: r.spec.Name, State: r.state.String(), PID: r.PID(), StartedAt: r.startedAt}
}

// AnyRunning reports whether at least one record still has a live child.
func AnyRunning(records []*Record) bool {
	for _, r := range records {
		if !r.Idle() {
			return true
		}
	}
	return false
}

// FindByPID returns the record whose running child has the given pid.
func FindByPID(records []*Record, pid int) *Record {
	if pid <= 0 {
		return nil
	}
	for _, r := range records {
		if r.PID() == pid {
			return r
		}
	}
	return nil
}
