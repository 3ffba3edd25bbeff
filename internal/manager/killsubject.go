package manager

import (
	"fmt"
	"strconv"
	"strings"
)

// SubjectKind selects who receives the shutdown signals.
type SubjectKind int

const (
	// SubjectGroup signals every member of the supervisor's own process
	// group except the supervisor itself, so orphaned descendants that stayed
	// in the group are stopped together with the direct children.
	SubjectGroup SubjectKind = iota
	// SubjectChildren signals each tracked child individually.
	SubjectChildren
	// SubjectPID signals one literal pid with raw kill(2) semantics: 0 is the
	// caller's group, a negative value is the group -n.
	SubjectPID
)

// KillSubject is the target of the shutdown signals.
type KillSubject struct {
	Kind SubjectKind
	PID  int
}

// DefaultKillSubject is the supervisor's process group.
var DefaultKillSubject = KillSubject{Kind: SubjectGroup}

// ParseKillSubject accepts "group" (or ""), "children" and "pid:<n>".
func ParseKillSubject(s string) (KillSubject, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "group":
		return KillSubject{Kind: SubjectGroup}, nil
	case "children":
		return KillSubject{Kind: SubjectChildren}, nil
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "pid:"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return KillSubject{}, fmt.Errorf("invalid kill subject %q: %w", s, err)
		}
		return KillSubject{Kind: SubjectPID, PID: n}, nil
	}
	return KillSubject{}, fmt.Errorf("invalid kill subject %q (want group, children or pid:<n>)", s)
}

func (k KillSubject) String() string {
	switch k.Kind {
	case SubjectChildren:
		return "children"
	case SubjectPID:
		return "pid:" + strconv.Itoa(k.PID)
	default:
		return "group"
	}
}

// MarshalText lets configuration and JSON output carry the textual form.
func (k KillSubject) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *KillSubject) UnmarshalText(b []byte) error {
	v, err := ParseKillSubject(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
