package process

// Exit statuses used by a child before its target program is executed.
// They are part of the external contract: an observer inspecting a child's
// exit code can tell which pre-exec step failed.
const (
	ExitChdirFailed   = 17
	ExitPrepareFailed = 18
	ExitPlanInvalid   = 19 // the child could not decode its launch plan
	ExitExecFailed    = 20
)

// DescribeExitCode names a pre-exec failure, or returns "" for codes that
// came from the service program itself.
func DescribeExitCode(code int) string {
	switch code {
	case ExitChdirFailed:
		return "changing work directory failed"
	case ExitPrepareFailed:
		return "prepare hook failed"
	case ExitPlanInvalid:
		return "launch plan invalid"
	case ExitExecFailed:
		return "executing target program failed"
	default:
		return ""
	}
}
