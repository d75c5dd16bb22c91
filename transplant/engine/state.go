package engine

// state names one phase of a transplant operation. Transitions
// are driven by step; stateDone and stateFailed are terminal.
type state int

const (
	stateRefresh state = iota
	stateResolve
	stateApply
	statePush
	stateReport
	stateCleanup
	stateSettle
	stateDone
	stateFailed
)

func (s state) terminal() bool {
	return s == stateDone || s == stateFailed
}

func (s state) String() string {
	switch s {
	case stateRefresh:
		return "refresh"
	case stateResolve:
		return "resolve"
	case stateApply:
		return "apply"
	case statePush:
		return "push"
	case stateReport:
		return "report"
	case stateCleanup:
		return "cleanup"
	case stateSettle:
		return "settle"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
