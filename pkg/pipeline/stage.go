package pipeline

// Stage is a step of a run. A run moves through the stages in declaration
// order until it reaches Succeeded or Failed; Finalizing is never skipped.
type Stage int

const (
	StageInit Stage = iota
	StageValidating
	StageJoining
	StageSelecting
	StageNaming
	StageExportingStructured
	StageExportingInterchange
	StageFinalizing
	StageSucceeded
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageValidating:
		return "validating"
	case StageJoining:
		return "joining"
	case StageSelecting:
		return "selecting"
	case StageNaming:
		return "naming"
	case StageExportingStructured:
		return "exporting_structured"
	case StageExportingInterchange:
		return "exporting_interchange"
	case StageFinalizing:
		return "finalizing"
	case StageSucceeded:
		return "succeeded"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no stage follows s.
func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// Stages lists every stage a successful run passes through, in order.
func Stages() []Stage {
	return []Stage{
		StageInit,
		StageValidating,
		StageJoining,
		StageSelecting,
		StageNaming,
		StageExportingStructured,
		StageExportingInterchange,
		StageFinalizing,
		StageSucceeded,
	}
}
