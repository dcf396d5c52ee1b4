package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/export"
	"github.com/parcelfind/parcelfind/pkg/naming"
	"github.com/parcelfind/parcelfind/pkg/overlay"
)

// Result is the outcome of one run. Structured and Interchange are both set
// on success and both nil on failure.
type Result struct {
	RunID   uuid.UUID
	Stage   Stage
	History []Stage

	Identity    naming.RunIdentity
	Structured  *export.StructuredRef
	Interchange *export.InterchangeRef
	Matched     int

	// Err is the originating failure. Secondary holds a failure met while
	// rolling back after Err, such as a structured output that could not be
	// discarded.
	Err       error
	Secondary error

	// Layer is the run's view of the target collection. It is always clean
	// once Run returns.
	Layer *overlay.Layer

	Started  time.Time
	Finished time.Time
}

// Succeeded reports whether the run produced both outputs.
func (r *Result) Succeeded() bool {
	return r.Stage == StageSucceeded
}

// Kind returns the error kind, or "" on success.
func (r *Result) Kind() string {
	return perrors.Kind(r.Err)
}

// Message is a one-line human summary of the outcome.
func (r *Result) Message() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.Structured == nil || r.Interchange == nil {
		return r.Stage.String()
	}
	return fmt.Sprintf("%d parcels written to %s and %s",
		r.Matched, r.Structured.Location, r.Interchange.Location)
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// FailedAt returns the stage that produced Err, or -1.
func (r *Result) FailedAt() Stage {
	if r.Err == nil || len(r.History) < 3 {
		return -1
	}
	// History ends with ..., failing stage, Finalizing, Failed.
	return r.History[len(r.History)-3]
}

func (r *Result) enter(s Stage) {
	r.Stage = s
	r.History = append(r.History, s)
}
