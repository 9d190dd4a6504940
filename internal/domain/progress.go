package domain

// ProgressPhase identifies what a ProgressEvent reports.
type ProgressPhase string

const (
	PhaseTransferring ProgressPhase = "transferring"
	PhaseFinished     ProgressPhase = "finished"
	PhaseFailed       ProgressPhase = "failed"
	PhasePaused       ProgressPhase = "paused"
	PhaseSkipped      ProgressPhase = "skipped"
)

// ProgressEvent is the closed set of updates an engine or worker reports to
// the task store. Exactly one terminal event (finished, failed, paused or
// skipped) ends every worker execution; transferring events may precede it.
type ProgressEvent struct {
	Phase  ProgressPhase
	Bytes  int64
	Total  int64
	Rate   float64
	Path   string
	Reason string
}

// Terminal reports whether the event ends a worker execution.
func (e ProgressEvent) Terminal() bool {
	return e.Phase != PhaseTransferring
}

// Percent derives a 0-100 completion figure, 0 when the total is unknown.
func (e ProgressEvent) Percent() float64 {
	if e.Total <= 0 {
		return 0
	}
	p := float64(e.Bytes) / float64(e.Total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Transferring reports bytes moved so far out of total, with an instantaneous rate.
func Transferring(bytes, total int64, rate float64) ProgressEvent {
	return ProgressEvent{Phase: PhaseTransferring, Bytes: bytes, Total: total, Rate: rate}
}

// Finished reports successful completion. For downloads path carries the
// final payload location; uploads pass an empty path.
func Finished(path string) ProgressEvent {
	return ProgressEvent{Phase: PhaseFinished, Path: path}
}

// Failed reports a transfer failure with a human-readable reason.
func Failed(reason string) ProgressEvent {
	return ProgressEvent{Phase: PhaseFailed, Reason: reason}
}

// Paused reports a cooperative interruption observed by the worker.
func Paused() ProgressEvent {
	return ProgressEvent{Phase: PhasePaused}
}

// Skipped reports that a relay was intentionally not performed.
func Skipped(reason string) ProgressEvent {
	return ProgressEvent{Phase: PhaseSkipped, Reason: reason}
}
