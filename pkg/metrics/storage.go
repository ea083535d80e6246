package metrics

import "time"

// TransferMetrics provides observability for copy and move operations.
//
// Labels:
//   - op: "copy" or "move"
//   - outcome: "success", "partial" or the error kind that ended the
//     transfer (e.g. "NoSpaceOnTarget")
type TransferMetrics interface {
	// RecordTransferStart increments the in-flight transfer gauge.
	RecordTransferStart(op string)

	// RecordTransferEnd decrements the in-flight gauge and records the
	// outcome of a finished transfer.
	RecordTransferEnd(op, outcome string, files int, bytes int64, duration time.Duration)

	// RecordConflicts records how many conflicts a transfer deferred to
	// the caller.
	//
	// Parameters:
	//   - op: "copy" or "move"
	//   - scope: "parent" or "content"
	//   - count: Number of conflicts in the batch
	RecordConflicts(op, scope string, count int)

	// RecordFastRename counts transfers completed by renaming in place.
	RecordFastRename(op string)
}

// GrantMetrics provides observability for the grant table.
type GrantMetrics interface {
	// RecordSweep records one redundant-grant sweep.
	RecordSweep(released, failed int, duration time.Duration)

	// SetGrantCount updates the number of held grants.
	SetGrantCount(count int)

	// RecordAccessRequest records the outcome of an explicit access
	// request: "granted", "canceled", "wrong_volume" or "error".
	RecordAccessRequest(outcome string)
}

type noopTransferMetrics struct{}

// NewNoopTransferMetrics returns a TransferMetrics that records nothing.
func NewNoopTransferMetrics() TransferMetrics {
	return noopTransferMetrics{}
}

func (noopTransferMetrics) RecordTransferStart(string) {}
func (noopTransferMetrics) RecordTransferEnd(string, string, int, int64, time.Duration) {}
func (noopTransferMetrics) RecordConflicts(string, string, int) {}
func (noopTransferMetrics) RecordFastRename(string) {}

type noopGrantMetrics struct{}

// NewNoopGrantMetrics returns a GrantMetrics that records nothing.
func NewNoopGrantMetrics() GrantMetrics {
	return noopGrantMetrics{}
}

func (noopGrantMetrics) RecordSweep(int, int, time.Duration) {}
func (noopGrantMetrics) SetGrantCount(int) {}
func (noopGrantMetrics) RecordAccessRequest(string) {}
