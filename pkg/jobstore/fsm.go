package jobstore

import "github.com/cuemby/orchestrator-core/pkg/types"

// allowedTransitions encodes the job state machine of §4.3. The
// "any non-terminal -> failed" escalation rule is handled separately in
// canTransition rather than enumerated per source state.
var allowedTransitions = map[types.JobStatus][]types.JobStatus{
	types.JobStatusCreated:       {types.JobStatusProcessing, types.JobStatusCancelled},
	types.JobStatusProcessing:    {types.JobStatusPendingReview, types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled},
	types.JobStatusPendingReview: {types.JobStatusProcessing, types.JobStatusCreated, types.JobStatusCompleted, types.JobStatusCancelled},
	types.JobStatusCompleted:     {},
	types.JobStatusFailed:        {},
	types.JobStatusCancelled:     {},
}

// canTransition reports whether from -> to is permitted. Every
// non-terminal state may additionally transition to failed, modeling
// the detector's escalation path.
func canTransition(from, to types.JobStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == types.JobStatusFailed {
		return true
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
