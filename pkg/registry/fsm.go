package registry

import "github.com/cuemby/orchestrator-core/pkg/types"

// allowedTransitions encodes the agent state machine of §4.2.1.
// offline -> booting is not listed here: it happens via re-registration
// (Register), not via a direct status transition call.
var allowedTransitions = map[types.AgentStatus][]types.AgentStatus{
	types.AgentStatusBooting:   {types.AgentStatusReady, types.AgentStatusFailed},
	types.AgentStatusReady:     {types.AgentStatusWorking, types.AgentStatusOffline},
	types.AgentStatusWorking:   {types.AgentStatusCompleted, types.AgentStatusFailed, types.AgentStatusOffline},
	types.AgentStatusCompleted: {types.AgentStatusReady},
	types.AgentStatusFailed:    {types.AgentStatusOffline},
	types.AgentStatusOffline:   {},
}

// canTransition reports whether from -> to is a permitted agent
// transition.
func canTransition(from, to types.AgentStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
