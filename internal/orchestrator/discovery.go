package orchestrator

import (
	"agentrouter/internal/domain"
	"agentrouter/internal/registry"
)

// Discover maps every capability to the agents declaring it. The result has
// one entry per capability, in input order, with agents in registry order.
// Capabilities nobody declares stay in the result with Matched unset.
func Discover(snap *registry.Snapshot, capabilities []string) []domain.CapabilityMatch {
	matches := make([]domain.CapabilityMatch, 0, len(capabilities))
	for _, c := range capabilities {
		found := snap.FindByCapability(c)
		ids := make([]string, 0, len(found))
		for _, a := range found {
			ids = append(ids, a.ID())
		}
		matches = append(matches, domain.CapabilityMatch{
			Capability: c,
			AgentIDs:   ids,
			Matched:    len(ids) > 0,
		})
	}
	return matches
}
