package fabric

import (
	"strings"

	"github.com/livekit/protocol/livekit"
)

// IsAgentIdentity reports whether a participant identity belongs to an
// automated agent rather than a human. The heuristic matches the identities
// minted by the worker and by common agent frameworks.
func IsAgentIdentity(identity string) bool {
	id := strings.ToLower(identity)
	return strings.Contains(id, "agent") ||
		strings.Contains(id, "bot") ||
		strings.HasPrefix(id, "worker")
}

// IsAgentParticipant prefers the participant kind reported by the fabric and
// falls back to the identity heuristic for servers that do not set it.
func IsAgentParticipant(p *livekit.ParticipantInfo) bool {
	if p == nil {
		return false
	}
	if p.Kind == livekit.ParticipantInfo_AGENT {
		return true
	}
	return IsAgentIdentity(p.GetIdentity())
}

// SplitParticipants partitions a room roster into humans and agents.
func SplitParticipants(participants []*livekit.ParticipantInfo) (humans, agents []*livekit.ParticipantInfo) {
	for _, p := range participants {
		if IsAgentParticipant(p) {
			agents = append(agents, p)
		} else {
			humans = append(humans, p)
		}
	}
	return humans, agents
}
