package call

// Role is a peer's negotiation role for one counterpart.
type Role int

const (
	// RoleLeader initiates the offer ("impolite").
	RoleLeader Role = iota
	// RoleFollower awaits the offer and answers ("polite").
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	default:
		return "unknown"
	}
}

// ResolveRole breaks the symmetry between two peers from their identifiers
// alone: the lexicographically greater identifier becomes the Follower. Both
// peers compute this independently over the same pair, so exactly one leads
// without any further coordination. It is the protocol's only tie-break; no
// timestamps or jitter are involved.
func ResolveRole(selfID, peerID string) Role {
	if selfID > peerID {
		return RoleFollower
	}
	return RoleLeader
}
