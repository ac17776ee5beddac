package services

import (
	"fmt"
	"sort"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
)

// PeerRegistry owns every live peer link keyed by role. It is not safe for
// concurrent use; the call controller only touches it from its loop.
type PeerRegistry struct {
	links map[domain.PeerRole]ports.PeerLink
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{links: make(map[domain.PeerRole]ports.PeerLink)}
}

// Insert stores link under its role. A role holds at most one link.
func (r *PeerRegistry) Insert(link ports.PeerLink) error {
	role := link.Role()
	if _, ok := r.links[role]; ok {
		return fmt.Errorf("%s: %w", role, domain.ErrRoleOccupied)
	}
	r.links[role] = link
	return nil
}

func (r *PeerRegistry) Get(role domain.PeerRole) (ports.PeerLink, bool) {
	link, ok := r.links[role]
	return link, ok
}

func (r *PeerRegistry) Primary() (ports.PeerLink, bool) {
	return r.Get(domain.PrimaryRole())
}

// RoleOf finds the role a link is registered under. Links that were
// removed or replaced report false.
func (r *PeerRegistry) RoleOf(link ports.PeerLink) (domain.PeerRole, bool) {
	role := link.Role()
	if current, ok := r.links[role]; ok && current == link {
		return role, true
	}
	return domain.PeerRole{}, false
}

// Remove unregisters the link under role and returns it for destruction.
func (r *PeerRegistry) Remove(role domain.PeerRole) (ports.PeerLink, bool) {
	link, ok := r.links[role]
	if ok {
		delete(r.links, role)
	}
	return link, ok
}

// Clear empties the registry and returns every link it held.
func (r *PeerRegistry) Clear() []ports.PeerLink {
	out := r.All()
	r.links = make(map[domain.PeerRole]ports.PeerLink)
	return out
}

func (r *PeerRegistry) ParticipantCount() int {
	n := 0
	for role := range r.links {
		if role.IsParticipant() {
			n++
		}
	}
	return n
}

func (r *PeerRegistry) Len() int { return len(r.links) }

// All returns links ordered primary, screen shares, then participants.
func (r *PeerRegistry) All() []ports.PeerLink {
	out := make([]ports.PeerLink, 0, len(r.links))
	for _, link := range r.links {
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Role(), out[j].Role()
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	return out
}
