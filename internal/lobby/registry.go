package lobby

import (
	"fmt"

	"github.com/cheildo/urbanshadows-lobby/internal/matchmaking"
)

// Role decides which travel path a successful negotiation takes.
type Role int

const (
	RoleUnset Role = iota
	RoleHost
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "Host"
	case RoleClient:
		return "Client"
	}
	return "Unset"
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Registry is the local view of sessions and members. It performs no I/O and
// is not safe for concurrent use; the Machine only touches it from its loop.
type Registry struct {
	own     *matchmaking.SessionDescriptor
	role    Role
	order   []string
	members map[string]matchmaking.Member
	results []matchmaking.SessionDescriptor
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[string]matchmaking.Member)}
}

func (r *Registry) RecordOwnSession(d matchmaking.SessionDescriptor) {
	r.own = &d
}

func (r *Registry) OwnSession() (matchmaking.SessionDescriptor, bool) {
	if r.own == nil {
		return matchmaking.SessionDescriptor{}, false
	}
	return *r.own, true
}

func (r *Registry) SetRole(role Role) { r.role = role }
func (r *Registry) Role() Role        { return r.role }

// RecordMember adds m, or overwrites the member with the same name in place.
func (r *Registry) RecordMember(m matchmaking.Member) {
	if _, ok := r.members[m.DisplayName]; !ok {
		r.order = append(r.order, m.DisplayName)
	}
	r.members[m.DisplayName] = m
}

func (r *Registry) RemoveMember(name string) bool {
	if _, ok := r.members[name]; !ok {
		return false
	}
	delete(r.members, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Member(name string) (matchmaking.Member, bool) {
	m, ok := r.members[name]
	return m, ok
}

// Members returns a copy of the member list in registration order.
func (r *Registry) Members() []matchmaking.Member {
	out := make([]matchmaking.Member, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.members[name])
	}
	return out
}

func (r *Registry) UpdateReady(name string, ready bool) error {
	m, ok := r.members[name]
	if !ok {
		return fmt.Errorf("%w: member %q", ErrNotFound, name)
	}
	m.Ready = ready
	r.members[name] = m
	return nil
}

// AllReady is vacuously true for an empty lobby. Callers starting a game
// must check for members themselves.
func (r *Registry) AllReady() bool {
	for _, m := range r.members {
		if !m.Ready {
			return false
		}
	}
	return true
}

// ReplaceSearchResults swaps the whole result set for a copy of list.
func (r *Registry) ReplaceSearchResults(list []matchmaking.SessionDescriptor) {
	r.results = append([]matchmaking.SessionDescriptor(nil), list...)
}

func (r *Registry) ClearSearchResults() { r.results = nil }

func (r *Registry) Results() []matchmaking.SessionDescriptor {
	out := make([]matchmaking.SessionDescriptor, len(r.results))
	copy(out, r.results)
	return out
}

func (r *Registry) At(index int) (matchmaking.SessionDescriptor, error) {
	if index < 0 || index >= len(r.results) {
		return matchmaking.SessionDescriptor{}, &IndexError{Index: index, Len: len(r.results)}
	}
	return r.results[index], nil
}

// Reset forgets the own session, its members and the role. Search results
// survive so the user can pick another session.
func (r *Registry) Reset() {
	r.own = nil
	r.role = RoleUnset
	r.order = nil
	r.members = make(map[string]matchmaking.Member)
}
