// Package expand holds the expanded/collapsed view state of the bloc tree.
package expand

import (
	"slices"

	"github.com/hylla/canetrack/internal/domain"
)

// Set holds expanded bloc and operation ids.
type Set struct {
	Blocs      map[string]struct{}
	Operations map[string]struct{}
}

// NewSet returns an empty set.
func NewSet() Set {
	return Set{
		Blocs:      map[string]struct{}{},
		Operations: map[string]struct{}{},
	}
}

// Compute returns the ids that must be open so every empty node's add action stays reachable.
// A bloc opens when it has no operations or any operation has no work packages.
// An operation opens when it has no work packages.
func Compute(blocs []*domain.Bloc) Set {
	out := NewSet()
	for _, b := range blocs {
		if len(b.Operations) == 0 {
			out.Blocs[b.ID] = struct{}{}
			continue
		}
		for _, op := range b.Operations {
			if len(op.WorkPackages) != 0 {
				continue
			}
			out.Blocs[b.ID] = struct{}{}
			out.Operations[op.ID] = struct{}{}
		}
	}
	return out
}

// Union returns a set containing every id of s and other.
func (s Set) Union(other Set) Set {
	out := NewSet()
	for id := range s.Blocs {
		out.Blocs[id] = struct{}{}
	}
	for id := range s.Operations {
		out.Operations[id] = struct{}{}
	}
	for id := range other.Blocs {
		out.Blocs[id] = struct{}{}
	}
	for id := range other.Operations {
		out.Operations[id] = struct{}{}
	}
	return out
}

// IsSupersetOf reports whether every id in other is also in s.
func (s Set) IsSupersetOf(other Set) bool {
	for id := range other.Blocs {
		if _, ok := s.Blocs[id]; !ok {
			return false
		}
	}
	for id := range other.Operations {
		if _, ok := s.Operations[id]; !ok {
			return false
		}
	}
	return true
}

// BlocIDs returns sorted expanded bloc ids.
func (s Set) BlocIDs() []string {
	return sortedKeys(s.Blocs)
}

// OperationIDs returns sorted expanded operation ids.
func (s Set) OperationIDs() []string {
	return sortedKeys(s.Operations)
}

// State is the expansion state of one session. The zero value is ready to use.
type State struct {
	set Set
}

// Sync unions the auto-expand ids of blocs into the state. It never removes ids.
func (s *State) Sync(blocs []*domain.Bloc) {
	s.set = s.current().Union(Compute(blocs))
}

// BlocExpanded reports whether the bloc is open.
func (s *State) BlocExpanded(id string) bool {
	_, ok := s.current().Blocs[id]
	return ok
}

// OperationExpanded reports whether the operation is open.
func (s *State) OperationExpanded(id string) bool {
	_, ok := s.current().Operations[id]
	return ok
}

// ToggleBloc flips a bloc's expansion by user choice.
func (s *State) ToggleBloc(id string) {
	toggle(s.current().Blocs, id)
}

// ToggleOperation flips an operation's expansion by user choice.
func (s *State) ToggleOperation(id string) {
	toggle(s.current().Operations, id)
}

// Snapshot returns a copy of the current set.
func (s *State) Snapshot() Set {
	return s.current().Union(NewSet())
}

// current lazily initializes the set.
func (s *State) current() Set {
	if s.set.Blocs == nil || s.set.Operations == nil {
		s.set = NewSet()
	}
	return s.set
}

// toggle flips membership of id in m.
func toggle(m map[string]struct{}, id string) {
	if _, ok := m[id]; ok {
		delete(m, id)
		return
	}
	m[id] = struct{}{}
}

// sortedKeys returns map keys in ascending order.
func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
