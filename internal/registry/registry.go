// Package registry is an insertion-ordered set of callback receivers that can
// be snapshotted while other goroutines add and remove members.
package registry

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
	"weak"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Set holds members in registration order. Adding a member twice is a no-op.
//
// All methods are safe for concurrent use. Snapshot returns a copy, so a
// caller iterating it is never affected by concurrent Add/Remove.
type Set struct {
	mu       sync.RWMutex
	weakRefs bool
	members  *orderedmap.OrderedMap[any, member]
}

// member is the stored form of a registered value. Weakly held pointers keep
// only their element type and a weak reference.
type member struct {
	elem   reflect.Type
	ref    weak.Pointer[byte]
	strong any
}

func (m member) value() (any, bool) {
	if m.elem == nil {
		return m.strong, true
	}
	p := m.ref.Value()
	if p == nil {
		return nil, false
	}
	return reflect.NewAt(m.elem, unsafe.Pointer(p)).Interface(), true
}

// New creates an empty set that keeps its members alive
func New() *Set {
	return &Set{members: orderedmap.New[any, member]()}
}

// NewWeak creates an empty set that does not keep pointer members alive.
// A pointer member that becomes unreachable elsewhere leaves the set at the
// next Snapshot. Pointer members must be heap allocated; other members are
// held strongly.
func NewWeak() *Set {
	return &Set{weakRefs: true, members: orderedmap.New[any, member]()}
}

// entry returns the map key and stored form of m
func (s *Set) entry(m any) (any, member) {
	if !s.weakRefs {
		return m, member{strong: m}
	}
	t := reflect.TypeOf(m)
	if t.Kind() != reflect.Pointer || t.Name() != "" || t.Elem().Size() == 0 {
		return m, member{strong: m}
	}
	ref := weak.Make((*byte)(reflect.ValueOf(m).UnsafePointer()))
	return ref, member{elem: t.Elem(), ref: ref}
}

// Add inserts m and reports whether membership changed. Members must be
// comparable (typically pointers), since they are used as map keys.
func (s *Set) Add(m any) (bool, error) {
	if err := checkMember(m); err != nil {
		return false, err
	}

	key, entry := s.entry(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members.Get(key); exists {
		return false, nil
	}
	s.members.Set(key, entry)
	return true, nil
}

// Remove deletes m and reports whether membership changed.
// Removing a non-member is a no-op.
func (s *Set) Remove(m any) bool {
	if checkMember(m) != nil {
		return false
	}

	key, _ := s.entry(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, present := s.members.Delete(key)
	return present
}

// Contains reports whether m is a member
func (s *Set) Contains(m any) bool {
	if checkMember(m) != nil {
		return false
	}

	key, _ := s.entry(m)

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.members.Get(key)
	return ok
}

// Len returns the number of members, counting weak members that have not
// been pruned yet
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members.Len()
}

// Snapshot returns the live members in registration order and prunes the
// collected ones
func (s *Set) Snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]any, 0, s.members.Len())
	var dead []any
	for pair := s.members.Oldest(); pair != nil; pair = pair.Next() {
		if v, ok := pair.Value.value(); ok {
			out = append(out, v)
		} else {
			dead = append(dead, pair.Key)
		}
	}
	for _, key := range dead {
		s.members.Delete(key)
	}
	return out
}

// Clear removes every member
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = orderedmap.New[any, member]()
}

func checkMember(m any) error {
	if m == nil {
		return fmt.Errorf("registry: nil member")
	}
	if t := reflect.TypeOf(m); !t.Comparable() {
		return fmt.Errorf("registry: member of type %s is not comparable", t)
	}
	return nil
}

// Snapshot is a typed view over Set.Snapshot: it keeps only the members
// implementing T.
func Snapshot[T any](s *Set) []T {
	all := s.Snapshot()
	out := make([]T, 0, len(all))
	for _, m := range all {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
