package entities

import (
	"fmt"
	"sync"
)

// Entity is one stored entity: identity, attributes, and declared parents.
type Entity struct {
	UID        EntityUID
	Attributes map[string]Value
	Parents    map[EntityUID]struct{}
}

// EntityStore maps entity identifiers to attributes and parent edges and
// answers transitive-ancestor queries. Safe for concurrent readers; Add
// and Clear take the write lock, so concurrent authorize calls are safe as
// long as writers are not racing them.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[EntityUID]*Entity

	// ancestors memoizes transitive closures. Any mutation drops the
	// whole memo; it is rebuilt lazily per queried entity.
	ancestors map[EntityUID]map[EntityUID]struct{}

	id       uint64
	revision uint64
}

// NewEntityStore creates an empty entity store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities:  make(map[EntityUID]*Entity),
		ancestors: make(map[EntityUID]map[EntityUID]struct{}),
		id:        instanceSeq.Add(1),
	}
}

// Add upserts an entity. Nil attrs default to an empty record, nil parents
// to an empty set. Adding an entity whose parent edges would make it its
// own transitive ancestor is rejected and leaves the store unchanged.
func (s *EntityStore) Add(uid EntityUID, attrs map[string]Value, parents []EntityUID) error {
	if uid.IsZero() {
		return fmt.Errorf("entity UID is required")
	}

	entity := &Entity{
		UID:        uid,
		Attributes: make(map[string]Value, len(attrs)),
		Parents:    make(map[EntityUID]struct{}, len(parents)),
	}
	for k, v := range attrs {
		entity.Attributes[k] = v
	}
	for _, p := range parents {
		entity.Parents[p] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.entities[uid]
	s.entities[uid] = entity

	if s.inAncestorsLocked(uid, uid) {
		// Roll back: the new parent edges close a cycle.
		if existed {
			s.entities[uid] = previous
		} else {
			delete(s.entities, uid)
		}
		return fmt.Errorf("entity %s would become its own ancestor", uid)
	}

	s.ancestors = make(map[EntityUID]map[EntityUID]struct{})
	s.revision++
	return nil
}

// Get returns the stored entity for uid, if any.
func (s *EntityStore) Get(uid EntityUID) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[uid]
	return entity, ok
}

// Ancestors returns the transitive closure over the entity's parent edges.
// Unknown entities have no ancestors.
func (s *EntityStore) Ancestors(uid EntityUID) map[EntityUID]struct{} {
	s.mu.RLock()
	if memo, ok := s.ancestors[uid]; ok {
		s.mu.RUnlock()
		return memo
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if memo, ok := s.ancestors[uid]; ok {
		return memo
	}
	closure := s.computeAncestorsLocked(uid)
	s.ancestors[uid] = closure
	return closure
}

// IsIn reports hierarchy membership: true iff child equals ancestorOrSelf
// or has it as a transitive ancestor.
func (s *EntityStore) IsIn(child, ancestorOrSelf EntityUID) bool {
	if child.Equal(ancestorOrSelf) {
		return true
	}
	_, ok := s.Ancestors(child)[ancestorOrSelf]
	return ok
}

// Len returns the number of stored entities.
func (s *EntityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Clear removes all entities.
func (s *EntityStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[EntityUID]*Entity)
	s.ancestors = make(map[EntityUID]map[EntityUID]struct{})
	s.revision++
}

// InstanceID returns a process-unique identifier for this store, used
// together with Revision as a cache-key component.
func (s *EntityStore) InstanceID() uint64 {
	return s.id
}

// Revision returns a counter that changes on every mutation. Used as a
// cache-key component by the decision cache.
func (s *EntityStore) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// UIDs returns the identifiers of all stored entities.
func (s *EntityStore) UIDs() []EntityUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uids := make([]EntityUID, 0, len(s.entities))
	for uid := range s.entities {
		uids = append(uids, uid)
	}
	return uids
}

// computeAncestorsLocked walks parent edges breadth-first with an explicit
// queue and visited set. The visited set bounds the traversal even if the
// stored graph were cyclic.
func (s *EntityStore) computeAncestorsLocked(uid EntityUID) map[EntityUID]struct{} {
	closure := make(map[EntityUID]struct{})
	entity, ok := s.entities[uid]
	if !ok {
		return closure
	}

	queue := make([]EntityUID, 0, len(entity.Parents))
	for parent := range entity.Parents {
		queue = append(queue, parent)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := closure[current]; seen {
			continue
		}
		closure[current] = struct{}{}
		if parent, ok := s.entities[current]; ok {
			for next := range parent.Parents {
				if _, seen := closure[next]; !seen {
					queue = append(queue, next)
				}
			}
		}
	}
	return closure
}

// inAncestorsLocked reports whether target is a strict ancestor of uid.
func (s *EntityStore) inAncestorsLocked(uid, target EntityUID) bool {
	_, ok := s.computeAncestorsLocked(uid)[target]
	return ok
}
