package entities

import (
	"fmt"
	"testing"
)

func TestEntityStore_AddAndGet(t *testing.T) {
	store := NewEntityStore()
	alice := NewEntityUID("User", "alice")

	err := store.Add(alice, map[string]Value{"age": Long(30)}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entity, ok := store.Get(alice)
	if !ok {
		t.Fatal("expected entity to be found")
	}
	if !entity.Attributes["age"].Equal(Long(30)) {
		t.Errorf("expected age 30, got %s", entity.Attributes["age"])
	}

	if _, ok := store.Get(NewEntityUID("User", "bob")); ok {
		t.Error("expected absent entity to not be found")
	}
}

func TestEntityStore_Add_Replaces(t *testing.T) {
	store := NewEntityStore()
	alice := NewEntityUID("User", "alice")

	if err := store.Add(alice, map[string]Value{"age": Long(30)}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Add(alice, map[string]Value{"age": Long(31)}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entity, _ := store.Get(alice)
	if !entity.Attributes["age"].Equal(Long(31)) {
		t.Errorf("expected replacement to take effect, got %s", entity.Attributes["age"])
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 entity, got %d", store.Len())
	}
}

func TestEntityStore_IsIn_Transitive(t *testing.T) {
	store := NewEntityStore()
	alice := NewEntityUID("User", "alice")
	devs := NewEntityUID("Group", "devs")
	staff := NewEntityUID("Group", "staff")

	if err := store.Add(staff, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Add(devs, nil, []EntityUID{staff}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Add(alice, nil, []EntityUID{devs}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !store.IsIn(alice, alice) {
		t.Error("expected entity to be in itself")
	}
	if !store.IsIn(alice, devs) {
		t.Error("expected alice in devs")
	}
	if !store.IsIn(alice, staff) {
		t.Error("expected alice in staff transitively")
	}
	if store.IsIn(staff, alice) {
		t.Error("expected membership to not be symmetric")
	}
}

func TestEntityStore_IsIn_UnknownParent(t *testing.T) {
	store := NewEntityStore()
	alice := NewEntityUID("User", "alice")
	ghost := NewEntityUID("Group", "ghost")

	// Parents need not exist in the store; membership still holds.
	if err := store.Add(alice, nil, []EntityUID{ghost}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.IsIn(alice, ghost) {
		t.Error("expected alice in ghost even though ghost has no record")
	}
}

func TestEntityStore_Add_RejectsCycles(t *testing.T) {
	store := NewEntityStore()
	a := NewEntityUID("Group", "a")
	b := NewEntityUID("Group", "b")
	c := NewEntityUID("Group", "c")

	if err := store.Add(a, nil, []EntityUID{b}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Add(b, nil, []EntityUID{c}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// c -> a would close the cycle a -> b -> c -> a.
	if err := store.Add(c, nil, []EntityUID{a}); err == nil {
		t.Fatal("expected cycle to be rejected")
	}

	// Rejection must not leave a partial c behind.
	if _, ok := store.Get(c); ok {
		t.Error("expected rejected entity to be rolled back")
	}

	// Self-cycle.
	if err := store.Add(a, nil, []EntityUID{a}); err == nil {
		t.Error("expected self-cycle to be rejected")
	}
}

func TestEntityStore_Clear(t *testing.T) {
	store := NewEntityStore()
	if err := store.Add(NewEntityUID("User", "alice"), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.Clear()

	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d entities", store.Len())
	}
}

func TestEntityStore_Revision_Advances(t *testing.T) {
	store := NewEntityStore()
	before := store.Revision()

	if err := store.Add(NewEntityUID("User", "alice"), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	afterAdd := store.Revision()
	if afterAdd == before {
		t.Error("expected revision to advance on Add")
	}

	store.Clear()
	if store.Revision() == afterAdd {
		t.Error("expected revision to advance on Clear")
	}
}

func TestEntityStore_Ancestors_AfterMutation(t *testing.T) {
	store := NewEntityStore()
	alice := NewEntityUID("User", "alice")
	devs := NewEntityUID("Group", "devs")
	staff := NewEntityUID("Group", "staff")

	if err := store.Add(alice, nil, []EntityUID{devs}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.IsIn(alice, staff) {
		t.Error("did not expect alice in staff yet")
	}

	// Adding the parent chain afterwards must be visible: memoized
	// ancestor sets are invalidated on mutation.
	if err := store.Add(devs, nil, []EntityUID{staff}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.IsIn(alice, staff) {
		t.Error("expected alice in staff after adding devs -> staff edge")
	}
}

func TestEntityStore_ConcurrentReads(t *testing.T) {
	store := NewEntityStore()
	parent := NewEntityUID("Group", "g")
	for i := 0; i < 50; i++ {
		uid := NewEntityUID("User", fmt.Sprintf("u%d", i))
		if err := store.Add(uid, nil, []EntityUID{parent}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				uid := NewEntityUID("User", fmt.Sprintf("u%d", i))
				if !store.IsIn(uid, parent) {
					t.Errorf("expected %s in %s", uid, parent)
					return
				}
			}
		}()
	}
	for w := 0; w < 4; w++ {
		<-done
	}
}
