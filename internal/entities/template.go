package entities

import "fmt"

// PolicyTemplate is a policy whose Eq/In scope constraints may reference
// unbound slots (?principal, ?resource). Templates are immutable;
// Instantiate produces concrete policies from them.
type PolicyTemplate struct {
	ID     string
	Policy *Policy // scope constraints may carry slots; ID is unset
}

// Slots returns the slot names referenced by the template.
func (t *PolicyTemplate) Slots() []string {
	return t.Policy.Slots()
}

// Instantiate binds slot values and returns a fully concrete policy.
// The result is a pure data transformation of the template: the condition
// tree is shared semantics but copied storage, and each slotted scope
// constraint has the slot replaced by the bound entity. Nothing is
// re-parsed. Every slot referenced by the template must have a binding;
// unknown binding names are rejected.
func (t *PolicyTemplate) Instantiate(policyID string, bindings map[string]EntityUID) (*Policy, error) {
	referenced := make(map[string]bool)
	for _, slot := range t.Slots() {
		referenced[slot] = true
	}

	for name := range bindings {
		if name != SlotPrincipal && name != SlotResource {
			return nil, fmt.Errorf("unknown slot name %q", name)
		}
		if !referenced[name] {
			return nil, fmt.Errorf("template %q does not reference slot ?%s", t.ID, name)
		}
	}
	for slot := range referenced {
		if _, bound := bindings[slot]; !bound {
			return nil, fmt.Errorf("missing binding for slot ?%s", slot)
		}
	}

	policy := t.Policy.Clone()
	policy.ID = policyID
	policy.Principal = substituteSlot(policy.Principal, bindings)
	policy.Action = substituteSlot(policy.Action, bindings)
	policy.Resource = substituteSlot(policy.Resource, bindings)
	return policy, nil
}

// substituteSlot replaces a slotted constraint's slot with its bound entity.
func substituteSlot(c ScopeConstraint, bindings map[string]EntityUID) ScopeConstraint {
	if c.Slot == "" {
		return c
	}
	out := c
	out.Entity = bindings[c.Slot]
	out.Slot = ""
	return out
}
