package entities

// Effect is the outcome a policy contributes when satisfied.
type Effect string

const (
	EffectPermit Effect = "permit"
	EffectForbid Effect = "forbid"
)

// ScopeKind discriminates the forms a scope constraint can take.
type ScopeKind int

const (
	// ScopeAny places no constraint (bare principal/action/resource).
	ScopeAny ScopeKind = iota
	// ScopeEq requires exact identity: principal == User::"alice".
	ScopeEq
	// ScopeIn requires hierarchy membership: principal in Group::"admins".
	ScopeIn
	// ScopeInSet requires membership in any of a set of entities:
	// action in [Action::"view", Action::"edit"].
	ScopeInSet
	// ScopeIs requires an entity type: principal is User.
	ScopeIs
	// ScopeIsIn combines type and membership: principal is User in Group::"eng".
	ScopeIsIn
)

// Template slot names usable in Eq and In scope constraints.
const (
	SlotPrincipal = "principal"
	SlotResource  = "resource"
)

// ScopeConstraint restricts which requests a policy applies to, for one of
// the principal/action/resource positions. For ScopeEq and ScopeIn a
// template may reference an unbound slot instead of a concrete entity;
// such a constraint is only valid inside a PolicyTemplate.
type ScopeConstraint struct {
	Kind       ScopeKind
	Entity     EntityUID   // target of Eq, In, IsIn
	Entities   []EntityUID // targets of InSet
	EntityType string      // type of Is, IsIn
	Slot       string      // "principal" or "resource" when templated, else ""
}

// HasSlot reports whether the constraint references an unbound slot.
func (c ScopeConstraint) HasSlot() bool {
	return c.Slot != ""
}

// clone deep-copies the constraint.
func (c ScopeConstraint) clone() ScopeConstraint {
	out := c
	if c.Entities != nil {
		out.Entities = make([]EntityUID, len(c.Entities))
		copy(out.Entities, c.Entities)
	}
	return out
}

// Condition is one when/unless clause of a policy. A policy is satisfied
// only if every when-body is true and every unless-body is false.
type Condition struct {
	Unless bool // false = when, true = unless
	Body   Expr
}

// Policy is a single parsed access-control policy. Immutable after parse:
// the decision engine and evaluator only ever read it.
type Policy struct {
	ID          string
	Effect      Effect
	Annotations map[string]string
	Principal   ScopeConstraint
	Action      ScopeConstraint
	Resource    ScopeConstraint
	Conditions  []Condition
}

// HasSlots reports whether any scope constraint references an unbound
// template slot. A policy with slots cannot be evaluated directly.
func (p *Policy) HasSlots() bool {
	return p.Principal.HasSlot() || p.Action.HasSlot() || p.Resource.HasSlot()
}

// Slots returns the distinct slot names referenced by the policy's scope
// constraints, in principal/resource order.
func (p *Policy) Slots() []string {
	var slots []string
	seen := make(map[string]bool)
	for _, c := range []ScopeConstraint{p.Principal, p.Action, p.Resource} {
		if c.Slot != "" && !seen[c.Slot] {
			slots = append(slots, c.Slot)
			seen[c.Slot] = true
		}
	}
	return slots
}

// Clone deep-copies the policy. No mutable state is shared with the
// original.
func (p *Policy) Clone() *Policy {
	out := &Policy{
		ID:        p.ID,
		Effect:    p.Effect,
		Principal: p.Principal.clone(),
		Action:    p.Action.clone(),
		Resource:  p.Resource.clone(),
	}
	if p.Annotations != nil {
		out.Annotations = make(map[string]string, len(p.Annotations))
		for k, v := range p.Annotations {
			out.Annotations[k] = v
		}
	}
	if p.Conditions != nil {
		out.Conditions = make([]Condition, len(p.Conditions))
		for i, cond := range p.Conditions {
			out.Conditions[i] = Condition{Unless: cond.Unless, Body: cloneExpr(cond.Body)}
		}
	}
	return out
}
