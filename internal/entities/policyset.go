package entities

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// instanceSeq hands out process-unique identifiers for policy sets and
// entity stores. Revision counters are per instance, so a cache keyed on
// revisions alone cannot tell two instances apart; the instance id can.
var instanceSeq atomic.Uint64

// TemplateLink records one template instantiation: which template, which
// slot bindings, and the materialized concrete policy.
type TemplateLink struct {
	PolicyID   string
	TemplateID string
	Bindings   map[string]EntityUID
	Policy     *Policy
}

// PolicySet holds parsed policies, policy templates, and template-linked
// policy instances. Policy and template ids are unique within the set;
// inserting a duplicate id is an error rather than an overwrite. Safe for
// concurrent readers under the same discipline as EntityStore.
type PolicySet struct {
	mu         sync.RWMutex
	policies   map[string]*Policy
	sources    map[string]string // policy id -> original text
	templates  map[string]*PolicyTemplate
	tmplSource map[string]string // template id -> original text
	links      map[string]*TemplateLink
	nextAutoID int
	id         uint64
	revision   uint64
}

// NewPolicySet creates an empty policy set.
func NewPolicySet() *PolicySet {
	return &PolicySet{
		policies:   make(map[string]*Policy),
		sources:    make(map[string]string),
		templates:  make(map[string]*PolicyTemplate),
		tmplSource: make(map[string]string),
		links:      make(map[string]*TemplateLink),
		id:         instanceSeq.Add(1),
	}
}

// Add inserts a parsed policy under its id, keeping the original source
// text for later retrieval. A duplicate id (static or template-linked) is
// an error.
func (ps *PolicySet) Add(policy *Policy, source string) error {
	if policy.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	if policy.HasSlots() {
		return fmt.Errorf("policy %q references unbound template slots", policy.ID)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.idTakenLocked(policy.ID) {
		return fmt.Errorf("duplicate policy id %q", policy.ID)
	}
	ps.policies[policy.ID] = policy
	ps.sources[policy.ID] = source
	ps.revision++
	return nil
}

// NextAutoID reserves and returns the next auto-generated policy id
// (policy0, policy1, ...). The counter never reuses an id, even after
// removals.
func (ps *PolicySet) NextAutoID() string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for {
		id := fmt.Sprintf("policy%d", ps.nextAutoID)
		ps.nextAutoID++
		if !ps.idTakenLocked(id) {
			return id
		}
	}
}

// Get returns the parsed policy for id, whether static or template-linked.
func (ps *PolicySet) Get(id string) (*Policy, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if p, ok := ps.policies[id]; ok {
		return p, true
	}
	if link, ok := ps.links[id]; ok {
		return link.Policy, true
	}
	return nil, false
}

// Source returns the original policy text for a static policy id.
func (ps *PolicySet) Source(id string) (string, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	src, ok := ps.sources[id]
	return src, ok
}

// Remove deletes a static or template-linked policy. Removing an unknown
// id is an error.
func (ps *PolicySet) Remove(id string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.policies[id]; ok {
		delete(ps.policies, id)
		delete(ps.sources, id)
		ps.revision++
		return nil
	}
	if _, ok := ps.links[id]; ok {
		delete(ps.links, id)
		ps.revision++
		return nil
	}
	return fmt.Errorf("policy %q not found", id)
}

// AddTemplate inserts a template under its id. Duplicate ids are rejected.
func (ps *PolicySet) AddTemplate(template *PolicyTemplate, source string) error {
	if template.ID == "" {
		return fmt.Errorf("template id is required")
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.templates[template.ID]; ok {
		return fmt.Errorf("duplicate template id %q", template.ID)
	}
	ps.templates[template.ID] = template
	ps.tmplSource[template.ID] = source
	ps.revision++
	return nil
}

// GetTemplate returns the template for id.
func (ps *PolicySet) GetTemplate(id string) (*PolicyTemplate, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	t, ok := ps.templates[id]
	return t, ok
}

// Templates returns every registered template, sorted by id.
func (ps *PolicySet) Templates() []*PolicyTemplate {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]*PolicyTemplate, 0, len(ps.templates))
	for _, t := range ps.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveTemplate deletes a template. A template with live links cannot be
// removed.
func (ps *PolicySet) RemoveTemplate(id string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.templates[id]; !ok {
		return fmt.Errorf("template %q not found", id)
	}
	for _, link := range ps.links {
		if link.TemplateID == id {
			return fmt.Errorf("template %q still has linked policy %q", id, link.PolicyID)
		}
	}
	delete(ps.templates, id)
	delete(ps.tmplSource, id)
	ps.revision++
	return nil
}

// Link instantiates a template and registers the result as a
// template-linked policy. Linked policies participate in authorization
// exactly like static ones.
func (ps *PolicySet) Link(policyID, templateID string, bindings map[string]EntityUID) error {
	if policyID == "" {
		return fmt.Errorf("policy id is required")
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	template, ok := ps.templates[templateID]
	if !ok {
		return fmt.Errorf("template %q not found", templateID)
	}
	if ps.idTakenLocked(policyID) {
		return fmt.Errorf("duplicate policy id %q", policyID)
	}

	policy, err := template.Instantiate(policyID, bindings)
	if err != nil {
		return fmt.Errorf("failed to link template %q: %w", templateID, err)
	}

	boundCopy := make(map[string]EntityUID, len(bindings))
	for k, v := range bindings {
		boundCopy[k] = v
	}
	ps.links[policyID] = &TemplateLink{
		PolicyID:   policyID,
		TemplateID: templateID,
		Bindings:   boundCopy,
		Policy:     policy,
	}
	ps.revision++
	return nil
}

// GetLink returns the template link for a linked policy id.
func (ps *PolicySet) GetLink(policyID string) (*TemplateLink, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	link, ok := ps.links[policyID]
	return link, ok
}

// All returns every evaluable policy (static and template-linked), sorted
// by id so evaluation and diagnostics order are deterministic.
func (ps *PolicySet) All() []*Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]*Policy, 0, len(ps.policies)+len(ps.links))
	for _, p := range ps.policies {
		out = append(out, p)
	}
	for _, link := range ps.links {
		out = append(out, link.Policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of evaluable policies, including template-linked
// ones. Templates themselves are not counted.
func (ps *PolicySet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.policies) + len(ps.links)
}

// InstanceID returns a process-unique identifier for this set. A Clone
// gets its own id, so cache keys built from (InstanceID, Revision) never
// collide across instances.
func (ps *PolicySet) InstanceID() uint64 {
	return ps.id
}

// Revision returns a counter that changes on every mutation.
func (ps *PolicySet) Revision() uint64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.revision
}

// Clone deep-copies the policy set. The copy shares no mutable state with
// the original: mutating one never changes the other's evaluation results.
func (ps *PolicySet) Clone() *PolicySet {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := NewPolicySet()
	out.nextAutoID = ps.nextAutoID
	for id, p := range ps.policies {
		out.policies[id] = p.Clone()
	}
	for id, src := range ps.sources {
		out.sources[id] = src
	}
	for id, t := range ps.templates {
		out.templates[id] = &PolicyTemplate{ID: t.ID, Policy: t.Policy.Clone()}
	}
	for id, src := range ps.tmplSource {
		out.tmplSource[id] = src
	}
	for id, link := range ps.links {
		bindings := make(map[string]EntityUID, len(link.Bindings))
		for k, v := range link.Bindings {
			bindings[k] = v
		}
		out.links[id] = &TemplateLink{
			PolicyID:   link.PolicyID,
			TemplateID: link.TemplateID,
			Bindings:   bindings,
			Policy:     link.Policy.Clone(),
		}
	}
	return out
}

// idTakenLocked reports whether id is already used by a static or linked
// policy. Caller must hold the lock.
func (ps *PolicySet) idTakenLocked(id string) bool {
	if _, ok := ps.policies[id]; ok {
		return true
	}
	_, ok := ps.links[id]
	return ok
}
