package validation

import (
	"fmt"

	"github.com/asakaida/sugi/internal/entities"
)

// Mode selects how aggressively policies are checked against a schema.
type Mode string

const (
	// ModeStrict reports every unknown entity type, unknown action, and
	// unknown attribute that the schema cannot account for, all as errors.
	ModeStrict Mode = "strict"

	// ModePermissive tolerates unknown entity types and actions, and
	// downgrades attribute-shape findings to warnings. Definite
	// contradictions of the schema (declared actions used against their
	// appliesTo declaration) stay errors.
	ModePermissive Mode = "permissive"
)

// ParseMode parses a mode name, defaulting empty input to strict.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeStrict):
		return ModeStrict, nil
	case string(ModePermissive):
		return ModePermissive, nil
	default:
		return "", fmt.Errorf("unknown validation mode %q: expected strict or permissive", s)
	}
}

// Validator checks policies against a schema.
type Validator struct {
	schema *entities.Schema
	mode   Mode
}

// NewValidator creates a Validator for the given schema and mode.
func NewValidator(schema *entities.Schema, mode Mode) *Validator {
	if mode == "" {
		mode = ModeStrict
	}
	return &Validator{schema: schema, mode: mode}
}

// ValidatePolicy checks one policy. The returned findings are empty when
// the policy conforms to the schema.
func (v *Validator) ValidatePolicy(policy *entities.Policy) []string {
	var findings []string
	findings = append(findings, v.checkScope("principal", policy.Principal, false)...)
	findings = append(findings, v.checkScope("action", policy.Action, true)...)
	findings = append(findings, v.checkScope("resource", policy.Resource, false)...)
	findings = append(findings, v.checkAppliesTo(policy)...)

	for _, cond := range policy.Conditions {
		findings = append(findings, v.checkExpr(cond.Body, policy)...)
	}
	return findings
}

// ValidateTemplate checks a template. Slotted scope constraints cannot be
// checked until linking, everything else is checked as for a policy.
func (v *Validator) ValidateTemplate(template *entities.PolicyTemplate) []string {
	return v.ValidatePolicy(template.Policy)
}

// ValidatePolicies checks every static policy, linked policy, and
// template in the set. Findings are prefixed with the policy or template
// id.
func (v *Validator) ValidatePolicies(ps *entities.PolicySet) []string {
	var findings []string
	for _, policy := range ps.All() {
		for _, finding := range v.ValidatePolicy(policy) {
			findings = append(findings, fmt.Sprintf("policy %s: %s", policy.ID, finding))
		}
	}
	for _, template := range ps.Templates() {
		for _, finding := range v.ValidateTemplate(template) {
			findings = append(findings, fmt.Sprintf("template %s: %s", template.ID, finding))
		}
	}
	return findings
}

// checkScope validates one scope constraint.
func (v *Validator) checkScope(position string, c entities.ScopeConstraint, isAction bool) []string {
	if c.HasSlot() {
		return nil
	}

	var findings []string
	check := func(uid entities.EntityUID) {
		if isAction {
			if action := v.schema.GetAction(uid.ID); action == nil {
				if v.mode == ModeStrict {
					findings = append(findings, fmt.Sprintf("Error: %s scope references undeclared action %s", position, uid))
				}
			}
			return
		}
		v.checkEntityType(uid.Type, position+" scope", &findings)
	}

	switch c.Kind {
	case entities.ScopeEq, entities.ScopeIn:
		check(c.Entity)
	case entities.ScopeInSet:
		for _, uid := range c.Entities {
			check(uid)
		}
	case entities.ScopeIs:
		v.checkEntityType(c.EntityType, position+" scope", &findings)
	case entities.ScopeIsIn:
		v.checkEntityType(c.EntityType, position+" scope", &findings)
		check(c.Entity)
	}
	return findings
}

// checkEntityType records a finding when a referenced entity type is not
// declared. Unknown types are findings only in strict mode.
func (v *Validator) checkEntityType(name, where string, findings *[]string) {
	if v.schema.GetEntityType(name) != nil {
		return
	}
	if v.mode == ModeStrict {
		*findings = append(*findings, fmt.Sprintf("Error: %s references undeclared entity type %s", where, name))
	}
}

// checkAppliesTo cross-checks constrained scopes against the appliesTo
// declarations of the actions the policy names.
func (v *Validator) checkAppliesTo(policy *entities.Policy) []string {
	var actions []entities.EntityUID
	switch policy.Action.Kind {
	case entities.ScopeEq:
		actions = []entities.EntityUID{policy.Action.Entity}
	case entities.ScopeInSet:
		actions = policy.Action.Entities
	default:
		return nil
	}

	var findings []string
	for _, actionUID := range actions {
		decl := v.schema.GetAction(actionUID.ID)
		if decl == nil {
			continue
		}
		if t, ok := scopeEntityType(policy.Principal); ok && len(decl.Principals) > 0 {
			if !typeListed(decl.Principals, t) {
				findings = append(findings, fmt.Sprintf(
					"Error: action %s does not apply to principal type %s", actionUID, t))
			}
		}
		if t, ok := scopeEntityType(policy.Resource); ok && len(decl.Resources) > 0 {
			if !typeListed(decl.Resources, t) {
				findings = append(findings, fmt.Sprintf(
					"Error: action %s does not apply to resource type %s", actionUID, t))
			}
		}
	}
	return findings
}

// scopeEntityType extracts the statically known entity type of a scope
// constraint, when it has one.
func scopeEntityType(c entities.ScopeConstraint) (string, bool) {
	if c.HasSlot() {
		return "", false
	}
	switch c.Kind {
	case entities.ScopeEq:
		return c.Entity.Type, true
	case entities.ScopeIs, entities.ScopeIsIn:
		return c.EntityType, true
	default:
		return "", false
	}
}

func typeListed(types []string, name string) bool {
	for _, t := range types {
		if t == name {
			return true
		}
	}
	return false
}

// checkExpr walks a condition expression and reports schema violations
// that are statically determinable: undeclared entity types in literals
// and, where the scope pins the principal or resource type or a single
// action, undeclared attributes on those variables and on context.
func (v *Validator) checkExpr(expr entities.Expr, policy *entities.Policy) []string {
	var findings []string
	v.walkExpr(expr, policy, &findings)
	return findings
}

func (v *Validator) walkExpr(expr entities.Expr, policy *entities.Policy, findings *[]string) {
	switch t := expr.(type) {
	case *entities.LiteralExpr:
		if ev, ok := t.Value.(entities.EntityValue); ok && !entities.IsActionUID(ev.UID) {
			v.checkEntityType(ev.UID.Type, "condition", findings)
		}

	case *entities.AndExpr:
		v.walkExpr(t.Left, policy, findings)
		v.walkExpr(t.Right, policy, findings)
	case *entities.OrExpr:
		v.walkExpr(t.Left, policy, findings)
		v.walkExpr(t.Right, policy, findings)
	case *entities.NotExpr:
		v.walkExpr(t.Operand, policy, findings)
	case *entities.NegExpr:
		v.walkExpr(t.Operand, policy, findings)
	case *entities.BinaryExpr:
		v.walkExpr(t.Left, policy, findings)
		v.walkExpr(t.Right, policy, findings)

	case *entities.AttrExpr:
		v.checkVarAttr(t.Object, t.Attr, policy, findings)
		v.walkExpr(t.Object, policy, findings)

	case *entities.HasExpr:
		v.walkExpr(t.Object, policy, findings)

	case *entities.LikeExpr:
		v.walkExpr(t.Operand, policy, findings)

	case *entities.IsExpr:
		v.checkEntityType(t.EntityType, "condition", findings)
		v.walkExpr(t.Operand, policy, findings)
		if t.In != nil {
			v.walkExpr(t.In, policy, findings)
		}

	case *entities.IfExpr:
		v.walkExpr(t.Cond, policy, findings)
		v.walkExpr(t.Then, policy, findings)
		v.walkExpr(t.Else, policy, findings)

	case *entities.SetExpr:
		for _, elem := range t.Elements {
			v.walkExpr(elem, policy, findings)
		}

	case *entities.RecordExpr:
		for _, entry := range t.Entries {
			v.walkExpr(entry.Value, policy, findings)
		}

	case *entities.CallExpr:
		for _, arg := range t.Args {
			v.walkExpr(arg, policy, findings)
		}

	case *entities.MethodCallExpr:
		v.walkExpr(t.Receiver, policy, findings)
		for _, arg := range t.Args {
			v.walkExpr(arg, policy, findings)
		}
	}
}

// checkVarAttr reports an undeclared attribute access on principal,
// resource, or context when the scope pins the variable to one declared
// shape. An error in strict mode, a warning in permissive mode.
func (v *Validator) checkVarAttr(object entities.Expr, attr string, policy *entities.Policy, findings *[]string) {
	variable, ok := object.(*entities.VarExpr)
	if !ok {
		return
	}

	var scoped entities.ScopeConstraint
	switch variable.Name {
	case entities.VarPrincipal:
		scoped = policy.Principal
	case entities.VarResource:
		scoped = policy.Resource
	case entities.VarContext:
		v.checkContextAttr(attr, policy, findings)
		return
	default:
		return
	}

	typeName, ok := scopeEntityType(scoped)
	if !ok {
		return
	}
	decl := v.schema.GetEntityType(typeName)
	if decl == nil || decl.Shape == nil {
		return
	}
	if _, declared := decl.Shape.Attributes[attr]; !declared {
		*findings = append(*findings, fmt.Sprintf(
			"%s: %s of type %s has no attribute %q", v.attrSeverity(), variable.Name, typeName, attr))
	}
}

// checkContextAttr checks a context attribute access against the declared
// context shape, when the policy's action scope pins a single declared
// action.
func (v *Validator) checkContextAttr(attr string, policy *entities.Policy, findings *[]string) {
	if policy.Action.Kind != entities.ScopeEq || policy.Action.HasSlot() {
		return
	}
	decl := v.schema.GetAction(policy.Action.Entity.ID)
	if decl == nil || decl.Context == nil {
		return
	}
	if _, declared := decl.Context.Attributes[attr]; !declared {
		*findings = append(*findings, fmt.Sprintf(
			"%s: context of action %s has no attribute %q", v.attrSeverity(), policy.Action.Entity, attr))
	}
}

// attrSeverity is the finding prefix for attribute-shape mismatches:
// errors in strict mode, warnings in permissive mode.
func (v *Validator) attrSeverity() string {
	if v.mode == ModePermissive {
		return "Warning"
	}
	return "Error"
}
