package entities

import (
	"fmt"
	"strings"
)

// Request is one authorization question: may principal perform action on
// resource, given this context. Immutable once constructed.
type Request struct {
	Principal EntityUID
	Action    EntityUID
	Resource  EntityUID
	Context   Record
}

// NewRequest creates a request. A nil context becomes an empty record.
func NewRequest(principal, action, resource EntityUID, context Record) *Request {
	if context == nil {
		context = Record{}
	}
	return &Request{
		Principal: principal,
		Action:    action,
		Resource:  resource,
		Context:   context,
	}
}

// NewRequestWithSchema creates a request and validates it against the
// schema at construction time: the action must be declared, the principal
// and resource types must be allowed for the action, and the context must
// match the action's declared context shape. Validation failure is
// reported, never silently ignored.
func NewRequestWithSchema(principal, action, resource EntityUID, context Record, schema *Schema) (*Request, error) {
	req := NewRequest(principal, action, resource, context)
	if err := req.Validate(schema); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the request against a schema.
func (r *Request) Validate(schema *Schema) error {
	if !IsActionUID(r.Action) {
		return fmt.Errorf("action %s is not an Action entity", r.Action)
	}
	decl := schema.GetAction(r.Action.ID)
	if decl == nil {
		return fmt.Errorf("action %q is not declared in the schema", r.Action.ID)
	}

	if len(decl.Principals) > 0 && !containsType(decl.Principals, r.Principal.Type) {
		return fmt.Errorf("action %q does not apply to principal type %s (allowed: %s)",
			decl.Name, r.Principal.Type, strings.Join(decl.Principals, ", "))
	}
	if len(decl.Resources) > 0 && !containsType(decl.Resources, r.Resource.Type) {
		return fmt.Errorf("action %q does not apply to resource type %s (allowed: %s)",
			decl.Name, r.Resource.Type, strings.Join(decl.Resources, ", "))
	}

	if decl.Context != nil {
		if findings := decl.Context.CheckRecord(r.Context, "context"); len(findings) > 0 {
			return fmt.Errorf("request context does not match schema: %s", strings.Join(findings, "; "))
		}
	}
	return nil
}

// String renders the request for diagnostics.
func (r *Request) String() string {
	return fmt.Sprintf("Request(principal=%s, action=%s, resource=%s)", r.Principal, r.Action, r.Resource)
}

func containsType(types []string, name string) bool {
	for _, t := range types {
		if t == name {
			return true
		}
	}
	return false
}
