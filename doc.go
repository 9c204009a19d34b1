// Package sugi is an embeddable authorization decision engine.
//
// Policies are written in a small declarative language: each policy
// permits or forbids a (principal, action, resource) triple, optionally
// narrowed by when and unless conditions over entity attributes and
// request context. Entities form a hierarchy, so group and folder
// membership participates in decisions through the `in` operator.
//
// Decisions combine deny-by-default with forbid-wins: a request is
// allowed only when at least one permit policy is satisfied and no forbid
// policy is. A policy that fails during evaluation is treated as not
// satisfied and reported in the decision diagnostics, so an error can
// never widen access.
//
//	ps := sugi.NewPolicySet()
//	ps.AddPolicy(`permit (principal == User::"alice", action, resource);`)
//
//	store := sugi.NewEntityStore()
//	store.AddEntity(`User::"alice"`, map[string]interface{}{"age": 30}, nil)
//
//	req, _ := sugi.NewRequest(`User::"alice"`, `Action::"view"`, `Doc::"readme"`, nil)
//	decision := sugi.IsAuthorized(req, ps, store)
//	if decision.IsAllowed() {
//		// ...
//	}
//
// Templates are policies with ?principal / ?resource placeholders that
// are instantiated by linking concrete entities. A schema, parsed from a
// declaration language, supports validating policies (strict or
// permissive) and requests before use.
package sugi
