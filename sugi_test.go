package sugi

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

// docStore builds a document-sharing hierarchy used throughout the
// facade tests.
func docStore(t *testing.T) *EntityStore {
	t.Helper()
	store := NewEntityStore()
	add := func(uid string, attrs map[string]interface{}, parents ...string) {
		if err := store.AddEntity(uid, attrs, parents); err != nil {
			t.Fatalf("failed to add %s: %v", uid, err)
		}
	}
	add(`Group::"staff"`, nil)
	add(`Group::"admins"`, nil, `Group::"staff"`)
	add(`User::"alice"`, map[string]interface{}{"age": 30, "email": "alice@example.com"}, `Group::"admins"`)
	add(`User::"bob"`, map[string]interface{}{"age": 15})
	add(`Folder::"docs"`, nil)
	add(`Doc::"doc1"`, map[string]interface{}{"public": false}, `Folder::"docs"`)
	return store
}

func viewReq(t *testing.T, principal string) *Request {
	t.Helper()
	req, err := NewRequest(principal, `Action::"view"`, `Doc::"doc1"`, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return req
}

func TestPolicySet_AddPolicy(t *testing.T) {
	ps := NewPolicySet()

	id, err := ps.AddPolicy(`permit (principal, action, resource);`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "policy0" {
		t.Errorf("expected policy0, got %s", id)
	}

	id, err = ps.AddPolicy(`forbid (principal, action, resource);`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "policy1" {
		t.Errorf("expected policy1, got %s", id)
	}
	if ps.Len() != 2 {
		t.Errorf("expected 2 policies, got %d", ps.Len())
	}

	// The source text round-trips exactly.
	text, err := ps.PolicyText("policy0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != `permit (principal, action, resource);` {
		t.Errorf("unexpected policy text %q", text)
	}

	if _, err := ps.AddPolicy(`not a policy`); err == nil {
		t.Error("expected parse error")
	}
}

func TestPolicySet_AddPolicyWithID(t *testing.T) {
	ps := NewPolicySet()

	if err := ps.AddPolicyWithID("custom", `permit (principal, action, resource);`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ps.AddPolicyWithID("custom", `permit (principal, action, resource);`); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestPolicySet_AddPolicies(t *testing.T) {
	ps := NewPolicySet()

	ids, err := ps.AddPolicies(`
// staff can view
permit (principal in Group::"staff", action == Action::"view", resource);
forbid (principal, action, resource) when { resource.confidential };
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"policy0", "policy1"}) {
		t.Errorf("expected [policy0 policy1], got %v", ids)
	}

	// Any parse failure adds nothing.
	if _, err := ps.AddPolicies(`permit (principal, action, resource); garbage`); err == nil {
		t.Error("expected parse error")
	}
	if ps.Len() != 2 {
		t.Errorf("expected 2 policies after failed batch, got %d", ps.Len())
	}

	if _, err := ps.AddPolicies(``); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestPolicySet_RemovePolicy(t *testing.T) {
	ps := NewPolicySet()
	id, err := ps.AddPolicy(`permit (principal, action, resource);`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ps.RemovePolicy(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps.Len() != 0 {
		t.Errorf("expected empty set, got %d", ps.Len())
	}
	if err := ps.RemovePolicy(id); err == nil {
		t.Error("expected error removing missing policy")
	}
}

func TestPolicySet_Templates(t *testing.T) {
	ps := NewPolicySet()
	store := docStore(t)

	err := ps.AddTemplate("grant-view", `permit (principal == ?principal, action == Action::"view", resource in ?resource);`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A template without slots is rejected.
	if err := ps.AddTemplate("no-slots", `permit (principal, action, resource);`); err == nil {
		t.Error("expected error for slotless template")
	}

	// Templates alone decide nothing.
	decision := IsAuthorized(viewReq(t, `User::"bob"`), ps, store)
	if decision.IsAllowed() {
		t.Error("expected Deny before linking")
	}

	err = ps.LinkTemplate("grant-view", "bob-view", map[string]string{
		"principal": `User::"bob"`,
		"resource":  `Folder::"docs"`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decision = IsAuthorized(viewReq(t, `User::"bob"`), ps, store)
	if !decision.IsAllowed() {
		t.Errorf("expected Allow after linking, got %v", decision.Diagnostics)
	}
	if !reflect.DeepEqual(decision.Diagnostics, []string{"Reason: bob-view"}) {
		t.Errorf("unexpected diagnostics %v", decision.Diagnostics)
	}

	// The linked policy behaves exactly like its handwritten equivalent.
	handwritten := NewPolicySet()
	if err := handwritten.AddPolicyWithID("bob-view",
		`permit (principal == User::"bob", action == Action::"view", resource in Folder::"docs");`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	equivalent := IsAuthorized(viewReq(t, `User::"bob"`), handwritten, store)
	if equivalent.Outcome != decision.Outcome {
		t.Errorf("linked and handwritten policies disagree: %s vs %s", decision.Outcome, equivalent.Outcome)
	}

	// Linked policies render with slots filled.
	text, err := ps.PolicyText("bob-view")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(text, "?principal") || !strings.Contains(text, `User::"bob"`) {
		t.Errorf("expected slots filled in rendered text, got %q", text)
	}

	// The template cannot go while its instantiations remain.
	if err := ps.RemoveTemplate("grant-view"); err == nil {
		t.Error("expected error removing template with live links")
	}
	if err := ps.RemovePolicy("bob-view"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ps.RemoveTemplate("grant-view"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPolicySet_LinkErrors(t *testing.T) {
	ps := NewPolicySet()
	if err := ps.AddTemplate("t", `permit (principal == ?principal, action, resource);`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name       string
		templateID string
		policyID   string
		bindings   map[string]string
	}{
		{"unknown template", "nope", "p1", map[string]string{"principal": `User::"a"`}},
		{"missing binding", "t", "p1", map[string]string{}},
		{"unreferenced slot", "t", "p1", map[string]string{"principal": `User::"a"`, "resource": `Doc::"d"`}},
		{"malformed uid", "t", "p1", map[string]string{"principal": `not a uid`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ps.LinkTemplate(tt.templateID, tt.policyID, tt.bindings); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPolicySet_Clone(t *testing.T) {
	ps := NewPolicySet()
	if _, err := ps.AddPolicy(`permit (principal, action, resource);`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clone := ps.Clone()
	if _, err := clone.AddPolicy(`forbid (principal, action, resource);`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ps.Len() != 1 {
		t.Errorf("expected original untouched, got %d policies", ps.Len())
	}
	if clone.Len() != 2 {
		t.Errorf("expected 2 policies in clone, got %d", clone.Len())
	}
}

func TestEntityStore_AddEntity(t *testing.T) {
	store := NewEntityStore()

	err := store.AddEntity(`User::"alice"`, map[string]interface{}{
		"age":   30,
		"tags":  []interface{}{"eng", "oncall"},
		"prefs": map[string]interface{}{"theme": "dark"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 entity, got %d", store.Len())
	}

	if err := store.AddEntity(`garbage`, nil, nil); err == nil {
		t.Error("expected error for malformed uid")
	}
	if err := store.AddEntity(`User::"x"`, nil, []string{"bad parent"}); err == nil {
		t.Error("expected error for malformed parent uid")
	}
	if err := store.AddEntity(`User::"y"`, map[string]interface{}{"f": 1.5}, nil); err == nil {
		t.Error("expected error for non-integral float attribute")
	}

	// Cycles are rejected.
	if err := store.AddEntity(`Group::"a"`, nil, []string{`Group::"b"`}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AddEntity(`Group::"b"`, nil, []string{`Group::"a"`}); err == nil {
		t.Error("expected cycle error")
	}

	store.Clear()
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d", store.Len())
	}
}

func TestIsAuthorized_DefaultDeny(t *testing.T) {
	decision := IsAuthorized(viewReq(t, `User::"alice"`), NewPolicySet(), nil)
	if decision.IsAllowed() {
		t.Error("expected Deny")
	}
	if !reflect.DeepEqual(decision.Diagnostics, []string{"Reason: no applicable permit policy"}) {
		t.Errorf("unexpected diagnostics %v", decision.Diagnostics)
	}
}

func TestIsAuthorized_ForbidWins(t *testing.T) {
	ps := NewPolicySet()
	store := docStore(t)

	if _, err := ps.AddPolicy(`permit (principal in Group::"staff", action, resource);`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ps.AddPolicy(`forbid (principal, action, resource) when { principal.age < 18 };`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Alice is staff through the admins group and of age.
	decision := IsAuthorized(viewReq(t, `User::"alice"`), ps, store)
	if !decision.IsAllowed() {
		t.Errorf("expected Allow, got %v", decision.Diagnostics)
	}

	// Bob is not staff, and under 18 besides.
	decision = IsAuthorized(viewReq(t, `User::"bob"`), ps, store)
	if decision.IsAllowed() {
		t.Error("expected Deny")
	}
	if !reflect.DeepEqual(decision.Diagnostics, []string{"Reason: policy1"}) {
		t.Errorf("unexpected diagnostics %v", decision.Diagnostics)
	}
}

func TestIsAuthorized_ErrorDiagnostics(t *testing.T) {
	ps := NewPolicySet()
	if _, err := ps.AddPolicy(`permit (principal, action, resource) when { principal.missing == 1 };`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decision := IsAuthorized(viewReq(t, `User::"alice"`), ps, docStore(t))
	if decision.IsAllowed() {
		t.Error("expected Deny")
	}
	if len(decision.Diagnostics) == 0 || !strings.HasPrefix(decision.Diagnostics[0], "Error: policy policy0: ") {
		t.Errorf("expected error diagnostic, got %v", decision.Diagnostics)
	}
}

func TestIsAuthorized_Context(t *testing.T) {
	ps := NewPolicySet()
	if _, err := ps.AddPolicy(`permit (principal, action, resource) when { context.mfa };`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, err := NewRequest(`User::"alice"`, `Action::"view"`, `Doc::"doc1"`,
		map[string]interface{}{"mfa": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision := IsAuthorized(req, ps, nil); !decision.IsAllowed() {
		t.Errorf("expected Allow with mfa, got %v", decision.Diagnostics)
	}

	req, err = NewRequest(`User::"alice"`, `Action::"view"`, `Doc::"doc1"`,
		map[string]interface{}{"mfa": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision := IsAuthorized(req, ps, nil); decision.IsAllowed() {
		t.Error("expected Deny without mfa")
	}
}

const facadeSchema = `
entity User in [Group] {
	age: Long,
	email: String
};
entity Group;
entity Doc in [Folder] {
	public: Bool
};
entity Folder;
action view appliesTo {
	principal: [User],
	resource: [Doc],
	context: {
		mfa: Bool,
		note?: String
	}
};
`

func TestValidatePolicy(t *testing.T) {
	schema, err := ParseSchema(facadeSchema)
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	findings, err := ValidatePolicy(
		`permit (principal is User, action == Action::"view", resource is Doc);`, schema, ModeStrict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings, got %v", findings)
	}

	findings, err = ValidatePolicy(
		`permit (principal is Robot, action, resource);`, schema, ModeStrict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) == 0 {
		t.Error("expected findings for undeclared entity type")
	}

	// Permissive mode lets unknown names pass.
	findings, err = ValidatePolicy(
		`permit (principal is Robot, action, resource);`, schema, ModePermissive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings in permissive mode, got %v", findings)
	}

	if _, err := ValidatePolicy(`permit (principal, action, resource);`, schema, "lenient"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := ValidatePolicy(`garbage`, schema, ModeStrict); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidatePolicySyntax(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"valid policy", `permit (principal, action, resource);`, false},
		{"valid with condition", `permit (principal == User::"alice", action, resource) when { context.mfa };`, false},
		{"missing semicolon", `permit (principal, action, resource)`, true},
		{"missing commas", `permit (principal action resource);`, true},
		{"garbage", `allow everything`, true},
		{"slots rejected", `permit (principal == ?principal, action, resource);`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolicySyntax(tt.text)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateTemplateSyntax(t *testing.T) {
	if err := ValidateTemplateSyntax(`permit (principal == ?principal, action, resource == Doc::"d");`); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateTemplateSyntax(`permit (principal, action, resource);`); err == nil {
		t.Error("expected error for a template without slots")
	}
	if err := ValidateTemplateSyntax(`permit (principal == ?principal action resource);`); err == nil {
		t.Error("expected syntax error")
	}
}

func TestValidatePolicy_NilSchema(t *testing.T) {
	if _, err := ValidatePolicy(`permit (principal, action, resource);`, nil, ModeStrict); err == nil {
		t.Error("expected error for nil schema")
	}
	if _, err := ValidateTemplate(`permit (principal == ?principal, action, resource);`, nil, ModeStrict); err == nil {
		t.Error("expected error for nil schema")
	}
	if _, err := ValidatePolicies(NewPolicySet(), nil, ModeStrict); err == nil {
		t.Error("expected error for nil schema")
	}
	if _, err := NewRequestWithSchema(`User::"a"`, `Action::"view"`, `Doc::"d"`, nil, nil); err == nil {
		t.Error("expected error for nil schema")
	}
}

func TestValidatePolicies(t *testing.T) {
	schema, err := ParseSchema(facadeSchema)
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	ps := NewPolicySet()
	if _, err := ps.AddPolicy(`permit (principal is Robot, action, resource);`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	findings, err := ValidatePolicies(ps, schema, ModeStrict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || !strings.HasPrefix(findings[0], "policy policy0: ") {
		t.Errorf("expected finding prefixed with policy id, got %v", findings)
	}
}

func TestNewRequestWithSchema(t *testing.T) {
	schema, err := ParseSchema(facadeSchema)
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	// Conforming request, optional context attribute omitted.
	_, err = NewRequestWithSchema(`User::"alice"`, `Action::"view"`, `Doc::"doc1"`,
		map[string]interface{}{"mfa": true}, schema)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	tests := []struct {
		name      string
		principal string
		action    string
		resource  string
		context   map[string]interface{}
	}{
		{"undeclared action", `User::"a"`, `Action::"fly"`, `Doc::"d"`, map[string]interface{}{"mfa": true}},
		{"wrong principal type", `Group::"g"`, `Action::"view"`, `Doc::"d"`, map[string]interface{}{"mfa": true}},
		{"wrong resource type", `User::"a"`, `Action::"view"`, `Folder::"f"`, map[string]interface{}{"mfa": true}},
		{"missing required context", `User::"a"`, `Action::"view"`, `Doc::"d"`, nil},
		{"wrong context type", `User::"a"`, `Action::"view"`, `Doc::"d"`, map[string]interface{}{"mfa": "yes"}},
		{"undeclared context attr", `User::"a"`, `Action::"view"`, `Doc::"d"`, map[string]interface{}{"mfa": true, "extra": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRequestWithSchema(tt.principal, tt.action, tt.resource, tt.context, schema); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAuthorizer_Caching(t *testing.T) {
	a, err := NewAuthorizer(AuthorizerConfig{
		CacheEnabled:    true,
		CacheMaxEntries: 100,
		CacheTTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	ps := NewPolicySet()
	store := docStore(t)
	if _, err := ps.AddPolicy(`permit (principal in Group::"staff", action, resource);`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	first, err := a.IsAuthorized(ctx, viewReq(t, `User::"alice"`), ps, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.IsAllowed() {
		t.Fatalf("expected Allow, got %v", first.Diagnostics)
	}

	// Repeated question, same answer.
	second, err := a.IsAuthorized(ctx, viewReq(t, `User::"alice"`), ps, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Outcome != first.Outcome || !reflect.DeepEqual(second.Diagnostics, first.Diagnostics) {
		t.Errorf("cached decision differs: %v vs %v", first, second)
	}

	// A policy change invalidates the cache.
	if _, err := ps.AddPolicy(`forbid (principal == User::"alice", action, resource);`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	third, err := a.IsAuthorized(ctx, viewReq(t, `User::"alice"`), ps, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.IsAllowed() {
		t.Error("expected Deny after adding forbid")
	}
}

func TestAuthorizer_MetricsCoexist(t *testing.T) {
	// Each metrics-enabled Authorizer owns its own registry, so a second
	// one in the same process must construct without a registration
	// conflict.
	first, err := NewAuthorizer(AuthorizerConfig{MetricsEnabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer first.Close()

	second, err := NewAuthorizer(AuthorizerConfig{MetricsEnabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer second.Close()

	if first.MetricsRegistry() == nil || second.MetricsRegistry() == nil {
		t.Fatal("expected a metrics registry on each Authorizer")
	}
	if first.MetricsRegistry() == second.MetricsRegistry() {
		t.Error("expected distinct metrics registries")
	}

	plain, err := NewAuthorizer(AuthorizerConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer plain.Close()
	if plain.MetricsRegistry() != nil {
		t.Error("expected no registry when metrics are disabled")
	}
}

func TestAuthorizer_NoCache(t *testing.T) {
	a, err := NewAuthorizer(AuthorizerConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	ps := NewPolicySet()
	if _, err := ps.AddPolicy(`permit (principal, action, resource);`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decision, err := a.IsAuthorized(context.Background(), viewReq(t, `User::"alice"`), ps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.IsAllowed() {
		t.Errorf("expected Allow, got %v", decision.Diagnostics)
	}
}
