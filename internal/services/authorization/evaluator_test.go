package authorization

import (
	"strings"
	"testing"

	"github.com/asakaida/sugi/internal/entities"
	"github.com/asakaida/sugi/internal/services/parser"
)

func mustPolicy(t *testing.T, text string) *entities.Policy {
	t.Helper()
	policy, err := parser.ParsePolicy(text)
	if err != nil {
		t.Fatalf("failed to parse policy: %v", err)
	}
	return policy
}

func uid(entityType, id string) entities.EntityUID {
	return entities.NewEntityUID(entityType, id)
}

// testStore builds a small document-sharing hierarchy:
// alice -> admins -> staff, doc1 -> docs folder.
func testStore(t *testing.T) *entities.EntityStore {
	t.Helper()
	store := entities.NewEntityStore()
	add := func(u entities.EntityUID, attrs map[string]entities.Value, parents ...entities.EntityUID) {
		if err := store.Add(u, attrs, parents); err != nil {
			t.Fatalf("failed to add %s: %v", u, err)
		}
	}
	add(uid("Group", "staff"), nil)
	add(uid("Group", "admins"), nil, uid("Group", "staff"))
	add(uid("User", "alice"), map[string]entities.Value{
		"age":   entities.Long(30),
		"email": entities.String("alice@example.com"),
		"tags":  entities.Set{entities.String("eng"), entities.String("oncall")},
	}, uid("Group", "admins"))
	add(uid("User", "bob"), map[string]entities.Value{
		"age": entities.Long(15),
	})
	add(uid("Folder", "docs"), nil)
	add(uid("Doc", "doc1"), map[string]entities.Value{
		"owner": entities.EntityValue{UID: uid("User", "alice")},
	}, uid("Folder", "docs"))
	return store
}

func viewRequest(principal string, context entities.Record) *entities.Request {
	return entities.NewRequest(
		uid("User", principal),
		uid("Action", "view"),
		uid("Doc", "doc1"),
		context,
	)
}

func TestEvaluator_ScopeMatching(t *testing.T) {
	store := testStore(t)
	ev := NewEvaluator(store)

	tests := []struct {
		name      string
		policy    string
		principal string
		want      bool
	}{
		{"any matches", `permit (principal, action, resource);`, "alice", true},
		{"eq match", `permit (principal == User::"alice", action, resource);`, "alice", true},
		{"eq mismatch", `permit (principal == User::"alice", action, resource);`, "bob", false},
		{"in direct parent", `permit (principal in Group::"admins", action, resource);`, "alice", true},
		{"in transitive", `permit (principal in Group::"staff", action, resource);`, "alice", true},
		{"in non-member", `permit (principal in Group::"admins", action, resource);`, "bob", false},
		{"in self", `permit (principal in User::"alice", action, resource);`, "alice", true},
		{"action eq", `permit (principal, action == Action::"view", resource);`, "alice", true},
		{"action eq mismatch", `permit (principal, action == Action::"delete", resource);`, "alice", false},
		{"action in set", `permit (principal, action in [Action::"edit", Action::"view"], resource);`, "alice", true},
		{"action in set mismatch", `permit (principal, action in [Action::"edit", Action::"delete"], resource);`, "alice", false},
		{"resource in folder", `permit (principal, action, resource in Folder::"docs");`, "alice", true},
		{"is match", `permit (principal is User, action, resource);`, "alice", true},
		{"is mismatch", `permit (principal is Robot, action, resource);`, "alice", false},
		{"is in match", `permit (principal is User in Group::"staff", action, resource);`, "alice", true},
		{"is in wrong group", `permit (principal is User in Group::"staff", action, resource);`, "bob", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(mustPolicy(t, tt.policy), viewRequest(tt.principal, nil))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected satisfied=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluator_NilStoreHierarchy(t *testing.T) {
	// Without a store, `in` reduces to equality.
	ev := NewEvaluator(nil)

	satisfied, err := ev.Evaluate(
		mustPolicy(t, `permit (principal in User::"alice", action, resource);`),
		viewRequest("alice", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !satisfied {
		t.Error("expected in to match the entity itself")
	}

	satisfied, err = ev.Evaluate(
		mustPolicy(t, `permit (principal in Group::"admins", action, resource);`),
		viewRequest("alice", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if satisfied {
		t.Error("expected no hierarchy without a store")
	}
}

func TestEvaluator_UnresolvedSlot(t *testing.T) {
	template, err := parser.ParseTemplate("t", `permit (principal == ?principal, action, resource);`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := NewEvaluator(testStore(t))
	_, err = ev.Evaluate(template.Policy, viewRequest("alice", nil))
	if err == nil || !strings.Contains(err.Error(), "slot") {
		t.Errorf("expected unresolved slot error, got %v", err)
	}
}

func TestEvaluator_Conditions(t *testing.T) {
	store := testStore(t)
	ev := NewEvaluator(store)

	tests := []struct {
		name      string
		policy    string
		principal string
		context   entities.Record
		want      bool
	}{
		{"when true", `permit (principal, action, resource) when { principal.age >= 18 };`, "alice", nil, true},
		{"when false", `permit (principal, action, resource) when { principal.age >= 18 };`, "bob", nil, false},
		{"unless false passes", `permit (principal, action, resource) unless { principal.age < 18 };`, "alice", nil, true},
		{"unless true blocks", `permit (principal, action, resource) unless { principal.age < 18 };`, "bob", nil, false},
		{"both clauses", `permit (principal, action, resource) when { principal.age > 0 } unless { principal.age > 20 };`, "bob", nil, true},
		{"context access", `permit (principal, action, resource) when { context.mfa };`, "alice",
			entities.Record{"mfa": entities.Boolean(true)}, true},
		{"context false", `permit (principal, action, resource) when { context.mfa };`, "alice",
			entities.Record{"mfa": entities.Boolean(false)}, false},
		{"has present", `permit (principal, action, resource) when { principal has email };`, "alice", nil, true},
		{"has absent", `permit (principal, action, resource) when { principal has email };`, "bob", nil, false},
		{"has guards access", `permit (principal, action, resource) when { principal has email && principal.email like "*@example.com" };`, "bob", nil, false},
		{"like match", `permit (principal, action, resource) when { principal.email like "alice@*" };`, "alice", nil, true},
		{"like mismatch", `permit (principal, action, resource) when { principal.email like "bob@*" };`, "alice", nil, false},
		{"set contains", `permit (principal, action, resource) when { principal.tags.contains("oncall") };`, "alice", nil, true},
		{"set containsAll", `permit (principal, action, resource) when { principal.tags.containsAll(["eng", "oncall"]) };`, "alice", nil, true},
		{"set containsAny", `permit (principal, action, resource) when { principal.tags.containsAny(["sales", "eng"]) };`, "alice", nil, true},
		{"set containsAny miss", `permit (principal, action, resource) when { principal.tags.containsAny(["sales"]) };`, "alice", nil, false},
		{"entity attr ref", `permit (principal, action, resource) when { resource.owner == principal };`, "alice", nil, true},
		{"entity attr ref mismatch", `permit (principal, action, resource) when { resource.owner == principal };`, "bob", nil, false},
		{"in expression", `permit (principal, action, resource) when { principal in Group::"staff" };`, "alice", nil, true},
		{"in set expression", `permit (principal, action, resource) when { principal in [Group::"staff", Group::"x"] };`, "alice", nil, true},
		{"is expression", `permit (principal, action, resource) when { resource is Doc };`, "alice", nil, true},
		{"is in expression", `permit (principal, action, resource) when { resource is Doc in Folder::"docs" };`, "alice", nil, true},
		{"if then else", `permit (principal, action, resource) when { if principal.age >= 18 then true else context has override };`, "alice", nil, true},
		{"if else branch", `permit (principal, action, resource) when { if principal.age >= 18 then true else context has override };`, "bob", nil, false},
		{"arithmetic", `permit (principal, action, resource) when { principal.age + 5 == 35 && principal.age * 2 > 50 };`, "alice", nil, true},
		{"string methods", `permit (principal, action, resource) when { principal.email.startsWith("alice") && principal.email.endsWith(".com") };`, "alice", nil, true},
		{"quoted attr", `permit (principal, action, resource) when { principal["age"] == 30 };`, "alice", nil, true},
		{"record literal", `permit (principal, action, resource) when { {low: 18, high: 65}.low <= principal.age };`, "alice", nil, true},
		{"not", `permit (principal, action, resource) when { !(principal.age < 18) };`, "alice", nil, true},
		{"negation", `permit (principal, action, resource) when { -principal.age == -30 };`, "alice", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(mustPolicy(t, tt.policy), viewRequest(tt.principal, tt.context))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected satisfied=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluator_FailClosedErrors(t *testing.T) {
	store := testStore(t)
	ev := NewEvaluator(store)

	tests := []struct {
		name    string
		policy  string
		wantErr string
	}{
		{"missing attribute", `permit (principal, action, resource) when { principal.missing == 1 };`, "no attribute"},
		{"unknown entity", `permit (principal, action, resource) when { User::"ghost".age == 1 };`, "does not exist"},
		{"non-bool condition", `permit (principal, action, resource) when { 1 + 1 };`, "must evaluate to Bool"},
		{"type error comparison", `permit (principal, action, resource) when { principal.email > 5 };`, "requires Long"},
		{"type error arithmetic", `permit (principal, action, resource) when { principal.email + 1 == 2 };`, "requires Long"},
		{"and needs bool", `permit (principal, action, resource) when { 1 && true };`, "expected Bool"},
		{"overflow add", `permit (principal, action, resource) when { 9223372036854775807 + 1 == 0 };`, "overflow"},
		{"overflow mul", `permit (principal, action, resource) when { 9223372036854775807 * 2 == 0 };`, "overflow"},
		{"overflow neg", `permit (principal, action, resource) when { -(-9223372036854775808) == 0 };`, "overflow"},
		{"like on non-string", `permit (principal, action, resource) when { principal.age like "3*" };`, "String operand"},
		{"in on non-entity", `permit (principal, action, resource) when { 1 in Group::"staff" };`, "entity on the left"},
		{"in mixed set", `permit (principal, action, resource) when { principal in [1, Group::"staff"] };`, "set of entities"},
		{"has on long", `permit (principal, action, resource) when { principal.age has x };`, "has requires"},
		{"unknown method", `permit (principal, action, resource) when { principal.tags.frobnicate("x") };`, "no method"},
		{"bad ip literal", `permit (principal, action, resource) when { ip("not-an-ip").isIpv4() };`, ""},
		{"bad decimal literal", `permit (principal, action, resource) when { decimal("abc").lessThan(decimal("1.0")) };`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			satisfied, err := ev.Evaluate(mustPolicy(t, tt.policy), viewRequest("alice", nil))
			if err == nil {
				t.Fatal("expected error")
			}
			if satisfied {
				t.Error("errored policy must not be satisfied")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestEvaluator_ShortCircuit(t *testing.T) {
	// The right side never evaluates when the left side decides, so a
	// would-be error stays hidden.
	store := testStore(t)
	ev := NewEvaluator(store)

	tests := []struct {
		name   string
		policy string
		want   bool
	}{
		{"and short circuit", `permit (principal, action, resource) when { false && principal.missing == 1 };`, false},
		{"or short circuit", `permit (principal, action, resource) when { true || principal.missing == 1 };`, true},
		{"if untaken branch", `permit (principal, action, resource) when { if true then true else principal.missing == 1 };`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(mustPolicy(t, tt.policy), viewRequest("alice", nil))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected satisfied=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluator_ExtensionValues(t *testing.T) {
	store := testStore(t)
	ev := NewEvaluator(store)

	tests := []struct {
		name   string
		policy string
		want   bool
	}{
		{"decimal lessThan", `permit (principal, action, resource) when { decimal("1.25").lessThan(decimal("2.0")) };`, true},
		{"decimal greaterThanOrEqual", `permit (principal, action, resource) when { decimal("2.00").greaterThanOrEqual(decimal("2.0")) };`, true},
		{"decimal not less", `permit (principal, action, resource) when { decimal("3.5").lessThan(decimal("2.0")) };`, false},
		{"ip v4", `permit (principal, action, resource) when { ip("192.168.0.1").isIpv4() };`, true},
		{"ip not v6", `permit (principal, action, resource) when { ip("192.168.0.1").isIpv6() };`, false},
		{"ip v6", `permit (principal, action, resource) when { ip("::1").isIpv6() };`, true},
		{"ip loopback", `permit (principal, action, resource) when { ip("127.0.0.1").isLoopback() };`, true},
		{"ip multicast", `permit (principal, action, resource) when { ip("224.0.0.1").isMulticast() };`, true},
		{"ip in range", `permit (principal, action, resource) when { ip("10.1.2.3").isInRange(ip("10.0.0.0/8")) };`, true},
		{"ip out of range", `permit (principal, action, resource) when { ip("11.0.0.1").isInRange(ip("10.0.0.0/8")) };`, false},
		{"range not in host", `permit (principal, action, resource) when { ip("10.0.0.0/8").isInRange(ip("10.1.2.3")) };`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(mustPolicy(t, tt.policy), viewRequest("alice", nil))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected satisfied=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluator_DepthLimit(t *testing.T) {
	store := testStore(t)
	ev := NewEvaluatorWithDepth(store, 5)

	// Nesting within the limit evaluates fine.
	ok, err := ev.Evaluate(
		mustPolicy(t, `permit (principal, action, resource) when { (true && true) };`),
		viewRequest("alice", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected policy to be satisfied")
	}

	// Nesting past the limit is an evaluation error.
	deep := "true"
	for i := 0; i < 10; i++ {
		deep = "(" + deep + " && true)"
	}
	_, err = ev.Evaluate(
		mustPolicy(t, `permit (principal, action, resource) when { `+deep+` };`),
		viewRequest("alice", nil))
	if err == nil || !strings.Contains(err.Error(), "nesting") {
		t.Errorf("expected nesting limit error, got %v", err)
	}
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		s       string
		pattern string
		want    bool
	}{
		{"hello", "hello", true},
		{"hello", "h*", true},
		{"hello", "*o", true},
		{"hello", "h*l*o", true},
		{"hello", "*", true},
		{"", "*", true},
		{"", "", true},
		{"hello", "", false},
		{"hello", "h?llo", false},
		{"a*b", `a\*b`, true},
		{"axb", `a\*b`, false},
		{"a*b", "a*b", true},
		{"document.pdf", "*.pdf", true},
		{"document.pdff", "*.pdf", false},
		{"aaa", "a*a", true},
		{"ab", "a*b*", true},
		{"star*mid*star", `*\**`, true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.s, func(t *testing.T) {
			if got := matchWildcard(tt.s, tt.pattern); got != tt.want {
				t.Errorf("matchWildcard(%q, %q) = %v, want %v", tt.s, tt.pattern, got, tt.want)
			}
		})
	}
}
