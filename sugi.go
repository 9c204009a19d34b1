package sugi

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asakaida/sugi/internal/entities"
	"github.com/asakaida/sugi/internal/infrastructure/config"
	"github.com/asakaida/sugi/internal/infrastructure/metrics"
	"github.com/asakaida/sugi/internal/services/authorization"
	"github.com/asakaida/sugi/internal/services/parser"
	"github.com/asakaida/sugi/internal/services/validation"
	"github.com/asakaida/sugi/pkg/cache"
	"github.com/asakaida/sugi/pkg/cache/memorycache"
)

// Validation modes for ValidatePolicy, ValidateTemplate, and
// ValidatePolicies.
const (
	ModeStrict     = string(validation.ModeStrict)
	ModePermissive = string(validation.ModePermissive)
)

// PolicySet is a mutable collection of policies, templates, and
// template-linked policies. Safe for concurrent use.
type PolicySet struct {
	inner *entities.PolicySet
}

// NewPolicySet creates an empty policy set.
func NewPolicySet() *PolicySet {
	return &PolicySet{inner: entities.NewPolicySet()}
}

// AddPolicy parses one policy and adds it under the next free auto id
// (policy0, policy1, ...). Returns the assigned id.
func (ps *PolicySet) AddPolicy(text string) (string, error) {
	policy, err := parser.ParsePolicy(text)
	if err != nil {
		return "", err
	}
	policy.ID = ps.inner.NextAutoID()
	if err := ps.inner.Add(policy, text); err != nil {
		return "", err
	}
	return policy.ID, nil
}

// AddPolicyWithID parses one policy and adds it under the given id.
// The id must not be in use.
func (ps *PolicySet) AddPolicyWithID(id, text string) error {
	policy, err := parser.ParsePolicy(text)
	if err != nil {
		return err
	}
	policy.ID = id
	return ps.inner.Add(policy, text)
}

// AddPolicies parses a sequence of policies and adds each under the next
// free auto id, in source order. Returns the assigned ids. Nothing is
// added when any policy fails to parse.
func (ps *PolicySet) AddPolicies(text string) ([]string, error) {
	policies, err := parser.ParsePolicies(text)
	if err != nil {
		return nil, err
	}
	gen := parser.NewGenerator()
	ids := make([]string, len(policies))
	for i, policy := range policies {
		policy.ID = ps.inner.NextAutoID()
		if err := ps.inner.Add(policy, gen.Generate(policy)); err != nil {
			for _, added := range ids[:i] {
				_ = ps.inner.Remove(added)
			}
			return nil, err
		}
		ids[i] = policy.ID
	}
	return ids, nil
}

// RemovePolicy removes a static or template-linked policy by id.
func (ps *PolicySet) RemovePolicy(id string) error {
	return ps.inner.Remove(id)
}

// PolicyText returns the text of a policy by id. Linked policies render
// with their slots filled in.
func (ps *PolicySet) PolicyText(id string) (string, error) {
	if source, ok := ps.inner.Source(id); ok {
		return source, nil
	}
	if link, ok := ps.inner.GetLink(id); ok {
		return parser.NewGenerator().Generate(link.Policy), nil
	}
	return "", fmt.Errorf("no policy with id %q", id)
}

// AddTemplate parses a policy template and registers it under the given
// id. The template must contain at least one of ?principal, ?resource.
func (ps *PolicySet) AddTemplate(id, text string) error {
	template, err := parser.ParseTemplate(id, text)
	if err != nil {
		return err
	}
	return ps.inner.AddTemplate(template, text)
}

// RemoveTemplate removes a template. It fails while linked policies
// instantiated from the template remain in the set.
func (ps *PolicySet) RemoveTemplate(id string) error {
	return ps.inner.RemoveTemplate(id)
}

// LinkTemplate instantiates a template into a concrete policy under
// policyID. Bindings map slot names ("principal", "resource") to entity
// UIDs in their textual form, e.g. `User::"alice"`.
func (ps *PolicySet) LinkTemplate(templateID, policyID string, bindings map[string]string) error {
	parsed := make(map[string]entities.EntityUID, len(bindings))
	for slot, text := range bindings {
		uid, err := entities.ParseEntityUID(text)
		if err != nil {
			return fmt.Errorf("binding for slot %q: %w", slot, err)
		}
		parsed[slot] = uid
	}
	return ps.inner.Link(policyID, templateID, parsed)
}

// Len returns the number of policies in the set, linked policies
// included. Templates are not counted.
func (ps *PolicySet) Len() int {
	return ps.inner.Len()
}

// Clone returns a deep copy sharing no state with the receiver.
func (ps *PolicySet) Clone() *PolicySet {
	return &PolicySet{inner: ps.inner.Clone()}
}

// EntityStore holds entities, their attributes, and the entity
// hierarchy. Safe for concurrent use.
type EntityStore struct {
	inner *entities.EntityStore
}

// NewEntityStore creates an empty entity store.
func NewEntityStore() *EntityStore {
	return &EntityStore{inner: entities.NewEntityStore()}
}

// AddEntity adds or replaces an entity. The uid and parent uids are given
// in textual form, e.g. `User::"alice"`. Attribute values may be bool,
// int, int64, string, []interface{}, or map[string]interface{}. Adding an
// entity whose parents would close a cycle is an error.
func (s *EntityStore) AddEntity(uid string, attrs map[string]interface{}, parents []string) error {
	parsedUID, err := entities.ParseEntityUID(uid)
	if err != nil {
		return err
	}

	var record entities.Record
	if attrs != nil {
		record, err = entities.RecordFromGo(attrs)
		if err != nil {
			return err
		}
	}

	parsedParents := make([]entities.EntityUID, len(parents))
	for i, parent := range parents {
		parsedParents[i], err = entities.ParseEntityUID(parent)
		if err != nil {
			return err
		}
	}

	return s.inner.Add(parsedUID, record, parsedParents)
}

// Len returns the number of entities in the store.
func (s *EntityStore) Len() int {
	return s.inner.Len()
}

// Clear removes all entities.
func (s *EntityStore) Clear() {
	s.inner.Clear()
}

// Schema is a parsed schema: entity type declarations with attribute
// shapes, and action declarations with appliesTo constraints.
type Schema struct {
	inner *entities.Schema
}

// ParseSchema parses schema text.
func ParseSchema(text string) (*Schema, error) {
	schema, err := parser.ParseSchema(text)
	if err != nil {
		return nil, err
	}
	return &Schema{inner: schema}, nil
}

// Request is one authorization question: may principal perform action on
// resource, given this context.
type Request struct {
	inner *entities.Request
}

// NewRequest builds a request from textual entity UIDs and an optional
// context map (nil means empty context).
func NewRequest(principal, action, resource string, contextAttrs map[string]interface{}) (*Request, error) {
	p, err := entities.ParseEntityUID(principal)
	if err != nil {
		return nil, fmt.Errorf("principal: %w", err)
	}
	a, err := entities.ParseEntityUID(action)
	if err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}
	r, err := entities.ParseEntityUID(resource)
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	var record entities.Record
	if contextAttrs != nil {
		record, err = entities.RecordFromGo(contextAttrs)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
	}

	return &Request{inner: entities.NewRequest(p, a, r, record)}, nil
}

// NewRequestWithSchema builds a request and validates it against the
// schema: the action must be declared, and the principal type, resource
// type, and context shape must match the action's declaration.
func NewRequestWithSchema(principal, action, resource string, contextAttrs map[string]interface{}, schema *Schema) (*Request, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	req, err := NewRequest(principal, action, resource, contextAttrs)
	if err != nil {
		return nil, err
	}
	if err := req.inner.Validate(schema.inner); err != nil {
		return nil, err
	}
	return req, nil
}

// String renders the request triple for logs and diagnostics.
func (r *Request) String() string {
	return r.inner.String()
}

// Decision is the outcome of one authorization request.
type Decision struct {
	// Outcome is "Allow" or "Deny".
	Outcome string

	// Diagnostics lists the determining policies ("Reason: <id>") and any
	// policies that errored during evaluation ("Error: policy <id>: ...").
	Diagnostics []string
}

// IsAllowed reports whether the request was allowed.
func (d *Decision) IsAllowed() bool {
	return d.Outcome == string(entities.OutcomeAllow)
}

// IsAuthorized decides the request against the policy set and entity
// hierarchy. A nil store means an empty hierarchy. The decision is
// deterministic for identical inputs.
func IsAuthorized(req *Request, ps *PolicySet, store *EntityStore) *Decision {
	var inner *entities.EntityStore
	if store != nil {
		inner = store.inner
	}
	return fromDecision(authorization.Authorize(req.inner, ps.inner, inner))
}

func fromDecision(d *entities.Decision) *Decision {
	return &Decision{Outcome: string(d.Outcome), Diagnostics: d.Diagnostics}
}

// ValidatePolicySyntax parses one concrete policy and reports syntax
// problems only. Template slots are rejected; no schema is consulted.
func ValidatePolicySyntax(text string) error {
	_, err := parser.ParsePolicy(text)
	return err
}

// ValidateTemplateSyntax parses one template and reports syntax problems
// only. The template must reference at least one scope slot.
func ValidateTemplateSyntax(text string) error {
	_, err := parser.ParseTemplate("template", text)
	return err
}

// ValidatePolicy parses one policy and checks it against the schema.
// A parse failure is an error; schema findings are returned as strings,
// empty when the policy is valid. Use ValidatePolicySyntax for a
// schema-free check.
func ValidatePolicy(text string, schema *Schema, mode string) ([]string, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	m, err := validation.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	policy, err := parser.ParsePolicy(text)
	if err != nil {
		return nil, err
	}
	return validation.NewValidator(schema.inner, m).ValidatePolicy(policy), nil
}

// ValidateTemplate parses one template and checks it against the schema.
// Slotted scope constraints are checked at link time, not here. Use
// ValidateTemplateSyntax for a schema-free check.
func ValidateTemplate(text string, schema *Schema, mode string) ([]string, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	m, err := validation.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	template, err := parser.ParseTemplate("template", text)
	if err != nil {
		return nil, err
	}
	return validation.NewValidator(schema.inner, m).ValidateTemplate(template), nil
}

// ValidatePolicies checks every policy in the set against the schema,
// linked policies and templates included. Findings are prefixed with
// policy or template ids.
func ValidatePolicies(ps *PolicySet, schema *Schema, mode string) ([]string, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	m, err := validation.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return validation.NewValidator(schema.inner, m).ValidatePolicies(ps.inner), nil
}

// Authorizer answers authorization requests with decision caching and
// metrics. Use plain IsAuthorized when neither is needed.
type Authorizer struct {
	inner    *authorization.Authorizer
	cache    cache.Cache
	registry *prometheus.Registry
}

// AuthorizerConfig configures an Authorizer.
type AuthorizerConfig struct {
	// CacheEnabled turns on the in-memory decision cache.
	CacheEnabled bool

	// CacheMaxEntries bounds the decision cache. Ignored when the cache
	// is disabled.
	CacheMaxEntries int

	// CacheTTL is the time-to-live of cached decisions.
	CacheTTL time.Duration

	// MetricsEnabled turns on the in-process metrics collector and the
	// Prometheus exporter.
	MetricsEnabled bool

	// MaxEvalDepth bounds expression recursion during evaluation.
	// Zero uses the default.
	MaxEvalDepth int
}

// NewAuthorizer creates an Authorizer from explicit configuration.
func NewAuthorizer(cfg AuthorizerConfig) (*Authorizer, error) {
	inner := &authorization.Config{MaxEvalDepth: cfg.MaxEvalDepth, CacheTTL: cfg.CacheTTL}

	var decisionCache cache.Cache
	if cfg.CacheEnabled {
		maxEntries := cfg.CacheMaxEntries
		if maxEntries <= 0 {
			maxEntries = 10000
		}
		c, err := memorycache.New(&memorycache.Config{
			MaxEntries:    maxEntries,
			DefaultTTL:    cfg.CacheTTL,
			EnableMetrics: cfg.MetricsEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create decision cache: %w", err)
		}
		decisionCache = c
		inner.Cache = c
	}

	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		collector := metrics.NewCollector()
		exporter := metrics.NewPrometheusExporter(collector)
		inner.Collector = collector
		inner.Exporter = exporter
		registry = exporter.Registry()
	}

	return &Authorizer{
		inner:    authorization.NewAuthorizer(inner),
		cache:    decisionCache,
		registry: registry,
	}, nil
}

// NewAuthorizerFromEnv creates an Authorizer configured from the
// environment (.env.<env> file and environment variables).
func NewAuthorizerFromEnv(env string) (*Authorizer, error) {
	if err := config.InitConfig(env); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewAuthorizer(AuthorizerConfig{
		CacheEnabled:    cfg.Cache.Enabled,
		CacheMaxEntries: cfg.Cache.MaxEntries,
		CacheTTL:        time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		MetricsEnabled:  cfg.Cache.Metrics,
		MaxEvalDepth:    cfg.Engine.MaxEvalDepth,
	})
}

// IsAuthorized decides the request, serving repeated questions from the
// decision cache until the policy set or entity store changes.
func (a *Authorizer) IsAuthorized(ctx context.Context, req *Request, ps *PolicySet, store *EntityStore) (*Decision, error) {
	var inner *entities.EntityStore
	if store != nil {
		inner = store.inner
	}
	decision, err := a.inner.IsAuthorized(ctx, req.inner, ps.inner, inner)
	if err != nil {
		return nil, err
	}
	return fromDecision(decision), nil
}

// MetricsRegistry returns the Prometheus registry holding this
// Authorizer's metrics, for wiring into a scrape handler. Nil when
// metrics are disabled.
func (a *Authorizer) MetricsRegistry() *prometheus.Registry {
	return a.registry
}

// Close releases resources held by the Authorizer.
func (a *Authorizer) Close() error {
	if a.cache != nil {
		return a.cache.Close()
	}
	return nil
}
