package authorization

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/asakaida/sugi/internal/entities"
	"github.com/asakaida/sugi/internal/infrastructure/metrics"
	"github.com/asakaida/sugi/pkg/cache"
)

// Authorize evaluates every policy in the set against the request and
// combines the results:
//
//   - any satisfied forbid policy denies the request, regardless of
//     satisfied permits
//   - otherwise any satisfied permit policy allows the request
//   - otherwise the request is denied
//
// A policy that errors during evaluation is treated as not satisfied and
// contributes an Error diagnostic, so errors can never widen access.
// Policies are evaluated in id order and the diagnostics are
// deterministic for identical inputs.
func Authorize(req *entities.Request, ps *entities.PolicySet, store *entities.EntityStore) *entities.Decision {
	return AuthorizeWithDepth(req, ps, store, DefaultMaxEvalDepth)
}

// AuthorizeWithDepth is Authorize with a custom evaluation recursion limit.
func AuthorizeWithDepth(req *entities.Request, ps *entities.PolicySet, store *entities.EntityStore, maxDepth int) *entities.Decision {
	evaluator := NewEvaluatorWithDepth(store, maxDepth)

	var (
		errDiags         []string
		satisfiedPermits []string
		satisfiedForbids []string
	)

	for _, policy := range ps.All() {
		satisfied, err := evaluator.Evaluate(policy, req)
		if err != nil {
			errDiags = append(errDiags, fmt.Sprintf("Error: policy %s: %v", policy.ID, err))
			continue
		}
		if !satisfied {
			continue
		}
		if policy.Effect == entities.EffectForbid {
			satisfiedForbids = append(satisfiedForbids, policy.ID)
		} else {
			satisfiedPermits = append(satisfiedPermits, policy.ID)
		}
	}

	decision := &entities.Decision{Diagnostics: errDiags}
	switch {
	case len(satisfiedForbids) > 0:
		decision.Outcome = entities.OutcomeDeny
		for _, id := range satisfiedForbids {
			decision.Diagnostics = append(decision.Diagnostics, "Reason: "+id)
		}
	case len(satisfiedPermits) > 0:
		decision.Outcome = entities.OutcomeAllow
		for _, id := range satisfiedPermits {
			decision.Diagnostics = append(decision.Diagnostics, "Reason: "+id)
		}
	default:
		decision.Outcome = entities.OutcomeDeny
		decision.Diagnostics = append(decision.Diagnostics, "Reason: no applicable permit policy")
	}
	return decision
}

// Config holds optional collaborators for an Authorizer.
type Config struct {
	// Cache caches decisions keyed by request and data revisions.
	// Nil disables caching.
	Cache cache.Cache

	// CacheTTL is the time-to-live for cached decisions.
	CacheTTL time.Duration

	// Collector aggregates in-process metrics. Nil disables collection.
	Collector *metrics.Collector

	// Exporter exports metrics to Prometheus. Nil disables export.
	Exporter *metrics.PrometheusExporter

	// MaxEvalDepth bounds expression recursion during evaluation.
	// Zero uses DefaultMaxEvalDepth.
	MaxEvalDepth int
}

// Authorizer answers authorization requests with optional decision
// caching and metrics. The zero-config Authorizer is just Authorize.
type Authorizer struct {
	cache     cache.Cache
	cacheTTL  time.Duration
	collector *metrics.Collector
	exporter  *metrics.PrometheusExporter
	maxDepth  int
}

// NewAuthorizer creates an Authorizer from a Config. A nil config yields
// an Authorizer without caching or metrics.
func NewAuthorizer(config *Config) *Authorizer {
	if config == nil {
		config = &Config{}
	}
	a := &Authorizer{
		cache:     config.Cache,
		cacheTTL:  config.CacheTTL,
		collector: config.Collector,
		exporter:  config.Exporter,
		maxDepth:  config.MaxEvalDepth,
	}
	if a.maxDepth <= 0 {
		a.maxDepth = DefaultMaxEvalDepth
	}
	if a.collector != nil && a.cache != nil {
		a.collector.SetCache(a.cache)
	}
	return a
}

// IsAuthorized decides the request against the policy set and entity
// store. Decisions are served from cache when the same request has been
// decided against the same policy and entity revisions.
func (a *Authorizer) IsAuthorized(ctx context.Context, req *entities.Request, ps *entities.PolicySet, store *entities.EntityStore) (*entities.Decision, error) {
	start := time.Now()
	a.recordRequest("is_authorized")

	if err := ctx.Err(); err != nil {
		a.recordError("is_authorized")
		return nil, err
	}

	var key string
	if a.cache != nil {
		key = decisionKey(req, ps, store)
		if cached, ok := a.cache.Get(ctx, key); ok {
			if decision, ok := cached.(*entities.Decision); ok {
				a.recordCacheHit()
				a.recordDecision(decision, start)
				return cloneDecision(decision), nil
			}
		}
		a.recordCacheMiss()
	}

	decision := AuthorizeWithDepth(req, ps, store, a.maxDepth)

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, decision, a.cacheTTL); err != nil {
			return nil, fmt.Errorf("failed to cache decision: %w", err)
		}
	}

	a.recordDecision(decision, start)
	return cloneDecision(decision), nil
}

func (a *Authorizer) recordRequest(operation string) {
	if a.collector != nil {
		a.collector.RecordRequest(operation)
	}
	if a.exporter != nil {
		a.exporter.RecordRequest(operation)
	}
}

func (a *Authorizer) recordError(operation string) {
	if a.collector != nil {
		a.collector.RecordError(operation)
	}
	if a.exporter != nil {
		a.exporter.RecordError(operation)
	}
}

func (a *Authorizer) recordCacheHit() {
	if a.exporter != nil {
		a.exporter.RecordCacheHit()
	}
}

func (a *Authorizer) recordCacheMiss() {
	if a.exporter != nil {
		a.exporter.RecordCacheMiss()
	}
}

func (a *Authorizer) recordDecision(decision *entities.Decision, start time.Time) {
	elapsed := time.Since(start).Seconds()
	if a.collector != nil {
		a.collector.RecordDecision(string(decision.Outcome))
		a.collector.RecordDuration("is_authorized", elapsed)
		for _, diag := range decision.Diagnostics {
			if len(diag) > 6 && diag[:6] == "Error:" {
				a.collector.RecordPolicyError()
			}
		}
	}
	if a.exporter != nil {
		a.exporter.RecordDecision(string(decision.Outcome))
		a.exporter.RecordDuration("is_authorized", elapsed)
		for _, diag := range decision.Diagnostics {
			if len(diag) > 6 && diag[:6] == "Error:" {
				a.exporter.RecordPolicyError()
			}
		}
	}
}

// decisionKey derives a cache key from the request and the identity and
// revision of the policy set and entity store. The revision invalidates
// prior entries on mutation; the instance id keeps entries from distinct
// sets or stores apart even when their revision counters coincide.
func decisionKey(req *entities.Request, ps *entities.PolicySet, store *entities.EntityStore) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|", req.Principal, req.Action, req.Resource, req.Context.String())
	fmt.Fprintf(h, "ps:%d:%d|", ps.InstanceID(), ps.Revision())
	if store != nil {
		fmt.Fprintf(h, "es:%d:%d", store.InstanceID(), store.Revision())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneDecision(d *entities.Decision) *entities.Decision {
	clone := &entities.Decision{Outcome: d.Outcome}
	if len(d.Diagnostics) > 0 {
		clone.Diagnostics = append([]string(nil), d.Diagnostics...)
	}
	return clone
}
