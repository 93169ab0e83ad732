package permit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/permit/logger"
)

// Decision represents the authorization decision
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	MatchedBy string    `json:"matched_by"` // policy:<id>, superuser
	Trace     []string  `json:"trace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision reasons.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonSuperuser       = "superuser"
	ReasonNoGrants        = "no role assignments"
	ReasonDenied          = "denied by policy"
	ReasonAllowed         = "allowed by policy"
	ReasonNoMatch         = "no matching policy"
	ReasonUnavailable     = "policy index unavailable"
	ReasonGroupLookup     = "group lookup failed"
)

// Engine answers access questions against a compiled snapshot of a Store.
type Engine struct {
	store     Store
	cache     IndexCache
	scopes    *ScopeRegistry
	groups    GroupProvider
	logger    logger.Logger
	clock     func() time.Time
	indexTTL  time.Duration
	cacheOpts []CacheOption
	ownsCache bool

	auditStore AuditStore
	auditCh    chan AuditEntry
	auditDone  chan struct{}
	auditMu    sync.RWMutex
	closed     bool
	closeOnce  sync.Once
}

// EngineOption configures an Engine.
type EngineOption func(*Engine) error

// WithLogger installs a Logger on the Engine via EngineOption
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithClock replaces time.Now for decisions and index builds.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		e.clock = now
		return nil
	}
}

// WithGroupProvider adds groups on top of Subject.Groups.
func WithGroupProvider(p GroupProvider) EngineOption {
	return func(e *Engine) error {
		e.groups = p
		return nil
	}
}

// WithIndexTTL sets the lifetime of the default compiled cache.
func WithIndexTTL(d time.Duration) EngineOption {
	return func(e *Engine) error {
		e.indexTTL = d
		return nil
	}
}

// WithCacheOptions passes extra options to the default compiled cache.
func WithCacheOptions(opts ...CacheOption) EngineOption {
	return func(e *Engine) error {
		e.cacheOpts = append(e.cacheOpts, opts...)
		return nil
	}
}

// WithCache replaces the default compiled cache.
func WithCache(c IndexCache) EngineOption {
	return func(e *Engine) error {
		e.cache = c
		return nil
	}
}

// WithScopeRegistry shares a pre-populated scope registry with the Engine.
func WithScopeRegistry(r *ScopeRegistry) EngineOption {
	return func(e *Engine) error {
		e.scopes = r
		return nil
	}
}

// NewEngine creates an Engine over store. Unless WithCache is given it owns a
// CompiledCache, which Close releases.
func NewEngine(store Store, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:    store,
		logger:   logger.NewNullLogger(),
		clock:    time.Now,
		indexTTL: DefaultIndexTTL,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.scopes == nil {
		e.scopes = NewScopeRegistry()
	}
	if e.cache == nil {
		base := []CacheOption{WithCacheTTL(e.indexTTL), WithCacheClock(e.clock), WithCacheLogger(e.logger)}
		c, err := NewCompiledCache(store, append(base, e.cacheOpts...)...)
		if err != nil {
			return nil, err
		}
		e.cache = c
		e.ownsCache = true
	}
	e.startAudit()
	return e, nil
}

// Cache exposes the index cache, e.g. to register it with an invalidation bus.
func (e *Engine) Cache() IndexCache { return e.cache }

// Scopes returns the scope registry.
func (e *Engine) Scopes() *ScopeRegistry { return e.scopes }

// OnMutation drops the compiled index; an Engine can be registered directly
// as an Admin listener.
func (e *Engine) OnMutation(_ context.Context, m Mutation) {
	e.cache.Invalidate()
	e.logger.Debug("permit index invalidated", "entity", string(m.Entity), "op", string(m.Op), "id", m.ID)
}

// Invalidate drops the compiled index.
func (e *Engine) Invalidate() { e.cache.Invalidate() }

// ============================================================================
// DECISIONS
// ============================================================================

type checkOptions struct {
	obj    ContextObject
	orgKey string
	extra  map[string]Value
	trace  bool
}

// CheckOption refines a single decision.
type CheckOption func(*checkOptions)

// WithObject evaluates conditions against obj.
func WithObject(obj ContextObject) CheckOption {
	return func(o *checkOptions) { o.obj = obj }
}

// WithOrgKey sets ctx.org_key for the decision.
func WithOrgKey(key string) CheckOption {
	return func(o *checkOptions) { o.orgKey = key }
}

// WithExtra adds values to the ctx namespace.
func WithExtra(extra map[string]Value) CheckOption {
	return func(o *checkOptions) { o.extra = extra }
}

// Can reports whether subject may perform action on resource. It never
// returns an error: every failure is a deny.
func (e *Engine) Can(ctx context.Context, subject *Subject, action, resource string, opts ...CheckOption) bool {
	return e.decide(ctx, subject, action, resource, buildCheckOptions(opts, false)).Allowed
}

// Decide is Can with the reason and the deciding policy.
func (e *Engine) Decide(ctx context.Context, subject *Subject, action, resource string, opts ...CheckOption) *Decision {
	return e.decide(ctx, subject, action, resource, buildCheckOptions(opts, false))
}

// Explain is Decide with a step-by-step trace.
func (e *Engine) Explain(ctx context.Context, subject *Subject, action, resource string, opts ...CheckOption) *Decision {
	return e.decide(ctx, subject, action, resource, buildCheckOptions(opts, true))
}

func buildCheckOptions(opts []CheckOption, trace bool) checkOptions {
	o := checkOptions{trace: trace}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (e *Engine) decide(ctx context.Context, subject *Subject, action, resource string, o checkOptions) *Decision {
	d := e.evaluate(ctx, subject, action, resource, o)
	e.audit(subject, action, resource, o.orgKey, d)
	return d
}

func (e *Engine) evaluate(ctx context.Context, subject *Subject, action, resource string, o checkOptions) *Decision {
	now := e.clock()
	d := &Decision{Timestamp: now}
	tracef := func(format string, args ...any) {
		if o.trace {
			d.Trace = append(d.Trace, fmt.Sprintf(format, args...))
		}
	}

	if !subject.Authenticated() {
		d.Reason = ReasonUnauthenticated
		tracef("DENY: subject is not authenticated")
		return d
	}
	if subject.IsSuperuser {
		d.Allowed = true
		d.Reason = ReasonSuperuser
		d.MatchedBy = ReasonSuperuser
		tracef("ALLOW: superuser")
		return d
	}

	idx, err := loadIndex(ctx, e.cache, now)
	if err != nil {
		e.logger.Error("permit index unavailable, denying", "err", err, "subject", subject.ID, "action", action, "resource", resource)
		d.Reason = ReasonUnavailable
		tracef("DENY: %v", err)
		return d
	}
	groups, err := e.subjectGroups(ctx, subject)
	if err != nil {
		e.logger.Error("permit group lookup failed, denying", "err", err, "subject", subject.ID)
		d.Reason = ReasonGroupLookup
		tracef("DENY: %v", err)
		return d
	}
	grants := idx.GrantsFor(subject.ID, groups)
	if len(grants) == 0 {
		d.Reason = ReasonNoGrants
		tracef("DENY: subject %d has no active role assignments", subject.ID)
		return d
	}

	ec := NewEvalContext(subject, o.obj, now, o.orgKey, o.extra)
	var allowedBy int64
	for _, g := range grants {
		for _, p := range idx.PoliciesFor(g.RoleID, resource, action) {
			if orgMismatch(p.OrgKey, g.OrgKey) {
				tracef("policy=%d role=%d skip org policy=%q assignment=%q", p.ID, g.RoleID, p.OrgKey, g.OrgKey)
				continue
			}
			matched := Evaluate(p.Condition, ec)
			tracef("policy=%d role=%d effect=%s cond=%s result=%v", p.ID, g.RoleID, p.Effect, exprString(p.Condition), matched)
			if !matched {
				continue
			}
			if p.Effect == EffectDeny {
				d.Reason = ReasonDenied
				d.MatchedBy = policyRef(p.ID)
				tracef("DENY: policy=%d", p.ID)
				return d
			}
			if allowedBy == 0 {
				allowedBy = p.ID
			}
		}
	}
	if allowedBy == 0 {
		d.Reason = ReasonNoMatch
		tracef("DENY: no allow matched")
		return d
	}
	d.Allowed = true
	d.Reason = ReasonAllowed
	d.MatchedBy = policyRef(allowedBy)
	tracef("ALLOW: policy=%d", allowedBy)
	return d
}

// orgMismatch is the scope rule: skip only when both keys are set and differ.
func orgMismatch(policyOrg, grantOrg string) bool {
	return policyOrg != "" && grantOrg != "" && policyOrg != grantOrg
}

func policyRef(id int64) string { return fmt.Sprintf("policy:%d", id) }

// subjectGroups merges the declared groups with the GroupProvider's.
func (e *Engine) subjectGroups(ctx context.Context, subject *Subject) ([]int64, error) {
	if e.groups == nil {
		return subject.Groups, nil
	}
	extra, err := e.groups.GroupsFor(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return subject.Groups, nil
	}
	return append(append(make([]int64, 0, len(subject.Groups)+len(extra)), subject.Groups...), extra...), nil
}

// CheckRequest is one entry of a batch decision.
type CheckRequest struct {
	Subject  *Subject
	Action   string
	Resource string
	Object   ContextObject
	OrgKey   string
	Extra    map[string]Value
}

// BatchDecide decides each request in order.
func (e *Engine) BatchDecide(ctx context.Context, requests []CheckRequest) []*Decision {
	decisions := make([]*Decision, len(requests))
	for i, req := range requests {
		decisions[i] = e.decide(ctx, req.Subject, req.Action, req.Resource, checkOptions{
			obj:    req.Object,
			orgKey: req.OrgKey,
			extra:  req.Extra,
		})
	}
	return decisions
}
