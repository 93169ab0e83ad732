package permit

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oarkflow/permit/utils"
)

// ============================================================================
// SCOPE RESOLUTION (list visibility)
// ============================================================================

// IDSet is a set of numeric identifiers.
type IDSet map[int64]struct{}

func (s IDSet) Add(ids ...int64) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ScopeResult is the OR-folded visibility of a subject for one
// (resource, action) pair.
type ScopeResult struct {
	GlobalAccess          bool     `json:"global_access"`
	DepartmentIDs         IDSet    `json:"department_ids,omitempty"`
	JournalIDs            IDSet    `json:"journal_ids,omitempty"`
	DocTypeIDs            IDSet    `json:"doc_type_ids,omitempty"`
	DocSubtypeIDs         IDSet    `json:"doc_subtype_ids,omitempty"`
	OrgKeys               []string `json:"org_keys,omitempty"`
	OwnSelf               bool     `json:"own_self"`
	OwnerFields           []string `json:"owner_fields,omitempty"`
	OwnAuthor             bool     `json:"own_author"`
	OwnCurator            bool     `json:"own_curator"`
	SelfSubdepartmentOnly bool     `json:"self_subdepartment_only"`
}

// NewScopeResult returns an empty result with its sets allocated.
func NewScopeResult() ScopeResult {
	return ScopeResult{
		DepartmentIDs: IDSet{},
		JournalIDs:    IDSet{},
		DocTypeIDs:    IDSet{},
		DocSubtypeIDs: IDSet{},
	}
}

// Empty reports whether the result grants no visibility at all.
func (r ScopeResult) Empty() bool {
	return !r.GlobalAccess && len(r.DepartmentIDs) == 0 && len(r.JournalIDs) == 0 &&
		len(r.DocTypeIDs) == 0 && len(r.DocSubtypeIDs) == 0 && len(r.OrgKeys) == 0 &&
		!r.OwnSelf && !r.OwnAuthor && !r.OwnCurator && !r.SelfSubdepartmentOnly
}

func (r *ScopeResult) addOrgKey(key string) {
	if key != "" && !slices.Contains(r.OrgKeys, key) {
		r.OrgKeys = append(r.OrgKeys, key)
		sort.Strings(r.OrgKeys)
	}
}

func (r *ScopeResult) addOwnerField(field string) {
	r.OwnSelf = true
	if !slices.Contains(r.OwnerFields, field) {
		r.OwnerFields = append(r.OwnerFields, field)
		sort.Strings(r.OwnerFields)
	}
}

func globalScope() ScopeResult { return ScopeResult{GlobalAccess: true} }

// ScopeCandidate is a policy reachable by the subject for the pair being
// resolved, together with the grant it came through. The org rule has
// already been applied.
type ScopeCandidate struct {
	Policy CompiledPolicy
	Grant  Grant
}

// ScopeStrategy computes list visibility for one (resource, action) pair.
type ScopeStrategy interface {
	Resolve(subject *Subject, candidates []ScopeCandidate, now time.Time) ScopeResult
	Filter(subject *Subject, scope ScopeResult) Filter
}

// ScopeRegistry maps (resource key, action key) to a strategy. It is
// populated at start-up; pairs without a strategy see nothing.
type ScopeRegistry struct {
	mu         sync.RWMutex
	strategies map[permKey]ScopeStrategy
}

func NewScopeRegistry() *ScopeRegistry {
	return &ScopeRegistry{strategies: make(map[permKey]ScopeStrategy)}
}

// Register installs a strategy. Registering the same pair twice is an error.
func (r *ScopeRegistry) Register(resource, action string, s ScopeStrategy) error {
	resource, action = utils.NormalizeKey(resource), utils.NormalizeKey(action)
	if !utils.ValidKey(resource) || !utils.ValidKey(action) {
		return fmt.Errorf("%w: scope %q/%q", ErrInvalidKey, resource, action)
	}
	if s == nil {
		return fmt.Errorf("scope strategy for %s/%s is nil", resource, action)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := permKey{resource: resource, action: action}
	if _, ok := r.strategies[k]; ok {
		return fmt.Errorf("%w: scope strategy for %s/%s", ErrDuplicate, resource, action)
	}
	r.strategies[k] = s
	return nil
}

// Lookup returns the strategy for a pair.
func (r *ScopeRegistry) Lookup(resource, action string) (ScopeStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[permKey{resource: resource, action: action}]
	return s, ok
}

// Pairs lists the registered pairs as "resource:action", sorted.
func (r *ScopeRegistry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k.resource+":"+k.action)
	}
	sort.Strings(out)
	return out
}

// FieldMap names the object attributes a FoldStrategy filters on.
type FieldMap struct {
	Department string `json:"department" yaml:"department"`
	Journal    string `json:"journal" yaml:"journal"`
	DocType    string `json:"doc_type" yaml:"doc_type"`
	DocSubtype string `json:"doc_subtype" yaml:"doc_subtype"`
	Author     string `json:"author" yaml:"author"`
	Curator    string `json:"curator" yaml:"curator"`
	OrgKey     string `json:"org_key" yaml:"org_key"`
}

func DefaultFieldMap() FieldMap {
	return FieldMap{
		Department: AttrDepartmentID,
		Journal:    AttrJournalID,
		DocType:    AttrDocTypeID,
		DocSubtype: AttrDocSubtypeID,
		Author:     AttrAuthorID,
		Curator:    AttrCuratorID,
		OrgKey:     AttrOrgKey,
	}
}

func (m FieldMap) validate() error {
	for _, f := range []string{m.Department, m.Journal, m.DocType, m.DocSubtype, m.Author, m.Curator, m.OrgKey} {
		if !utils.ValidIdentifier(f) {
			return fmt.Errorf("%w: field %q", ErrInvalidKey, f)
		}
	}
	return nil
}

// FoldStrategy is the stock strategy: it ORs every matching allow policy's
// condition kind into one ScopeResult. Deny policies do not narrow lists.
type FoldStrategy struct {
	Fields FieldMap
}

// NewFoldStrategy builds a FoldStrategy; a zero FieldMap means the defaults.
func NewFoldStrategy(fields FieldMap) (*FoldStrategy, error) {
	if fields == (FieldMap{}) {
		fields = DefaultFieldMap()
	}
	if err := fields.validate(); err != nil {
		return nil, err
	}
	return &FoldStrategy{Fields: fields}, nil
}

func (s *FoldStrategy) Resolve(subject *Subject, candidates []ScopeCandidate, now time.Time) ScopeResult {
	res := NewScopeResult()
	for _, c := range candidates {
		p := c.Policy
		if p.Effect != EffectAllow {
			continue
		}
		switch p.Kind {
		case CondNone:
			return globalScope()
		case CondTimeWindow:
			if inTimeWindow(p.Params, now) {
				return globalScope()
			}
		case CondSpecificDepartments:
			res.DepartmentIDs.Add(p.Params.Departments...)
		case CondSpecificJournals:
			res.JournalIDs.Add(p.Params.Journals...)
		case CondSpecificDocTypes:
			res.DocTypeIDs.Add(p.Params.DocTypes...)
		case CondSpecificDocSubtypes:
			res.DocSubtypeIDs.Add(p.Params.DocSubtypes...)
		case CondOwnAuthor:
			res.OwnAuthor = true
		case CondOwnCurator:
			res.OwnCurator = true
		case CondOwnObject:
			if utils.ValidIdentifier(p.Params.Field) {
				res.addOwnerField(p.Params.Field)
			}
		case CondOwnDepartment:
			res.SelfSubdepartmentOnly = true
		case CondAssignmentScope:
			org := c.Grant.OrgKey
			if org == "" {
				org = p.OrgKey
			}
			res.addOrgKey(org)
		}
	}
	return res
}

// Filter turns the folded result into an OR of membership terms.
func (s *FoldStrategy) Filter(subject *Subject, scope ScopeResult) Filter {
	if scope.GlobalAccess {
		return Filter{All: true}
	}
	var f Filter
	f.addIDs(s.Fields.Department, scope.DepartmentIDs.Sorted())
	f.addIDs(s.Fields.Journal, scope.JournalIDs.Sorted())
	f.addIDs(s.Fields.DocType, scope.DocTypeIDs.Sorted())
	f.addIDs(s.Fields.DocSubtype, scope.DocSubtypeIDs.Sorted())
	if subject.Authenticated() {
		if scope.OwnAuthor {
			f.addIDs(s.Fields.Author, []int64{subject.ID})
		}
		if scope.OwnCurator {
			f.addIDs(s.Fields.Curator, []int64{subject.ID})
		}
		for _, field := range scope.OwnerFields {
			f.addIDs(field, []int64{subject.ID})
		}
		if scope.SelfSubdepartmentOnly && subject.DepartmentID != 0 {
			f.addIDs(s.Fields.Department, []int64{subject.DepartmentID})
		}
	}
	if len(scope.OrgKeys) > 0 {
		vals := make([]Value, len(scope.OrgKeys))
		for i, k := range scope.OrgKeys {
			vals[i] = k
		}
		f.add(s.Fields.OrgKey, vals)
	}
	return f
}

// ============================================================================
// ENGINE ENTRY POINTS
// ============================================================================

// ResolveScope folds the subject's policies for (resource, action) through
// the registered strategy. Unregistered pairs, unauthenticated subjects and
// index failures give an empty result.
func (e *Engine) ResolveScope(ctx context.Context, resource, action string, subject *Subject) ScopeResult {
	_, res := e.resolveScope(ctx, resource, action, subject)
	return res
}

// ScopeFilter is ResolveScope rendered as a Filter.
func (e *Engine) ScopeFilter(ctx context.Context, resource, action string, subject *Subject) Filter {
	strategy, res := e.resolveScope(ctx, resource, action, subject)
	if strategy == nil {
		return Filter{}
	}
	return strategy.Filter(subject, res)
}

// FilterCollection keeps only the rows the subject may see.
func (e *Engine) FilterCollection(ctx context.Context, resource, action string, rows []ContextObject, subject *Subject) []ContextObject {
	return FilterRows(ctx, e, resource, action, rows, subject)
}

// FilterRows is FilterCollection for any ContextObject row type.
func FilterRows[T ContextObject](ctx context.Context, e *Engine, resource, action string, rows []T, subject *Subject) []T {
	f := e.ScopeFilter(ctx, resource, action, subject)
	if f.None() {
		return []T{}
	}
	if f.All {
		return slices.Clone(rows)
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if f.Matches(row) {
			out = append(out, row)
		}
	}
	return out
}

func (e *Engine) resolveScope(ctx context.Context, resource, action string, subject *Subject) (ScopeStrategy, ScopeResult) {
	strategy, ok := e.scopes.Lookup(resource, action)
	if !ok {
		e.logger.Debug("permit no scope strategy registered", "resource", resource, "action", action)
		return nil, NewScopeResult()
	}
	if !subject.Authenticated() {
		return nil, NewScopeResult()
	}
	if subject.IsSuperuser {
		return strategy, globalScope()
	}
	idx, err := loadIndex(ctx, e.cache, e.clock())
	if err != nil {
		e.logger.Error("permit index unavailable, scope is empty", "err", err, "resource", resource, "action", action)
		return nil, NewScopeResult()
	}
	groups, err := e.subjectGroups(ctx, subject)
	if err != nil {
		e.logger.Error("permit group lookup failed, scope is empty", "err", err, "subject", subject.ID)
		return nil, NewScopeResult()
	}
	var candidates []ScopeCandidate
	for _, g := range idx.GrantsFor(subject.ID, groups) {
		for _, p := range idx.PoliciesFor(g.RoleID, resource, action) {
			if orgMismatch(p.OrgKey, g.OrgKey) {
				continue
			}
			candidates = append(candidates, ScopeCandidate{Policy: p, Grant: g})
		}
	}
	return strategy, strategy.Resolve(subject, candidates, e.clock())
}
