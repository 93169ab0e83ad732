package permit

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ============================================================================
// COMPILED POLICY INDEX
// ============================================================================

// CompiledPolicy is the index form of a Policy: keys resolved, tree ready.
type CompiledPolicy struct {
	ID          int64
	RoleID      int64
	ResourceKey string
	ActionKey   string
	Effect      Effect
	Condition   Expr
	Kind        ConditionKind
	Params      ConditionParams
	OrgKey      string
	Priority    int
}

// Grant is one active role assignment, reduced to what decisions need.
type Grant struct {
	RoleID int64
	OrgKey string
}

type permKey struct {
	resource string
	action   string
}

// Index is an immutable snapshot of everything needed to answer decisions.
// It is never mutated after BuildIndex returns, so readers need no locks.
type Index struct {
	builtAt     time.Time
	nextChange  time.Time
	policies    map[int64]map[permKey][]CompiledPolicy
	userGrants  map[int64][]Grant
	groupGrants map[int64][]Grant
	resources   map[int64]string
	stats       IndexStats
}

// IndexStats summarises a snapshot.
type IndexStats struct {
	Roles       int `json:"roles"`
	Policies    int `json:"policies"`
	Assignments int `json:"assignments"`
	Skipped     int `json:"skipped"`
}

// BuildIndex loads the store and builds a snapshot valid at now. Disabled
// or out-of-window policies and assignments are left out, as are inactive
// roles and policies whose resource or action no longer exists. The
// snapshot records the first validity bound after now; see NextChange.
func BuildIndex(ctx context.Context, store Store, now time.Time) (*Index, error) {
	resources, err := store.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	actions, err := store.ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	roles, err := store.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	policies, err := store.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	assignments, err := store.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	idx := &Index{
		builtAt:     now,
		policies:    make(map[int64]map[permKey][]CompiledPolicy),
		userGrants:  make(map[int64][]Grant),
		groupGrants: make(map[int64][]Grant),
		resources:   make(map[int64]string, len(resources)),
	}
	actionKeys := make(map[int64]string, len(actions))
	for _, r := range resources {
		idx.resources[r.ID] = r.Key
	}
	for _, a := range actions {
		actionKeys[a.ID] = a.Key
	}
	active := make(map[int64]bool, len(roles))
	for _, r := range roles {
		if r.IsActive {
			active[r.ID] = true
		}
	}
	idx.stats.Roles = len(active)

	for _, p := range policies {
		if p.Enabled {
			idx.noteBoundary(p.Validity, now)
		}
		resKey, okRes := idx.resources[p.ResourceID]
		actKey, okAct := actionKeys[p.ActionID]
		if !p.Enabled || !p.Validity.Contains(now) || !active[p.RoleID] || !okRes || !okAct {
			idx.stats.Skipped++
			continue
		}
		cond := p.Compiled
		if cond == nil {
			cond, err = CompileCondition(p.Condition, p.Params)
			if err != nil {
				cond = &InvalidExpr{Reason: err.Error()}
			}
		}
		byPerm, ok := idx.policies[p.RoleID]
		if !ok {
			byPerm = make(map[permKey][]CompiledPolicy)
			idx.policies[p.RoleID] = byPerm
		}
		k := permKey{resource: resKey, action: actKey}
		byPerm[k] = append(byPerm[k], CompiledPolicy{
			ID:          p.ID,
			RoleID:      p.RoleID,
			ResourceKey: resKey,
			ActionKey:   actKey,
			Effect:      p.Effect,
			Condition:   cond,
			Kind:        p.Condition,
			Params:      p.Params,
			OrgKey:      p.OrgKey,
			Priority:    p.Priority,
		})
		idx.stats.Policies++
	}
	for _, byPerm := range idx.policies {
		for _, list := range byPerm {
			sortPolicies(list)
		}
	}

	for _, a := range assignments {
		if a.Enabled {
			idx.noteBoundary(a.Validity, now)
		}
		if !a.Enabled || !a.Validity.Contains(now) || !active[a.RoleID] {
			idx.stats.Skipped++
			continue
		}
		g := Grant{RoleID: a.RoleID, OrgKey: a.OrgKey}
		if a.UserID > 0 {
			idx.userGrants[a.UserID] = append(idx.userGrants[a.UserID], g)
		}
		if a.GroupID > 0 {
			idx.groupGrants[a.GroupID] = append(idx.groupGrants[a.GroupID], g)
		}
		idx.stats.Assignments++
	}
	return idx, nil
}

func (idx *Index) noteBoundary(v Validity, now time.Time) {
	for _, t := range [2]time.Time{v.From, v.Until} {
		if t.After(now) && (idx.nextChange.IsZero() || t.Before(idx.nextChange)) {
			idx.nextChange = t
		}
	}
}

// sortPolicies orders by priority descending, then ID ascending.
func sortPolicies(list []CompiledPolicy) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
}

// PoliciesFor returns the ordered policies of a role for one permission.
// The slice is shared and must not be modified.
func (idx *Index) PoliciesFor(roleID int64, resource, action string) []CompiledPolicy {
	return idx.policies[roleID][permKey{resource: resource, action: action}]
}

// GrantsFor returns the direct grants of userID plus those of every group,
// without duplicates, in a stable order.
func (idx *Index) GrantsFor(userID int64, groups []int64) []Grant {
	seen := make(map[Grant]struct{})
	var out []Grant
	add := func(gs []Grant) {
		for _, g := range gs {
			if _, dup := seen[g]; dup {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	add(idx.userGrants[userID])
	for _, gid := range groups {
		add(idx.groupGrants[gid])
	}
	return out
}

// RolePolicies visits every permission of a role.
func (idx *Index) RolePolicies(roleID int64, fn func(resource, action string, policies []CompiledPolicy)) {
	for k, list := range idx.policies[roleID] {
		fn(k.resource, k.action, list)
	}
}

// BuiltAt is the clock reading the snapshot was built for.
func (idx *Index) BuiltAt() time.Time { return idx.builtAt }

// NextChange is the earliest validity bound after BuiltAt, or the zero time
// when no window opens or closes later. The snapshot is stale from then on.
func (idx *Index) NextChange() time.Time { return idx.nextChange }

// ExpiredAt reports whether a validity window opened or closed between the
// build and now.
func (idx *Index) ExpiredAt(now time.Time) bool {
	return !idx.nextChange.IsZero() && !now.Before(idx.nextChange)
}

// Stats reports what went into the snapshot.
func (idx *Index) Stats() IndexStats { return idx.stats }
