package permit

import (
	"context"
	"sort"
)

// EffectivePolicy is the winning policy for one (resource, action) pair.
type EffectivePolicy struct {
	Resource string        `json:"resource"`
	Action   string        `json:"action"`
	PolicyID int64         `json:"policy_id"`
	RoleID   int64         `json:"role_id"`
	Effect   Effect        `json:"effect"`
	Kind     ConditionKind `json:"condition"`
	Priority int           `json:"priority"`
	OrgKey   string        `json:"org_key,omitempty"`
}

// outranks reports whether a beats b: higher priority, then smaller ID.
func outranks(a, b CompiledPolicy) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

// EffectivePolicies lists, per (resource, action), the policy that wins
// among everything the subject's grants reach. Conditions are not
// evaluated; this is an administrative view, not a decision.
func (e *Engine) EffectivePolicies(ctx context.Context, subject *Subject) ([]EffectivePolicy, error) {
	if !subject.Authenticated() {
		return nil, nil
	}
	idx, err := loadIndex(ctx, e.cache, e.clock())
	if err != nil {
		return nil, err
	}
	groups, err := e.subjectGroups(ctx, subject)
	if err != nil {
		return nil, err
	}
	winners := make(map[permKey]CompiledPolicy)
	for _, g := range idx.GrantsFor(subject.ID, groups) {
		idx.RolePolicies(g.RoleID, func(resource, action string, list []CompiledPolicy) {
			k := permKey{resource: resource, action: action}
			for _, p := range list {
				if orgMismatch(p.OrgKey, g.OrgKey) {
					continue
				}
				if cur, ok := winners[k]; !ok || outranks(p, cur) {
					winners[k] = p
				}
			}
		})
	}
	out := make([]EffectivePolicy, 0, len(winners))
	for k, p := range winners {
		out = append(out, EffectivePolicy{
			Resource: k.resource,
			Action:   k.action,
			PolicyID: p.ID,
			RoleID:   p.RoleID,
			Effect:   p.Effect,
			Kind:     p.Kind,
			Priority: p.Priority,
			OrgKey:   p.OrgKey,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

// VisibleResources returns the resource keys for which the subject's
// winning policy on at least one action is an allow. Superusers see every
// resource.
func (e *Engine) VisibleResources(ctx context.Context, subject *Subject) ([]string, error) {
	if !subject.Authenticated() {
		return nil, nil
	}
	if subject.IsSuperuser {
		idx, err := loadIndex(ctx, e.cache, e.clock())
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(idx.resources))
		for _, k := range idx.resources {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, nil
	}
	eff, err := e.EffectivePolicies(ctx, subject)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, p := range eff {
		if p.Effect != EffectAllow {
			continue
		}
		if _, ok := seen[p.Resource]; ok {
			continue
		}
		seen[p.Resource] = struct{}{}
		keys = append(keys, p.Resource)
	}
	return keys, nil
}
