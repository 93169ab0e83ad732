package permit

import (
	"context"
	"fmt"

	"github.com/oarkflow/permit/utils"
)

// ResourceSpec describes a resource by key; Parent is the parent's key.
type ResourceSpec struct {
	Key         string `json:"key" yaml:"key"`
	Parent      string `json:"parent,omitempty" yaml:"parent,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type ActionSpec struct {
	Key  string `json:"key" yaml:"key"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

type RoleSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	System      bool   `json:"system,omitempty" yaml:"system,omitempty"`
	Inactive    bool   `json:"inactive,omitempty" yaml:"inactive,omitempty"`
}

// Baseline is the set of records every deployment starts from. Parents
// must be listed before their children.
type Baseline struct {
	Resources []ResourceSpec `json:"resources" yaml:"resources"`
	Actions   []ActionSpec   `json:"actions" yaml:"actions"`
	Roles     []RoleSpec     `json:"roles" yaml:"roles"`
}

// DefaultBaseline is the stock vocabulary.
func DefaultBaseline() Baseline {
	return Baseline{
		Resources: []ResourceSpec{
			{Key: "compose", Name: "Compose"},
			{Key: "compose.document", Parent: "compose", Name: "Documents"},
			{Key: "compose.journal", Parent: "compose", Name: "Journals"},
		},
		Actions: []ActionSpec{
			{Key: "view", Name: "View"},
			{Key: "list", Name: "List"},
			{Key: "create", Name: "Create"},
			{Key: "update", Name: "Update"},
			{Key: "delete", Name: "Delete"},
		},
		Roles: []RoleSpec{
			{Name: "admin", Description: "Full access", System: true},
			{Name: "employee", Description: "Default role of every employee", System: true},
		},
	}
}

// SeedReport counts what Seed did.
type SeedReport struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

// Seed creates every baseline record that does not exist yet. Existing
// records are left untouched, so running it again is a no-op.
func Seed(ctx context.Context, admin *Admin, b Baseline) (SeedReport, error) {
	var rep SeedReport
	store := admin.Store()
	for _, spec := range b.Resources {
		key := utils.NormalizeKey(spec.Key)
		if _, err := store.GetResourceByKey(ctx, key); err == nil {
			rep.Existing++
			continue
		} else if !isNotFound(err) {
			return rep, err
		}
		r := &Resource{Key: key, Name: spec.Name, Description: spec.Description}
		if spec.Parent != "" {
			parent, err := store.GetResourceByKey(ctx, utils.NormalizeKey(spec.Parent))
			if err != nil {
				return rep, fmt.Errorf("seed resource %q: parent %q: %w", key, spec.Parent, err)
			}
			r.ParentID = parent.ID
		}
		if err := admin.CreateResource(ctx, r); err != nil {
			return rep, fmt.Errorf("seed resource %q: %w", key, err)
		}
		rep.Created++
	}
	for _, spec := range b.Actions {
		key := utils.NormalizeKey(spec.Key)
		if _, err := store.GetActionByKey(ctx, key); err == nil {
			rep.Existing++
			continue
		} else if !isNotFound(err) {
			return rep, err
		}
		if err := admin.CreateAction(ctx, &Action{Key: key, Name: spec.Name}); err != nil {
			return rep, fmt.Errorf("seed action %q: %w", key, err)
		}
		rep.Created++
	}
	for _, spec := range b.Roles {
		if _, err := store.GetRoleByName(ctx, spec.Name); err == nil {
			rep.Existing++
			continue
		} else if !isNotFound(err) {
			return rep, err
		}
		role := &Role{Name: spec.Name, Description: spec.Description, IsSystem: spec.System, IsActive: !spec.Inactive}
		if err := admin.CreateRole(ctx, role); err != nil {
			return rep, fmt.Errorf("seed role %q: %w", spec.Name, err)
		}
		rep.Created++
	}
	return rep, nil
}
