package permit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oarkflow/date"
	"gopkg.in/yaml.v3"

	"github.com/oarkflow/permit/utils"
)

// Config represents a complete declarative permit setup
type Config struct {
	Version uint16       `json:"version" yaml:"version"`
	Engine  EngineConfig `json:"engine" yaml:"engine"`

	// resources, actions, roles
	Baseline `yaml:",inline"`

	Policies    []PolicyConfig     `json:"policies" yaml:"policies"`
	Assignments []AssignmentConfig `json:"assignments" yaml:"assignments"`
	Scopes      []ScopeConfig      `json:"scopes" yaml:"scopes"`
}

type EngineConfig struct {
	IndexTTLMs          int64 `json:"index_ttl_ms" yaml:"index_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// PolicyConfig refers to roles by name and to resources and actions by key.
type PolicyConfig struct {
	Role       string         `json:"role" yaml:"role"`
	Resource   string         `json:"resource" yaml:"resource"`
	Action     string         `json:"action" yaml:"action"`
	Effect     Effect         `json:"effect" yaml:"effect"`
	Condition  ConditionKind  `json:"condition,omitempty" yaml:"condition,omitempty"`
	Params     map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Priority   int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	OrgKey     string         `json:"org_key,omitempty" yaml:"org_key,omitempty"`
	ValidFrom  string         `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidUntil string         `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
	Disabled   bool           `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

type AssignmentConfig struct {
	Role       string `json:"role" yaml:"role"`
	UserID     int64  `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	GroupID    int64  `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	OrgKey     string `json:"org_key,omitempty" yaml:"org_key,omitempty"`
	ValidFrom  string `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidUntil string `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
	Disabled   bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// ScopeConfig registers a FoldStrategy for a (resource, action) pair.
type ScopeConfig struct {
	Resource string   `json:"resource" yaml:"resource"`
	Action   string   `json:"action" yaml:"action"`
	Fields   FieldMap `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the format from the file extension; anything that is not
// .json is read as YAML.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return l.LoadJSON(data)
	}
	return l.LoadYAML(data)
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Options turns the engine section into engine options.
func (c EngineConfig) Options() []EngineOption {
	var opts []EngineOption
	if c.IndexTTLMs > 0 {
		opts = append(opts, WithIndexTTL(time.Duration(c.IndexTTLMs)*time.Millisecond))
	}
	if c.RistrettoNumCounter > 0 || c.RistrettoMaxCost > 0 || c.RistrettoBuffer > 0 {
		opts = append(opts, WithCacheOptions(WithRistretto(c.RistrettoNumCounter, c.RistrettoMaxCost, c.RistrettoBuffer)))
	}
	return opts
}

// Validate checks everything that can be checked without a store: keys,
// effects, dates and condition parameters. All problems are reported.
func (c *Config) Validate() error {
	var errs []error
	for _, r := range c.Resources {
		if !utils.ValidKey(utils.NormalizeKey(r.Key)) {
			errs = append(errs, fmt.Errorf("%w: resource %q", ErrInvalidKey, r.Key))
		}
	}
	for _, a := range c.Actions {
		if !utils.ValidKey(utils.NormalizeKey(a.Key)) {
			errs = append(errs, fmt.Errorf("%w: action %q", ErrInvalidKey, a.Key))
		}
	}
	for i, pc := range c.Policies {
		if _, err := pc.toPolicy(); err != nil {
			errs = append(errs, fmt.Errorf("policy #%d (%s %s/%s): %w", i+1, pc.Role, pc.Resource, pc.Action, err))
		}
	}
	for i, ac := range c.Assignments {
		if _, err := ac.toAssignment(); err != nil {
			errs = append(errs, fmt.Errorf("assignment #%d (%s): %w", i+1, ac.Role, err))
		}
	}
	for _, sc := range c.Scopes {
		if !utils.ValidKey(utils.NormalizeKey(sc.Resource)) || !utils.ValidKey(utils.NormalizeKey(sc.Action)) {
			errs = append(errs, fmt.Errorf("%w: scope %q/%q", ErrInvalidKey, sc.Resource, sc.Action))
		}
	}
	return errors.Join(errs...)
}

// toPolicy converts everything but the references.
func (pc PolicyConfig) toPolicy() (*Policy, error) {
	p := &Policy{
		Effect:    pc.Effect,
		Condition: pc.Condition,
		Priority:  pc.Priority,
		OrgKey:    pc.OrgKey,
		Enabled:   !pc.Disabled,
	}
	if p.Condition == "" {
		p.Condition = CondNone
	}
	if !p.Effect.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEffect, pc.Effect)
	}
	if len(pc.Params) > 0 {
		raw, err := json.Marshal(pc.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: params: %v", ErrInvalidCondition, err)
		}
		if err := json.Unmarshal(raw, &p.Params); err != nil {
			return nil, fmt.Errorf("%w: params: %v", ErrInvalidCondition, err)
		}
	}
	v, err := parseValidity(pc.ValidFrom, pc.ValidUntil)
	if err != nil {
		return nil, err
	}
	p.Validity = v
	if _, err := CompileCondition(p.Condition, p.Params); err != nil {
		return nil, err
	}
	return p, nil
}

func (ac AssignmentConfig) toAssignment() (*RoleAssignment, error) {
	if ac.UserID <= 0 && ac.GroupID <= 0 {
		return nil, ErrAssignmentSubject
	}
	v, err := parseValidity(ac.ValidFrom, ac.ValidUntil)
	if err != nil {
		return nil, err
	}
	return &RoleAssignment{
		UserID:   ac.UserID,
		GroupID:  ac.GroupID,
		OrgKey:   ac.OrgKey,
		Validity: v,
		Enabled:  !ac.Disabled,
	}, nil
}

func parseValidity(from, until string) (Validity, error) {
	var v Validity
	var err error
	if strings.TrimSpace(from) != "" {
		if v.From, err = date.Parse(from); err != nil {
			return v, fmt.Errorf("valid_from %q: %w", from, err)
		}
	}
	if strings.TrimSpace(until) != "" {
		if v.Until, err = date.Parse(until); err != nil {
			return v, fmt.Errorf("valid_until %q: %w", until, err)
		}
	}
	if !v.valid() {
		return v, ErrInvalidValidity
	}
	return v, nil
}

// ApplyReport counts what ApplyConfig did.
type ApplyReport struct {
	Seed        SeedReport `json:"seed"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	ScopesAdded int        `json:"scopes_added"`
}

// ApplyConfig seeds the baseline and upserts the declared policies and
// assignments through admin, so every write is validated and invalidates
// listeners. A policy is matched on (role, resource, action, org_key,
// priority); an assignment on (role, user or group, org_key).
func ApplyConfig(ctx context.Context, admin *Admin, cfg *Config) (ApplyReport, error) {
	var rep ApplyReport
	seed, err := Seed(ctx, admin, cfg.Baseline)
	rep.Seed = seed
	if err != nil {
		return rep, err
	}
	store := admin.Store()
	for _, pc := range cfg.Policies {
		p, err := pc.toPolicy()
		if err != nil {
			return rep, fmt.Errorf("policy %s %s/%s: %w", pc.Role, pc.Resource, pc.Action, err)
		}
		if err := resolvePolicyRefs(ctx, store, pc, p); err != nil {
			return rep, err
		}
		existing, err := findPolicy(ctx, store, p)
		if err != nil {
			return rep, err
		}
		if existing != nil {
			p.ID = existing.ID
			if err := admin.UpdatePolicy(ctx, p); err != nil {
				return rep, fmt.Errorf("update policy %d: %w", p.ID, err)
			}
			rep.Updated++
			continue
		}
		if err := admin.CreatePolicy(ctx, p); err != nil {
			return rep, fmt.Errorf("create policy %s %s/%s: %w", pc.Role, pc.Resource, pc.Action, err)
		}
		rep.Created++
	}
	for _, ac := range cfg.Assignments {
		as, err := ac.toAssignment()
		if err != nil {
			return rep, fmt.Errorf("assignment %s: %w", ac.Role, err)
		}
		role, err := store.GetRoleByName(ctx, ac.Role)
		if err != nil {
			return rep, fmt.Errorf("assignment: %w", keyRefErr("role", ac.Role, err))
		}
		as.RoleID = role.ID
		existing, err := findAssignment(ctx, store, as)
		if err != nil {
			return rep, err
		}
		if existing != nil {
			as.ID = existing.ID
			if err := admin.UpdateAssignment(ctx, as); err != nil {
				return rep, fmt.Errorf("update assignment %d: %w", as.ID, err)
			}
			rep.Updated++
			continue
		}
		if err := admin.CreateAssignment(ctx, as); err != nil {
			return rep, fmt.Errorf("create assignment %s: %w", ac.Role, err)
		}
		rep.Created++
	}
	return rep, nil
}

// RegisterScopes installs a FoldStrategy per configured pair.
func RegisterScopes(reg *ScopeRegistry, scopes []ScopeConfig) (int, error) {
	n := 0
	for _, sc := range scopes {
		s, err := NewFoldStrategy(sc.Fields)
		if err != nil {
			return n, fmt.Errorf("scope %s/%s: %w", sc.Resource, sc.Action, err)
		}
		if err := reg.Register(sc.Resource, sc.Action, s); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func resolvePolicyRefs(ctx context.Context, store Store, pc PolicyConfig, p *Policy) error {
	role, err := store.GetRoleByName(ctx, pc.Role)
	if err != nil {
		return fmt.Errorf("policy: %w", keyRefErr("role", pc.Role, err))
	}
	res, err := store.GetResourceByKey(ctx, utils.NormalizeKey(pc.Resource))
	if err != nil {
		return fmt.Errorf("policy: %w", keyRefErr("resource", pc.Resource, err))
	}
	act, err := store.GetActionByKey(ctx, utils.NormalizeKey(pc.Action))
	if err != nil {
		return fmt.Errorf("policy: %w", keyRefErr("action", pc.Action, err))
	}
	p.RoleID, p.ResourceID, p.ActionID = role.ID, res.ID, act.ID
	return nil
}

func findPolicy(ctx context.Context, store Store, p *Policy) (*Policy, error) {
	policies, err := store.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	org := strings.TrimSpace(p.OrgKey)
	for _, other := range policies {
		if other.RoleID == p.RoleID && other.ResourceID == p.ResourceID && other.ActionID == p.ActionID &&
			other.OrgKey == org && other.Priority == p.Priority {
			return other, nil
		}
	}
	return nil, nil
}

func findAssignment(ctx context.Context, store Store, as *RoleAssignment) (*RoleAssignment, error) {
	assignments, err := store.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	org := strings.TrimSpace(as.OrgKey)
	for _, other := range assignments {
		if other.RoleID == as.RoleID && other.OrgKey == org && other.UserID == as.UserID && other.GroupID == as.GroupID {
			return other, nil
		}
	}
	return nil, nil
}

func keyRefErr(what, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s %q", ErrUnknownReference, what, key)
	}
	return err
}
