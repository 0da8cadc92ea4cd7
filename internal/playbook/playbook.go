// Package playbook implements the remediation playbook engine: immutable
// playbook definitions, a pluggable action handler registry, and the
// execution state machine with approval gates, dry-run, audit history, and
// reverse-order rollback.
package playbook

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Common errors.
var (
	ErrValidation        = errors.New("playbook validation failed")
	ErrNotFound          = errors.New("execution not found")
	ErrState             = errors.New("illegal execution state transition")
	ErrHandlerMissing    = errors.New("no handler registered for action kind")
	ErrResourceExhausted = errors.New("concurrent execution limit reached")
)

// Built-in action kinds.
const (
	KindActionAWS          = "aws"
	KindActionGCP          = "gcp"
	KindActionAzure        = "azure"
	KindActionNotification = "notification"
	KindActionScript       = "script"
)

// Finding is the external input a playbook remediates. The engine reads
// findings, never mutates them.
type Finding struct {
	ID              string `json:"id" yaml:"id"`
	Category        string `json:"category" yaml:"category"`
	Severity        string `json:"severity" yaml:"severity"`
	Resource        string `json:"resource" yaml:"resource"`
	RemediationHint string `json:"remediation_hint,omitempty" yaml:"remediation_hint,omitempty"`
}

// Predicate decides whether an action applies to a finding. A nil predicate
// always applies.
type Predicate func(Finding) bool

// Action is a single immutable step of a playbook.
type Action struct {
	Name   string         `yaml:"name" json:"name"`
	Kind   string         `yaml:"kind" json:"kind"`
	Params map[string]any `yaml:"params" json:"params"`

	// RollbackRef selects the rollback sub-handler for this action.
	// Empty means the action's own kind.
	RollbackRef string `yaml:"rollback_ref,omitempty" json:"rollback_ref,omitempty"`

	// Predicate is optional and not expressible in YAML definitions.
	Predicate Predicate `yaml:"-" json:"-"`
}

// Playbook is an immutable ordered remediation plan. Construct with Builder
// or load from YAML; validate before execution.
type Playbook struct {
	ID              string        `yaml:"id" json:"id"`
	Name            string        `yaml:"name" json:"name"`
	Description     string        `yaml:"description" json:"description"`
	Category        string        `yaml:"category" json:"category"`
	Severity        string        `yaml:"severity" json:"severity"`
	Prerequisites   []string      `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
	Actions         []Action      `yaml:"actions" json:"actions"`
	RequiresApproval bool         `yaml:"requires_approval" json:"requires_approval"`
	RollbackEnabled bool          `yaml:"rollback_enabled" json:"rollback_enabled"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
}

// Builder assembles a Playbook. The zero Builder is not usable; start with
// NewBuilder.
type Builder struct {
	pb Playbook
}

// NewBuilder starts a playbook definition.
func NewBuilder(id, name string) *Builder {
	return &Builder{pb: Playbook{ID: id, Name: name}}
}

func (b *Builder) Description(d string) *Builder        { b.pb.Description = d; return b }
func (b *Builder) Category(c string) *Builder           { b.pb.Category = c; return b }
func (b *Builder) Severity(s string) *Builder           { b.pb.Severity = s; return b }
func (b *Builder) RequiresApproval(v bool) *Builder     { b.pb.RequiresApproval = v; return b }
func (b *Builder) RollbackEnabled(v bool) *Builder      { b.pb.RollbackEnabled = v; return b }
func (b *Builder) Timeout(d time.Duration) *Builder     { b.pb.Timeout = d; return b }
func (b *Builder) Prerequisite(name string) *Builder {
	b.pb.Prerequisites = append(b.pb.Prerequisites, name)
	return b
}

// Action appends an action.
func (b *Builder) Action(name, kind string, params map[string]any, pred Predicate) *Builder {
	b.pb.Actions = append(b.pb.Actions, Action{
		Name:      name,
		Kind:      kind,
		Params:    params,
		Predicate: pred,
	})
	return b
}

// ActionWithRollback appends an action with an explicit rollback sub-handler
// reference.
func (b *Builder) ActionWithRollback(name, kind, rollbackRef string, params map[string]any) *Builder {
	b.pb.Actions = append(b.pb.Actions, Action{
		Name:        name,
		Kind:        kind,
		Params:      params,
		RollbackRef: rollbackRef,
	})
	return b
}

// Build returns the assembled playbook by value; further builder calls do
// not affect it.
func (b *Builder) Build() Playbook {
	pb := b.pb
	pb.Actions = append([]Action(nil), b.pb.Actions...)
	pb.Prerequisites = append([]string(nil), b.pb.Prerequisites...)
	return pb
}

// Validate checks a playbook against the registry: non-empty id and name, at
// least one action, every kind resolvable, no duplicate action names.
func Validate(pb Playbook, reg *Registry) error {
	if pb.ID == "" || pb.Name == "" {
		return fmt.Errorf("%w: id and name are required", ErrValidation)
	}
	if len(pb.Actions) == 0 {
		return fmt.Errorf("%w: playbook %s has no actions", ErrValidation, pb.ID)
	}
	seen := make(map[string]bool, len(pb.Actions))
	for _, a := range pb.Actions {
		if a.Name == "" {
			return fmt.Errorf("%w: playbook %s has an unnamed action", ErrValidation, pb.ID)
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: duplicate action name %q", ErrValidation, a.Name)
		}
		seen[a.Name] = true
		if _, ok := reg.Resolve(a.Kind); !ok {
			return fmt.Errorf("%w: action %q has unknown kind %q", ErrValidation, a.Name, a.Kind)
		}
	}
	return nil
}

// LoadYAML parses a playbook definition from YAML.
func LoadYAML(data []byte) (Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return Playbook{}, fmt.Errorf("parsing playbook YAML: %w", err)
	}
	return pb, nil
}

// ExportYAML serializes a playbook definition to YAML.
func ExportYAML(pb Playbook) ([]byte, error) {
	return yaml.Marshal(pb)
}
