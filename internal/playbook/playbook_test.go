package playbook

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testRegistry() *Registry {
	reg := NewRegistry()
	noop := func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		return ActionResult{Status: ActionCompleted, Message: "ok"}
	}
	for _, kind := range []string{KindActionAWS, KindActionGCP, KindActionAzure, KindActionNotification, KindActionScript} {
		reg.Register(kind, noop)
	}
	return reg
}

// =============================================================================
// Builder and Validation Tests
// =============================================================================

// TestBuilder verifies the builder produces an immutable playbook.
func TestBuilder(t *testing.T) {
	b := NewBuilder("PB-1", "Test Playbook").
		Description("desc").
		Category("Storage").
		Severity("HIGH").
		RequiresApproval(true).
		RollbackEnabled(true).
		Timeout(time.Minute).
		Prerequisite("check-1").
		Action("a1", KindActionNotification, map[string]any{"message": "hi"}, nil)

	pb := b.Build()

	// Later builder mutations must not leak into the built value.
	b.Action("a2", KindActionNotification, nil, nil)

	if pb.ID != "PB-1" || pb.Name != "Test Playbook" {
		t.Errorf("identity lost: %s %s", pb.ID, pb.Name)
	}
	if !pb.RequiresApproval || !pb.RollbackEnabled || pb.Timeout != time.Minute {
		t.Error("flags lost")
	}
	if len(pb.Actions) != 1 {
		t.Errorf("built playbook has %d actions, want 1", len(pb.Actions))
	}
	if len(pb.Prerequisites) != 1 || pb.Prerequisites[0] != "check-1" {
		t.Errorf("prerequisites = %v", pb.Prerequisites)
	}
}

// TestValidate verifies the playbook validity rules.
func TestValidate(t *testing.T) {
	reg := testRegistry()

	valid := NewBuilder("PB-1", "ok").
		Action("a1", KindActionNotification, nil, nil).
		Build()
	if err := Validate(valid, reg); err != nil {
		t.Errorf("valid playbook rejected: %v", err)
	}

	cases := []struct {
		name string
		pb   Playbook
	}{
		{"missing id", NewBuilder("", "x").Action("a", KindActionNotification, nil, nil).Build()},
		{"missing name", NewBuilder("X", "").Action("a", KindActionNotification, nil, nil).Build()},
		{"no actions", NewBuilder("X", "x").Build()},
		{"unknown kind", NewBuilder("X", "x").Action("a", "teleport", nil, nil).Build()},
		{"duplicate names", NewBuilder("X", "x").
			Action("a", KindActionNotification, nil, nil).
			Action("a", KindActionNotification, nil, nil).
			Build()},
		{"unnamed action", NewBuilder("X", "x").Action("", KindActionNotification, nil, nil).Build()},
	}
	for _, tc := range cases {
		if err := Validate(tc.pb, reg); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: got %v, want ErrValidation", tc.name, err)
		}
	}
}

// TestValidate_CustomKind verifies user-registered kinds validate.
func TestValidate_CustomKind(t *testing.T) {
	reg := testRegistry()
	reg.Register("ticket", func(ctx context.Context, action Action, hc HandlerContext, dryRun bool) ActionResult {
		return ActionResult{Status: ActionCompleted}
	})
	pb := NewBuilder("X", "x").Action("file-ticket", "ticket", nil, nil).Build()
	if err := Validate(pb, reg); err != nil {
		t.Errorf("registered custom kind rejected: %v", err)
	}
}

// =============================================================================
// YAML Tests
// =============================================================================

// TestYAMLRoundTrip verifies export and re-load preserve the definition.
func TestYAMLRoundTrip(t *testing.T) {
	pb := NewBuilder("PB-YAML", "Yaml Playbook").
		Category("Network").
		Severity("HIGH").
		RequiresApproval(true).
		Timeout(2 * time.Minute).
		Action("fix", KindActionAWS, map[string]any{"command": "aws ec2 describe-instances"}, nil).
		Build()

	data, err := ExportYAML(pb)
	if err != nil {
		t.Fatal(err)
	}
	got, err := LoadYAML(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != pb.ID || got.Name != pb.Name || got.Timeout != pb.Timeout {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if len(got.Actions) != 1 || got.Actions[0].Kind != KindActionAWS {
		t.Errorf("round trip lost actions: %+v", got.Actions)
	}
	if got.Actions[0].Params["command"] != "aws ec2 describe-instances" {
		t.Errorf("round trip lost params: %+v", got.Actions[0].Params)
	}
}

// TestLoadYAML_Invalid verifies malformed YAML is rejected.
func TestLoadYAML_Invalid(t *testing.T) {
	if _, err := LoadYAML([]byte("{not yaml")); err == nil {
		t.Error("malformed YAML accepted")
	}
}

// TestYAML_StringsStayOpaque double-checks placeholders survive YAML.
func TestYAML_StringsStayOpaque(t *testing.T) {
	data := []byte(`
id: PB-CUSTOM
name: Custom
category: Storage
severity: LOW
actions:
  - name: fix
    kind: aws
    params:
      command: "aws s3api put-public-access-block --bucket {resource}"
`)
	pb, err := LoadYAML(data)
	if err != nil {
		t.Fatal(err)
	}
	cmd, _ := pb.Actions[0].Params["command"].(string)
	if !strings.Contains(cmd, "{resource}") {
		t.Errorf("placeholder lost: %q", cmd)
	}
}
