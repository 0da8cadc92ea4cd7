package playbook

import (
	"strings"
	"testing"

	"github.com/lvonguyen/cloudgate/internal/cloud"
	"github.com/lvonguyen/cloudgate/internal/executor"
	"github.com/lvonguyen/cloudgate/internal/gateway"
	"github.com/lvonguyen/cloudgate/internal/policy"
)

// TestLibrary_BuiltinsValidate verifies every built-in playbook passes
// validation against the built-in registry.
func TestLibrary_BuiltinsValidate(t *testing.T) {
	reg := NewBuiltinRegistry(map[cloud.Kind]*gateway.Gateway{}, executor.New(executor.Options{}, nil),
		policy.NewEngine(policy.ModeStrict, policy.TierMedium, nil), nil)
	lib := NewLibrary(nil)

	playbooks := lib.All()
	if len(playbooks) < 8 {
		t.Fatalf("library has %d playbooks, want >= 8", len(playbooks))
	}
	for _, pb := range playbooks {
		if err := Validate(pb, reg); err != nil {
			t.Errorf("built-in %s invalid: %v", pb.ID, err)
		}
	}
}

// TestLibrary_Get verifies lookup by id.
func TestLibrary_Get(t *testing.T) {
	lib := NewLibrary(nil)
	pb, ok := lib.Get("AWS-PUBLIC-S3")
	if !ok {
		t.Fatal("AWS-PUBLIC-S3 missing")
	}
	if !pb.RequiresApproval || !pb.RollbackEnabled {
		t.Error("AWS-PUBLIC-S3 flags wrong")
	}
	if _, ok := lib.Get("NOPE"); ok {
		t.Error("unknown id found")
	}
}

// TestLibrary_Filters verifies category and severity filters.
func TestLibrary_Filters(t *testing.T) {
	lib := NewLibrary(nil)

	storage := lib.ByCategory("storage")
	if len(storage) < 3 {
		t.Errorf("storage playbooks = %d, want >= 3", len(storage))
	}
	for _, pb := range storage {
		if !strings.EqualFold(pb.Category, "Storage") {
			t.Errorf("%s category = %s", pb.ID, pb.Category)
		}
	}

	critical := lib.BySeverity("critical")
	if len(critical) == 0 {
		t.Error("no critical playbooks")
	}
}

// TestLibrary_Match verifies finding-driven selection.
func TestLibrary_Match(t *testing.T) {
	lib := NewLibrary(nil)

	pb, ok := lib.Match(Finding{ID: "F-1", Category: "Storage"})
	if !ok {
		t.Fatal("no match for storage finding")
	}
	if !strings.EqualFold(pb.Category, "Storage") {
		t.Errorf("matched %s (%s)", pb.ID, pb.Category)
	}

	if _, ok := lib.Match(Finding{ID: "F-2", Category: "Quantum"}); ok {
		t.Error("matched a category no playbook covers")
	}
}

// TestLibrary_LoadExport verifies YAML round trip through the library.
func TestLibrary_LoadExport(t *testing.T) {
	lib := NewLibrary(nil)

	data, err := lib.Export("GCP-PUBLIC-BUCKET")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "GCP-PUBLIC-BUCKET") {
		t.Error("export missing id")
	}

	custom := []byte(`
id: CUSTOM-1
name: Custom Remediation
category: Logging
severity: HIGH
actions:
  - name: restart-sink
    kind: gcp
    params:
      command: "gcloud logging sinks describe {resource}"
`)
	if err := lib.Load(custom); err != nil {
		t.Fatal(err)
	}
	if _, ok := lib.Get("CUSTOM-1"); !ok {
		t.Error("loaded playbook missing")
	}
	if _, ok := lib.Match(Finding{Category: "Logging"}); !ok {
		t.Error("loaded playbook not matchable")
	}

	if err := lib.Load([]byte("name: no id")); err == nil {
		t.Error("playbook without id accepted")
	}
}
