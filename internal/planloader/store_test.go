package planloader

import (
	"os"
	"path/filepath"
	"testing"
)

func writePlanFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "execution_plan.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

func TestLoadFile_validPlan(t *testing.T) {
	path := writePlanFile(t, validPlanTOML)
	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Version() != "1.3" {
		t.Errorf("Version() = %q, want 1.3", s.Version())
	}
}

func TestLoadFile_invalidPlanIsRejected(t *testing.T) {
	path := writePlanFile(t, "[general]\nproduct_family = \"Echo\"\n\n[[plugins]]\nname = \"wifi\"\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected an error for a plan missing required fields")
	}
}

func TestLoadFile_missingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestStore_swapReplacesCurrent(t *testing.T) {
	path := writePlanFile(t, validPlanTOML)
	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	newer := &Plan{General: General{ExecutionPlanVersion: "2.0"}}
	s.Swap(newer)
	if s.Version() != "2.0" {
		t.Errorf("Version() = %q, want 2.0 after swap", s.Version())
	}
}
