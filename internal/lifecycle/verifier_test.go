package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVerifierCandidates(t *testing.T) {
	if got := VerifierCandidates(""); len(got) != 3 || got[0] != "Reviewer" {
		t.Errorf("default candidates = %v", got)
	}
	if got := VerifierCandidates("QA, Auditor"); len(got) != 2 || got[0] != "QA" || got[1] != "Auditor" {
		t.Errorf("custom candidates = %v", got)
	}
	if got := VerifierCandidates(" , ,"); len(got) != 3 {
		t.Errorf("blank csv should fall back: %v", got)
	}
}

func TestEnsureVerifierRoles(t *testing.T) {
	candidates := []string{"Reviewer", "QA", "Verifier"}

	// Selection already contains a verifier: nothing added.
	selected, verifiers, added, available := EnsureVerifierRoles(
		[]string{"Coder", "Reviewer"},
		[]string{"Coder", "Reviewer", "QA"},
		candidates,
	)
	if added {
		t.Error("should not add when verifier already selected")
	}
	if len(selected) != 2 {
		t.Errorf("selected = %v", selected)
	}
	if len(verifiers) != 1 || verifiers[0] != "Reviewer" {
		t.Errorf("verifiers = %v", verifiers)
	}
	// candidate order: Reviewer before QA
	if len(available) != 2 || available[0] != "Reviewer" || available[1] != "QA" {
		t.Errorf("available = %v", available)
	}

	// No verifier selected but one available: first candidate appended.
	selected, verifiers, added, _ = EnsureVerifierRoles(
		[]string{"Coder"},
		[]string{"Coder", "QA"},
		candidates,
	)
	if !added {
		t.Error("expected auto-added verifier")
	}
	if len(selected) != 2 || selected[1] != "QA" {
		t.Errorf("selected = %v", selected)
	}
	if len(verifiers) != 1 || verifiers[0] != "QA" {
		t.Errorf("verifiers = %v", verifiers)
	}

	// Nothing available: selection unchanged.
	selected, verifiers, added, available = EnsureVerifierRoles(
		[]string{"Coder"},
		[]string{"Coder"},
		candidates,
	)
	if added || len(verifiers) != 0 || len(available) != 0 {
		t.Errorf("unexpected verifier wiring: %v %v %v", selected, verifiers, available)
	}

	// Case-insensitive candidate match keeps the project's casing.
	_, verifiers, _, _ = EnsureVerifierRoles(
		[]string{"reviewer"},
		[]string{"reviewer"},
		candidates,
	)
	if len(verifiers) != 1 || verifiers[0] != "reviewer" {
		t.Errorf("case-insensitive match = %v", verifiers)
	}
}

func TestLoadRoles(t *testing.T) {
	dir := t.TempDir()

	if got := LoadRoles(dir); got != nil {
		t.Errorf("missing file roles = %v", got)
	}

	cfg := `{
		"coordinator": {"role": "Orchestrator"},
		"agents": [
			{"role": "Coder"},
			{"role": "Reviewer"},
			"QA",
			{"role": "Coder"}
		]
	}`
	if err := os.WriteFile(filepath.Join(dir, "orchestrator.json"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	got := LoadRoles(dir)
	want := []string{"Orchestrator", "Coder", "Reviewer", "QA"}
	if len(got) != len(want) {
		t.Fatalf("roles = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("roles[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "orchestrator.json"), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := LoadRoles(dir); got != nil {
		t.Errorf("corrupt file roles = %v", got)
	}
}
