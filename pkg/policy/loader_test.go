package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const denyAllRego = `# Blocks every push.
# Used in tests only.
package mailsync.denyall

deny contains "pushes are frozen" if true
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestReadPolicy_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "freeze.rego")
	writeFile(t, path, denyAllRego)

	policy, err := loader.readPolicy(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "freeze" {
		t.Errorf("Expected name 'freeze', got '%s'", policy.Name)
	}
	if policy.Description != "Blocks every push. Used in tests only." {
		t.Errorf("Description = %q", policy.Description)
	}
	if policy.Rego != denyAllRego || policy.Source != path {
		t.Error("Rego content or source doesn't match")
	}
	if !policy.Enabled || policy.Builtin {
		t.Errorf("flags = enabled %v builtin %v", policy.Enabled, policy.Builtin)
	}
}

func TestReadPolicy_Unsupported(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "policy.json")
	writeFile(t, path, "{}")

	if _, err := loader.readPolicy(path); err == nil {
		t.Error("expected error for non-rego file")
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), "package a\n")
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), "package b\n")
	writeFile(t, filepath.Join(dir, "nested", "b_test.rego"), "package b\n")
	writeFile(t, filepath.Join(dir, "README.md"), "docs")

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("got %d policies, want 2: %+v", len(policies), policies)
	}
	if policies[0].Name != "a" || policies[1].Name != "b" {
		t.Errorf("names = %s, %s", policies[0].Name, policies[1].Name)
	}
}

func TestLoadFromPaths_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one", "dup.rego"), "package one\n")
	writeFile(t, filepath.Join(dir, "two", "dup.rego"), "package two\n")

	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{dir}); err == nil {
		t.Error("expected error for duplicate policy names")
	}
	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestEngine_LoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "freeze.rego"), denyAllRego)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	result, err := eng.Evaluate(context.Background(), deletes(1), Context{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || len(result.Denials) != 1 || result.Denials[0].Message != "pushes are frozen" {
		t.Errorf("result = %+v", result)
	}
}

func TestEngine_LoadPoliciesCompileError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.rego"), "package broken\ndeny contains if {\n")

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Error("expected compile error")
	}
}

func TestIsPolicyFile(t *testing.T) {
	tests := map[string]bool{
		"a.rego":      true,
		"a_test.rego": false,
		"a.json":      false,
		"rego":        false,
	}
	for path, want := range tests {
		if got := IsPolicyFile(path); got != want {
			t.Errorf("IsPolicyFile(%q) = %v, want %v", path, got, want)
		}
	}
}
