package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, dir, name, desc, body string) {
	t.Helper()
	content := "description: " + desc + "\n" + body
	if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing skill fixture: %v", err)
	}
}

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"deploy":      true,
		"":            false,
		".":           false,
		"..":          false,
		"a/b":         false,
		`a\b`:         false,
		"../escape":   false,
	}
	for name, want := range cases {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDirLoaderAndReload(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "deploy", "deploy things", "Run the deploy playbook.")

	reg := NewRegistry(KeywordMatcher, DirLoader{Dir: dir})
	changed, err := reg.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(changed) != 1 || changed[0] != "deploy" {
		t.Fatalf("expected one changed skill on first load, got %v", changed)
	}

	// Reloading with no changes should report nothing changed.
	changed, err = reg.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("expected no changes on stable reload, got %v", changed)
	}

	s, ok := reg.Get("deploy")
	if !ok || s.Description != "deploy things" {
		t.Fatalf("unexpected skill after load: %+v", s)
	}
}

func TestReloadDetectsEdit(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "deploy", "v1", "body v1")
	reg := NewRegistry(nil, DirLoader{Dir: dir})
	if _, err := reg.Reload(); err != nil {
		t.Fatal(err)
	}

	writeSkill(t, dir, "deploy", "v2", "body v2")
	changed, err := reg.Reload()
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || changed[0] != "deploy" {
		t.Fatalf("expected edit detected, got %v", changed)
	}
}

func TestMatchFallsBackToAllWhenNoMatcher(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "alpha", "a", "a body")
	writeSkill(t, dir, "beta", "b", "b body")
	reg := NewRegistry(nil, DirLoader{Dir: dir})
	if _, err := reg.Reload(); err != nil {
		t.Fatal(err)
	}

	matches := reg.Match("anything", 10)
	if len(matches) != 2 {
		t.Fatalf("expected all skills active as fallback, got %d", len(matches))
	}
}

func TestMatchExcludesBlockedSkills(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "deploy", "deploys code", "body")
	reg := NewRegistry(KeywordMatcher, DirLoader{Dir: dir})
	if _, err := reg.Reload(); err != nil {
		t.Fatal(err)
	}
	reg.SetTrust("deploy", TrustBlocked)

	matches := reg.Match("deploy", 10)
	if len(matches) != 0 {
		t.Fatalf("blocked skill must never be matched, got %+v", matches)
	}
}

func TestMatchCapsToMaxActive(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "alpha", "a", "a")
	writeSkill(t, dir, "beta", "b", "b")
	writeSkill(t, dir, "gamma", "g", "g")
	reg := NewRegistry(KeywordMatcher, DirLoader{Dir: dir})
	if _, err := reg.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := reg.Match("a b g", 2); len(got) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(got))
	}
}
