package pathscope_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/torbobase/torbo-base/internal/pathscope"
)

func TestInScope_WithinRoot(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "project")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(sub, "a.txt")
	if err := os.WriteFile(target, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := pathscope.Resolve(target)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := pathscope.InScope(resolved, []string{sub})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected target to be in scope")
	}
}

func TestInScope_EscapeViaDotDot(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "project")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(dir, "secret.txt")
	if err := os.WriteFile(secret, []byte("shh"), 0o644); err != nil {
		t.Fatal(err)
	}

	escaping := filepath.Join(sub, "..", "secret.txt")
	resolved, err := pathscope.Resolve(escaping)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := pathscope.InScope(resolved, []string{sub})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected escaping path to be rejected")
	}
}

func TestInScope_EmptyScopesUnrestricted(t *testing.T) {
	ok, err := pathscope.InScope("/anywhere/at/all", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected empty scopes to mean unrestricted")
	}
}

func TestIsSensitiveRead(t *testing.T) {
	cases := map[string]bool{
		"/home/user/.ssh/id_rsa":        true,
		"/home/user/.aws/credentials":   true,
		"/home/user/project/.env":       true,
		"/home/user/project/readme.txt": false,
	}
	for path, want := range cases {
		if got := pathscope.IsSensitiveRead(path); got != want {
			t.Errorf("IsSensitiveRead(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestCheckWrite_ProtectedRootNeverWaived(t *testing.T) {
	_, deny, err := pathscope.CheckWrite("/usr/local/bin/tool", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if deny == "" {
		t.Fatal("expected protected root write to be denied even with VIP bypass")
	}
}

func TestCheckWrite_CoreFileWaivedUnderVIP(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "go.mod")

	_, deny, err := pathscope.CheckWrite(target, []string{"/nowhere"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if deny == "" {
		t.Fatal("expected core file write to be denied without VIP bypass")
	}

	_, deny, err = pathscope.CheckWrite(target, []string{"/nowhere"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if deny != "" {
		t.Fatalf("expected core-file lock to be waived under VIP bypass, got deny=%q", deny)
	}
}
