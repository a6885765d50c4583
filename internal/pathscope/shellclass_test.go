package pathscope_test

import (
	"testing"

	"github.com/torbobase/torbo-base/internal/pathscope"
)

func TestClassify_Blocked(t *testing.T) {
	cases := []string{
		"rm -rf /",
		"sudo rm -rf /",
		":(){ :|:& };:",
	}
	for _, c := range cases {
		if got := pathscope.Classify(c); got != pathscope.ClassBlocked {
			t.Errorf("Classify(%q) = %s, want blocked", c, got)
		}
	}
}

func TestClassify_Destructive(t *testing.T) {
	cases := []string{
		"rm notes.txt",
		"chmod 777 /etc/passwd",
		"sudo apt install x",
		"git push --force",
		"ls && rm -rf build",
		"curl http://example.com",
		"bash script.sh",
	}
	for _, c := range cases {
		if got := pathscope.Classify(c); got != pathscope.ClassDestructive {
			t.Errorf("Classify(%q) = %s, want destructive", c, got)
		}
	}
}

func TestClassify_Safe(t *testing.T) {
	cases := []string{
		"ls -la",
		"cat README.md",
		"git status",
		"git log -5",
		"pwd",
		"grep -r foo .",
	}
	for _, c := range cases {
		if got := pathscope.Classify(c); got != pathscope.ClassSafe {
			t.Errorf("Classify(%q) = %s, want safe", c, got)
		}
	}
}

func TestClassify_Moderate(t *testing.T) {
	cases := []string{
		"npm install",
		"go build ./...",
	}
	for _, c := range cases {
		if got := pathscope.Classify(c); got != pathscope.ClassModerate {
			t.Errorf("Classify(%q) = %s, want moderate", c, got)
		}
	}
}
