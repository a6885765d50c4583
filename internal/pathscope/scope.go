// Package pathscope implements the filesystem predicates the tool executor
// applies to file and shell tools: directory-scope confinement, the
// sensitive-path read blocklist, the core-file write lock, and the
// protected-system-root write lock.
package pathscope

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// sensitivePatterns are path fragments that deny a read regardless of scope,
// because they are known locations for credential material.
var sensitivePatterns = []string{
	".ssh/",
	".aws/credentials",
	".gnupg/",
	"Keychains/",
	"keychain.enc",
	".env",
}

// coreFiles is the fixed set of filename basenames that may never be
// overwritten: the gateway's own entrypoint plus a small list of
// infrastructure files an agent could use to persist itself or tamper with
// its own configuration. This list only ever grows.
var coreFiles = map[string]bool{
	"main.go":         true,
	"go.mod":          true,
	"go.sum":          true,
	"keychain.enc":    true,
	"connectors.json": true,
}

// protectedRoots is rejected for writes regardless of agent scope or level,
// except under the VIP bypass.
var protectedRoots = []string{
	"/System",
	"/Library",
	"/usr",
	"/bin",
	"/sbin",
	"/Applications",
	"/opt",
}

// Resolve expands a leading "~" to the user's home directory, collapses ".."
// segments, and resolves symbolic links so that scope comparisons operate on
// the real filesystem target rather than a name that could be swapped out
// from under the check.
func Resolve(p string) (string, error) {
	expanded, err := expandHome(p)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("pathscope: resolve %q: %w", p, err)
	}
	abs = filepath.Clean(abs)

	// EvalSymlinks requires the path (or some ancestor) to exist. Walk up to
	// the first existing ancestor, resolve it, then re-append the remainder —
	// this lets scope checks work for paths that are about to be created.
	real, err := resolveExistingAncestor(abs)
	if err != nil {
		return "", err
	}
	return real, nil
}

func resolveExistingAncestor(abs string) (string, error) {
	remainder := ""
	cur := abs
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", fmt.Errorf("pathscope: eval symlinks %q: %w", cur, err)
			}
			if remainder == "" {
				return real, nil
			}
			return filepath.Join(real, remainder), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// Reached filesystem root without finding an existing ancestor.
			return abs, nil
		}
		base := filepath.Base(cur)
		if remainder == "" {
			remainder = base
		} else {
			remainder = filepath.Join(base, remainder)
		}
		cur = parent
	}
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("pathscope: resolve home directory: %w", err)
	}
	if p == "~" {
		return u.HomeDir, nil
	}
	return filepath.Join(u.HomeDir, strings.TrimPrefix(p, "~/")), nil
}

// InScope reports whether resolved path p lies under one of the given scope
// roots, or whether scopes is empty (unrestricted). Scope roots are resolved
// the same way as p so a symlinked scope root cannot be bypassed.
func InScope(p string, scopes []string) (bool, error) {
	if len(scopes) == 0 {
		return true, nil
	}
	for _, root := range scopes {
		resolvedRoot, err := Resolve(root)
		if err != nil {
			continue
		}
		if p == resolvedRoot || strings.HasPrefix(p, resolvedRoot+string(filepath.Separator)) {
			return true, nil
		}
	}
	return false, nil
}

// IsSensitiveRead reports whether p (already resolved) matches a known
// secret-bearing path pattern. Sensitive reads are denied regardless of
// scope and regardless of the VIP bypass.
func IsSensitiveRead(p string) bool {
	for _, pat := range sensitivePatterns {
		if strings.Contains(p, pat) {
			return true
		}
	}
	return false
}

// IsCoreFile reports whether p's basename is in the core-file write lock
// list. vipBypass waives this check at the FULL access level.
func IsCoreFile(p string, vipBypass bool) bool {
	if vipBypass {
		return false
	}
	return coreFiles[filepath.Base(p)]
}

// IsProtectedRoot reports whether p (already resolved) falls under a
// protected system root. This check is never waived, even under VIP bypass,
// because it guards the host OS rather than the gateway's own state.
func IsProtectedRoot(p string) bool {
	for _, root := range protectedRoots {
		if p == root || strings.HasPrefix(p, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// CheckRead validates a read-target path against scope and the sensitive
// blocklist. Returns a human-readable reason on denial, or "" on success.
func CheckRead(raw string, scopes []string) (resolved string, deny string, err error) {
	resolved, err = Resolve(raw)
	if err != nil {
		return "", "", err
	}
	if IsSensitiveRead(resolved) {
		return resolved, "BLOCKED: refusing to read a sensitive credential path", nil
	}
	ok, err := InScope(resolved, scopes)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return resolved, "BLOCKED: outside allowed directories", nil
	}
	return resolved, "", nil
}

// CheckWrite validates a write-target path against scope, the core-file
// lock, and protected system roots. vipBypass waives scope and the
// core-file lock (but never the protected-root check).
func CheckWrite(raw string, scopes []string, vipBypass bool) (resolved string, deny string, err error) {
	resolved, err = Resolve(raw)
	if err != nil {
		return "", "", err
	}
	if IsProtectedRoot(resolved) {
		return resolved, "BLOCKED: writes under protected system roots are never allowed", nil
	}
	if IsCoreFile(resolved, vipBypass) {
		return resolved, "BLOCKED: refusing to overwrite a core gateway file", nil
	}
	if !vipBypass {
		ok, err := InScope(resolved, scopes)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return resolved, "BLOCKED: outside allowed directories", nil
		}
	}
	return resolved, "", nil
}
