// Package pathpolicy enforces workspace path containment and grants
// time-bounded exclusive leases on a workspace root (spec.md §4.1,
// component A).
package pathpolicy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fl-sean03/agentgate/internal/core"
)

// ViolationKind names why validatePath rejected a candidate (spec.md §4.1).
type ViolationKind string

const (
	ViolationTraversal   ViolationKind = "traversal"
	ViolationOutsideRoot ViolationKind = "outside_root"
	ViolationDenied      ViolationKind = "denied"
	ViolationNotAllowed  ViolationKind = "not_allowed"
)

// Policy holds the allow/deny globs for one workspace root. Patterns use
// path/filepath's shell-style glob syntax, matched against the full
// slash-separated path relative to Root and against every path suffix, so
// a pattern like "*.secret" also matches "nested/dir/x.secret".
type Policy struct {
	Root  string
	Allow []string
	Deny  []string
}

// NewPolicy validates the allow/deny glob lists against an absolute root.
// An empty allow list means "allow everything not denied".
func NewPolicy(root string, allowGlobs, denyGlobs []string) (*Policy, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, core.ErrValidation("INVALID_ROOT", fmt.Sprintf("cannot resolve root path: %v", err))
	}
	for _, pattern := range append(append([]string{}, allowGlobs...), denyGlobs...) {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return nil, core.ErrValidation("INVALID_GLOB", fmt.Sprintf("%q: %v", pattern, err))
		}
	}
	return &Policy{Root: absRoot, Allow: allowGlobs, Deny: denyGlobs}, nil
}

// ValidatePath resolves candidate to an absolute path and checks it is
// lexically contained in Root, not denied, and (if an allow list is
// configured) matches an allow glob (spec.md §4.1).
func (p *Policy) ValidatePath(candidate string) (string, error) {
	joined := candidate
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(p.Root, candidate)
	}
	resolved := filepath.Clean(joined)

	rel, err := filepath.Rel(p.Root, resolved)
	if err != nil {
		return "", p.violation(ViolationOutsideRoot, candidate)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", p.violation(ViolationTraversal, candidate)
	}
	if filepath.IsAbs(rel) {
		return "", p.violation(ViolationOutsideRoot, candidate)
	}

	relSlash := filepath.ToSlash(rel)
	for _, pattern := range p.Deny {
		if globMatch(pattern, relSlash) {
			return "", p.violation(ViolationDenied, candidate)
		}
	}
	if len(p.Allow) > 0 {
		allowed := false
		for _, pattern := range p.Allow {
			if globMatch(pattern, relSlash) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", p.violation(ViolationNotAllowed, candidate)
		}
	}
	return resolved, nil
}

// globMatch reports whether pattern matches relSlash or any of its
// path suffixes, approximating recursive-glob semantics on top of
// filepath.Match (which never crosses path separators by itself).
func globMatch(pattern, relSlash string) bool {
	if relSlash == "." {
		relSlash = ""
	}
	if ok, _ := filepath.Match(pattern, relSlash); ok {
		return true
	}
	segs := strings.Split(relSlash, "/")
	for i := range segs {
		if ok, _ := filepath.Match(pattern, strings.Join(segs[i:], "/")); ok {
			return true
		}
	}
	return false
}

func (p *Policy) violation(kind ViolationKind, candidate string) error {
	return core.ErrValidation(string(kind), fmt.Sprintf("path %q rejected: %s", candidate, kind)).
		WithDetail("root", p.Root).
		WithDetail("candidate", candidate)
}
