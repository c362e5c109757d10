// Package policy decides, per file, whether a sync operation should copy the
// file normally, skip it, or route it through large-file tracking.
//
// The policy is evaluated identically in both sync directions so that a file
// excluded on one side is excluded on the other.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Outcome is the kind of decision the policy reached.
type Outcome int

const (
	// Include means the file is copied normally.
	Include Outcome = iota
	// Skip means the file is excluded from the tree transfer.
	Skip
	// LfsTrack means the file is included, but routed through large-file
	// tracking (its pattern is recorded in .gitattributes).
	LfsTrack
)

// Decision is the result of evaluating one path+size pair.
type Decision struct {
	Outcome Outcome
	// Reason is "ignore" or "oversize" for Skip decisions.
	Reason string
	// Pattern is the glob that matched for Skip(ignore) and LfsTrack.
	Pattern string
	// Size and Limit carry the byte counts for Skip(oversize) decisions.
	Size  int64
	Limit int64
}

// ShouldSync reports whether the file ends up in the target tree.
func (d Decision) ShouldSync() bool {
	return d.Outcome != Skip
}

// Detail is a short human-readable summary for audit entries.
func (d Decision) Detail(path string) string {
	switch {
	case d.Outcome == Skip && d.Reason == "oversize":
		return fmt.Sprintf("Skipped '%s' (%d bytes > %d limit)", path, d.Size, d.Limit)
	case d.Outcome == Skip:
		return fmt.Sprintf("Skipped '%s' (matches '%s')", path, d.Pattern)
	case d.Outcome == LfsTrack:
		return fmt.Sprintf("LFS-tracking '%s' (%d bytes)", path, d.Size)
	default:
		return fmt.Sprintf("Included '%s'", path)
	}
}

// pattern pairs a raw glob with its compiled matcher so a match can be
// reported back by the pattern text that caused it.
type pattern struct {
	raw     string
	matcher *gitignore.GitIgnore
}

// Policy evaluates candidate files against size limits and glob patterns.
// Safe for concurrent readers once constructed.
type Policy struct {
	maxFileSize  int64
	lfsThreshold int64
	ignore       []pattern
	lfs          []pattern
}

// New builds a Policy. maxFileSize 0 disables the size limit; lfsThreshold 0
// disables threshold-based LFS tracking. Pattern lists use gitignore-style
// glob semantics matched against the forward-slash relative path.
func New(maxFileSize int64, ignorePatterns []string, lfsThreshold int64, lfsPatterns []string) *Policy {
	return &Policy{
		maxFileSize:  maxFileSize,
		lfsThreshold: lfsThreshold,
		ignore:       compile(ignorePatterns),
		lfs:          compile(lfsPatterns),
	}
}

func compile(globs []string) []pattern {
	out := make([]pattern, 0, len(globs))
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		out = append(out, pattern{raw: g, matcher: gitignore.CompileIgnoreLines(g)})
	}
	return out
}

// HasConstraints reports whether the policy can ever do anything but Include.
func (p *Policy) HasConstraints() bool {
	return p.maxFileSize > 0 || p.lfsThreshold > 0 || len(p.ignore) > 0 || len(p.lfs) > 0
}

// MaxFileSize returns the configured size limit (0 = unlimited).
func (p *Policy) MaxFileSize() int64 { return p.maxFileSize }

// LfsEnabled reports whether any LFS routing is configured.
func (p *Policy) LfsEnabled() bool { return p.lfsThreshold > 0 || len(p.lfs) > 0 }

// Evaluate decides the outcome for a relative path of the given size.
//
// Order of checks: ignore patterns, max_file_size, lfs_patterns (regardless
// of size), lfs_threshold.
func (p *Policy) Evaluate(relPath string, size int64) Decision {
	path := filepath.ToSlash(relPath)

	for _, pat := range p.ignore {
		if pat.matcher.MatchesPath(path) {
			return Decision{Outcome: Skip, Reason: "ignore", Pattern: pat.raw, Size: size}
		}
	}

	if p.maxFileSize > 0 && size > p.maxFileSize {
		return Decision{Outcome: Skip, Reason: "oversize", Size: size, Limit: p.maxFileSize}
	}

	for _, pat := range p.lfs {
		if pat.matcher.MatchesPath(path) {
			return Decision{Outcome: LfsTrack, Pattern: pat.raw, Size: size}
		}
	}

	if p.lfsThreshold > 0 && size > p.lfsThreshold {
		return Decision{Outcome: LfsTrack, Size: size}
	}

	return Decision{Outcome: Include, Size: size}
}

// EvaluatePath stats the file under baseDir and evaluates it. A file that
// cannot be stat'd is Included; the copy itself will surface the I/O error.
func (p *Policy) EvaluatePath(baseDir, relPath string) Decision {
	info, err := os.Stat(filepath.Join(baseDir, relPath))
	if err != nil {
		return Decision{Outcome: Include}
	}
	return p.Evaluate(relPath, info.Size())
}
