// Package conflict detects divergent edits between the SVN and Git sides and
// attempts three-way merges for the ones that can be combined automatically.
//
// Detection is stateless: given the change sets from both sides since the
// last synced point, it classifies overlapping paths. Unresolvable conflicts
// are persisted by the caller and pause the affected path until an operator
// decision.
package conflict

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Kind categorises a conflict.
type Kind string

const (
	// KindContent means both sides modified the same text file.
	KindContent Kind = "content"
	// KindEditDelete means one side edited, the other deleted.
	KindEditDelete Kind = "edit_delete"
	// KindRename means both sides renamed the same file to different targets.
	KindRename Kind = "rename"
	// KindProperty is an SVN property conflict (no Git equivalent).
	KindProperty Kind = "property"
	// KindBinary means a binary file changed on both sides.
	KindBinary Kind = "binary"
)

// Status is the lifecycle state of a conflict record.
type Status string

const (
	StatusDetected Status = "detected"
	StatusQueued   Status = "queued"
	StatusDeferred Status = "deferred"
	StatusResolved Status = "resolved"
)

// Resolution names the operator's chosen strategy.
type Resolution string

const (
	AcceptSvn     Resolution = "accept_svn"
	AcceptGit     Resolution = "accept_git"
	AcceptMerged  Resolution = "accept_merged"
	ManualContent Resolution = "manual_content"
)

// Conflict is a detected divergence between the two sides.
type Conflict struct {
	ID          string
	FilePath    string
	Kind        Kind
	SvnContent  []byte
	GitContent  []byte
	BaseContent []byte
	SvnRev      int64
	GitSHA      string
	Status      Status
}

// ChangeOp is the kind of change a side made to a file.
type ChangeOp int

const (
	OpAdded ChangeOp = iota
	OpModified
	OpDeleted
	OpRenamed
	OpPropertyChanged
)

// FileChange is one side's change to a single path.
type FileChange struct {
	Path string
	Op   ChangeOp
	// RenamedFrom is the original path for OpRenamed changes.
	RenamedFrom string
	// Content is the file content after the change (nil for deletes and
	// for binary files too large to hold).
	Content []byte
	// Binary marks content that must never go through text merge.
	Binary bool
}

// IsBinary reports whether data looks binary: a NUL byte within the first
// few kilobytes.
func IsBinary(data []byte) bool {
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

// Detect compares the SVN-side and Git-side change sets and returns the
// conflicts between them.
//
// A path changed on both sides conflicts unless both sides made the exact
// same change (tie-break: applied once, no conflict) or both sides deleted
// it.
func Detect(svnChanges, gitChanges []FileChange) []Conflict {
	gitByPath := make(map[string]*FileChange, len(gitChanges))
	for i := range gitChanges {
		gitByPath[gitChanges[i].Path] = &gitChanges[i]
	}

	var conflicts []Conflict

	for i := range svnChanges {
		svn := &svnChanges[i]
		git, ok := gitByPath[svn.Path]
		if !ok {
			continue
		}
		kind, ok := classify(svn, git)
		if !ok {
			continue
		}
		conflicts = append(conflicts, Conflict{
			ID:         uuid.NewString(),
			FilePath:   svn.Path,
			Kind:       kind,
			SvnContent: svn.Content,
			GitContent: git.Content,
			Status:     StatusDetected,
		})
	}

	// Divergent renames: SVN renamed A->B while Git renamed A->C.
	gitRenames := make(map[string]string)
	for _, c := range gitChanges {
		if c.Op == OpRenamed {
			gitRenames[c.RenamedFrom] = c.Path
		}
	}
	for _, c := range svnChanges {
		if c.Op != OpRenamed {
			continue
		}
		if gitTo, ok := gitRenames[c.RenamedFrom]; ok && gitTo != c.Path {
			conflicts = append(conflicts, Conflict{
				ID:       uuid.NewString(),
				FilePath: c.RenamedFrom,
				Kind:     KindRename,
				Status:   StatusDetected,
			})
		}
	}

	return conflicts
}

// classify decides whether two changes to the same path conflict, and how.
func classify(svn, git *FileChange) (Kind, bool) {
	// Same change on both sides is not a conflict.
	if sameChange(svn, git) {
		return "", false
	}

	if svn.Binary || git.Binary {
		return KindBinary, true
	}

	type pair struct{ a, b ChangeOp }
	switch (pair{svn.Op, git.Op}) {
	case pair{OpModified, OpModified},
		pair{OpAdded, OpAdded},
		pair{OpModified, OpAdded},
		pair{OpAdded, OpModified}:
		return KindContent, true

	case pair{OpModified, OpDeleted},
		pair{OpDeleted, OpModified},
		pair{OpAdded, OpDeleted},
		pair{OpDeleted, OpAdded}:
		return KindEditDelete, true

	case pair{OpDeleted, OpDeleted}:
		return "", false
	}

	if svn.Op == OpPropertyChanged || git.Op == OpPropertyChanged {
		return KindProperty, true
	}
	return "", false
}

// sameChange reports whether both sides made an identical change: same
// operation and, for content-bearing ops, identical bytes.
func sameChange(svn, git *FileChange) bool {
	if svn.Op != git.Op {
		return false
	}
	switch svn.Op {
	case OpDeleted:
		return true
	case OpAdded, OpModified:
		if svn.Content == nil || git.Content == nil {
			return false
		}
		return xxhash.Sum64(svn.Content) == xxhash.Sum64(git.Content) &&
			bytes.Equal(svn.Content, git.Content)
	case OpRenamed:
		return svn.RenamedFrom == git.RenamedFrom && svn.Path == git.Path
	}
	return false
}
