package conflict

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeIdenticalFiles(t *testing.T) {
	base := "line1\nline2\nline3\n"
	res := ThreeWayMerge(base, base, base)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, base, res.Merged)
}

func TestMergeOnlyOursChanged(t *testing.T) {
	base := "line1\nline2\nline3\n"
	ours := "line1\nmodified\nline3\n"
	res := ThreeWayMerge(base, ours, base)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, ours, res.Merged)
}

func TestMergeOnlyTheirsChanged(t *testing.T) {
	base := "line1\nline2\nline3\n"
	theirs := "line1\nline2\nmodified\n"
	res := ThreeWayMerge(base, base, theirs)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, theirs, res.Merged)
}

func TestMergeNonOverlappingChanges(t *testing.T) {
	base := "aaa\nbbb\nccc\nddd\neee\n"
	ours := "AAA\nbbb\nccc\nddd\neee\n"
	theirs := "aaa\nbbb\nccc\nddd\nEEE\n"

	res := ThreeWayMerge(base, ours, theirs)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, "AAA\nbbb\nccc\nddd\nEEE\n", res.Merged)
}

func TestMergeBothInsertDisjoint(t *testing.T) {
	base := "one\ntwo\nthree\nfour\nfive\n"
	ours := "zero\none\ntwo\nthree\nfour\nfive\n"
	theirs := "one\ntwo\nthree\nfour\nfive\nsix\n"

	res := ThreeWayMerge(base, ours, theirs)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, "zero\none\ntwo\nthree\nfour\nfive\nsix\n", res.Merged)
}

func TestMergeConflictingChanges(t *testing.T) {
	base := "line1\noriginal\nline3\n"
	ours := "line1\nours_version\nline3\n"
	theirs := "line1\ntheirs_version\nline3\n"

	res := ThreeWayMerge(base, ours, theirs)
	assert.True(t, res.HasConflicts)
	assert.Equal(t, 1, res.ConflictRegions)
	assert.Contains(t, res.Merged, "<<<<<<< ours (SVN)")
	assert.Contains(t, res.Merged, "ours_version")
	assert.Contains(t, res.Merged, "=======")
	assert.Contains(t, res.Merged, "theirs_version")
	assert.Contains(t, res.Merged, ">>>>>>> theirs (Git)")
	// Unchanged context survives outside the markers.
	assert.True(t, strings.HasPrefix(res.Merged, "line1\n"))
	assert.True(t, strings.HasSuffix(res.Merged, "line3\n"))
}

func TestMergeSameChangeBothSides(t *testing.T) {
	res := ThreeWayMerge("old\n", "new\n", "new\n")
	assert.False(t, res.HasConflicts)
	assert.Equal(t, "new\n", res.Merged)
}

func TestMergeSameReplacementInOverlap(t *testing.T) {
	base := "a\nmid\nz\n"
	ours := "a\nchanged\nz\nextra-ours\n"
	theirs := "a\nchanged\nz\n"

	res := ThreeWayMerge(base, ours, theirs)
	assert.False(t, res.HasConflicts)
	assert.Contains(t, res.Merged, "changed\n")
}

func TestCanAutoMerge(t *testing.T) {
	base := "line1\nline2\nline3\nline4\nline5\nline6\nline7\nline8\n"
	ours := "LINE1\nline2\nline3\nline4\nline5\nline6\nline7\nline8\n"
	theirs := "line1\nline2\nline3\nline4\nline5\nline6\nline7\nLINE8\n"

	assert.True(t, CanAutoMerge(base, base, base))
	assert.True(t, CanAutoMerge(base, ours, base))
	assert.True(t, CanAutoMerge(base, base, theirs))
	assert.True(t, CanAutoMerge(base, ours, theirs))
	assert.False(t, CanAutoMerge("x\n", "y\n", "z\n"))
}

func TestNormalizeLineEndings(t *testing.T) {
	assert.Equal(t, "a\nb\n", NormalizeLineEndings("a\r\nb\r\n"))
	assert.Equal(t, "a\nb\n", NormalizeLineEndings("a\nb\n"))
}

func TestCRLFDifferencesMergeCleanAfterNormalization(t *testing.T) {
	base := "one\ntwo\n"
	theirs := NormalizeLineEndings("one\r\ntwo\r\n")
	res := ThreeWayMerge(base, "one\ntwo!\n", theirs)
	assert.False(t, res.HasConflicts)
	assert.Equal(t, "one\ntwo!\n", res.Merged)
}
