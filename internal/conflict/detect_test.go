package conflict

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func change(path string, op ChangeOp) FileChange {
	return FileChange{Path: path, Op: op}
}

func TestDetectDisjointPathsNoConflict(t *testing.T) {
	svn := []FileChange{change("a.go", OpModified)}
	git := []FileChange{change("b.go", OpModified)}
	assert.Empty(t, Detect(svn, git))
}

func TestDetectContentConflict(t *testing.T) {
	svn := []FileChange{{Path: "main.go", Op: OpModified, Content: []byte("svn-version")}}
	git := []FileChange{{Path: "main.go", Op: OpModified, Content: []byte("git-version")}}

	got := Detect(svn, git)
	assert.Len(t, got, 1)
	assert.Equal(t, KindContent, got[0].Kind)
	assert.Equal(t, "main.go", got[0].FilePath)
	assert.Equal(t, []byte("svn-version"), got[0].SvnContent)
	assert.Equal(t, []byte("git-version"), got[0].GitContent)
	assert.Equal(t, StatusDetected, got[0].Status)
	assert.NotEmpty(t, got[0].ID)
}

func TestDetectEditDelete(t *testing.T) {
	svn := []FileChange{{Path: "file.go", Op: OpModified, Content: []byte("x")}}
	git := []FileChange{change("file.go", OpDeleted)}

	got := Detect(svn, git)
	assert.Len(t, got, 1)
	assert.Equal(t, KindEditDelete, got[0].Kind)
}

func TestDetectBothDeletedNoConflict(t *testing.T) {
	svn := []FileChange{change("file.go", OpDeleted)}
	git := []FileChange{change("file.go", OpDeleted)}
	assert.Empty(t, Detect(svn, git))
}

func TestDetectIdenticalChangeTieBreak(t *testing.T) {
	svn := []FileChange{{Path: "same.go", Op: OpModified, Content: []byte("identical")}}
	git := []FileChange{{Path: "same.go", Op: OpModified, Content: []byte("identical")}}
	assert.Empty(t, Detect(svn, git))
}

func TestDetectBinaryConflict(t *testing.T) {
	svn := []FileChange{{Path: "image.png", Op: OpModified, Binary: true}}
	git := []FileChange{{Path: "image.png", Op: OpModified, Content: []byte("other")}}

	got := Detect(svn, git)
	assert.Len(t, got, 1)
	assert.Equal(t, KindBinary, got[0].Kind)
}

func TestDetectRenameConflict(t *testing.T) {
	svn := []FileChange{{Path: "new_a.go", Op: OpRenamed, RenamedFrom: "old.go"}}
	git := []FileChange{{Path: "new_b.go", Op: OpRenamed, RenamedFrom: "old.go"}}

	got := Detect(svn, git)
	assert.Len(t, got, 1)
	assert.Equal(t, KindRename, got[0].Kind)
	assert.Equal(t, "old.go", got[0].FilePath)
}

func TestDetectSameRenameNoConflict(t *testing.T) {
	svn := []FileChange{{Path: "renamed.go", Op: OpRenamed, RenamedFrom: "old.go"}}
	git := []FileChange{{Path: "renamed.go", Op: OpRenamed, RenamedFrom: "old.go"}}
	assert.Empty(t, Detect(svn, git))
}

func TestDetectMultiple(t *testing.T) {
	svn := []FileChange{
		{Path: "a.go", Op: OpModified, Content: []byte("1")},
		{Path: "b.go", Op: OpDeleted},
		{Path: "c.go", Op: OpModified, Content: []byte("3")},
	}
	git := []FileChange{
		{Path: "a.go", Op: OpModified, Content: []byte("2")},
		{Path: "b.go", Op: OpModified, Content: []byte("4")},
		{Path: "d.go", Op: OpAdded, Content: []byte("5")},
	}

	got := Detect(svn, git)
	assert.Len(t, got, 2) // a.go content, b.go edit/delete
}

func TestIsBinary(t *testing.T) {
	assert.True(t, IsBinary([]byte{0x89, 'P', 'N', 'G', 0x00, 0x1a}))
	assert.False(t, IsBinary([]byte("plain text\nwith lines\n")))

	// NUL beyond the probe window is not scanned.
	big := append(bytes.Repeat([]byte{'a'}, 9000), 0x00)
	assert.False(t, IsBinary(big))
}
