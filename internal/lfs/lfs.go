// Package lfs handles Git LFS pointer files during sync.
//
// On SVN->Git, files routed to large-file tracking get their pattern recorded
// in .gitattributes so the forge stores them as LFS blobs. On Git->SVN,
// pointer files are resolved back to real content before committing, since
// SVN has no notion of LFS pointers. Neither side ever records the pointer as
// the canonical content.
package lfs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// pointerPrefix is the magic first line of every Git LFS pointer file.
const pointerPrefix = "version https://git-lfs.github.com/spec/v1\n"

// maxPointerSize bounds how large a file can be and still be a pointer.
const maxPointerSize = 512

// Pointer is a parsed Git LFS pointer.
type Pointer struct {
	// OID is the SHA-256 of the blob in LFS storage.
	OID string
	// Size is the byte length of the actual content.
	Size int64
}

// IsPointer reports whether content looks like an LFS pointer file.
func IsPointer(content []byte) bool {
	if len(content) > maxPointerSize {
		return false
	}
	return bytes.HasPrefix(content, []byte(pointerPrefix))
}

// ParsePointer parses an LFS pointer. Returns false when content is not a
// well-formed pointer.
func ParsePointer(content []byte) (Pointer, bool) {
	if !IsPointer(content) {
		return Pointer{}, false
	}
	var p Pointer
	var haveSize bool
	for _, line := range strings.Split(string(content), "\n") {
		if rest, ok := strings.CutPrefix(line, "oid sha256:"); ok {
			p.OID = strings.TrimSpace(rest)
		} else if rest, ok := strings.CutPrefix(line, "size "); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
			if err == nil {
				p.Size = n
				haveSize = true
			}
		}
	}
	if p.OID == "" || !haveSize {
		return Pointer{}, false
	}
	return p, true
}

// CreatePointer renders a pointer file for the given content. The OID is the
// SHA-256 of the content.
func CreatePointer(content []byte) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("version https://git-lfs.github.com/spec/v1\noid sha256:%s\nsize %d\n",
		hex.EncodeToString(sum[:]), len(content))
}

// PatternForPath returns the .gitattributes pattern covering a file:
// "*.ext" when the path has an extension, otherwise the literal path.
func PatternForPath(relPath string) string {
	ext := filepath.Ext(relPath)
	if ext == "" {
		return filepath.ToSlash(relPath)
	}
	return "*" + ext
}

// EnsureTracked appends an LFS tracking line for pattern to the repo's
// .gitattributes unless one is already present. Returns true when the file
// was modified.
func EnsureTracked(repoRoot, pattern string) (bool, error) {
	attrPath := filepath.Join(repoRoot, ".gitattributes")
	line := fmt.Sprintf("%s filter=lfs diff=lfs merge=lfs -text", pattern)

	existing, err := os.ReadFile(attrPath)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read .gitattributes: %w", err)
	}
	for _, l := range strings.Split(string(existing), "\n") {
		fields := strings.Fields(l)
		if len(fields) > 0 && fields[0] == pattern {
			return false, nil
		}
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(line)
	buf.WriteByte('\n')

	if err := os.WriteFile(attrPath, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("failed to write .gitattributes: %w", err)
	}
	return true, nil
}

// StoreObject writes content into the repo's local LFS object store
// (.git/lfs/objects/aa/bb/<oid>) and returns the rendered pointer bytes.
func StoreObject(repoRoot string, content []byte) ([]byte, error) {
	sum := sha256.Sum256(content)
	oid := hex.EncodeToString(sum[:])

	dir := filepath.Join(repoRoot, ".git", "lfs", "objects", oid[:2], oid[2:4])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lfs object directory: %w", err)
	}
	objPath := filepath.Join(dir, oid)
	if _, err := os.Stat(objPath); os.IsNotExist(err) {
		if err := os.WriteFile(objPath, content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write lfs object: %w", err)
		}
	}
	return []byte(CreatePointer(content)), nil
}

// ResolvePointer resolves a pointer file to its actual content.
//
// It first looks in the local object store, then falls back to
// `git lfs smudge` which can fetch the blob from the remote.
func ResolvePointer(repoRoot string, pointerContent []byte) ([]byte, error) {
	ptr, ok := ParsePointer(pointerContent)
	if !ok {
		return nil, fmt.Errorf("content is not a valid LFS pointer")
	}

	objPath := filepath.Join(repoRoot, ".git", "lfs", "objects", ptr.OID[:2], ptr.OID[2:4], ptr.OID)
	if data, err := os.ReadFile(objPath); err == nil {
		if int64(len(data)) != ptr.Size {
			return nil, fmt.Errorf("lfs object %s has size %d, pointer says %d", ptr.OID, len(data), ptr.Size)
		}
		return data, nil
	}

	cmd := exec.Command("git", "lfs", "smudge")
	cmd.Dir = repoRoot
	cmd.Stdin = bytes.NewReader(pointerContent)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git lfs smudge failed for oid %s: %w: %s",
			ptr.OID, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// PreflightCheck verifies the git-lfs CLI is installed. Returns the version
// string on success.
func PreflightCheck() (string, error) {
	out, err := exec.Command("git", "lfs", "version").Output()
	if err != nil {
		return "", fmt.Errorf("git lfs not available: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
