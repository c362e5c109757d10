package conflict

import (
	"strings"

	"github.com/ianbruene/go-difflib/difflib"
)

// MergeResult is the outcome of a three-way merge attempt.
type MergeResult struct {
	// Merged holds the combined content. When HasConflicts is true it
	// contains standard conflict markers.
	Merged string
	// HasConflicts is true when at least one region could not be combined.
	HasConflicts bool
	// ConflictRegions counts the marker blocks in Merged.
	ConflictRegions int
}

// markers used in conflicted output. Ours is the SVN side, theirs the Git
// side, matching the direction labels used everywhere else.
const (
	markerOurs   = "<<<<<<< ours (SVN)"
	markerSep    = "======="
	markerTheirs = ">>>>>>> theirs (Git)"
)

// ThreeWayMerge combines base, ours (SVN) and theirs (Git) line by line.
//
// Non-overlapping edits from both sides are both applied. Overlapping edits
// produce a conflicted region with markers. Binary content must never reach
// this function; callers check IsBinary first.
func ThreeWayMerge(base, ours, theirs string) MergeResult {
	// Fast paths: one side unchanged, or both sides made the same change.
	if ours == base {
		return MergeResult{Merged: theirs}
	}
	if theirs == base || ours == theirs {
		return MergeResult{Merged: ours}
	}

	baseLines := splitLines(base)
	oursEdits := editsAgainstBase(baseLines, splitLines(ours))
	theirsEdits := editsAgainstBase(baseLines, splitLines(theirs))

	var out []string
	var conflicts int
	pos := 0
	i, j := 0, 0

	for i < len(oursEdits) || j < len(theirsEdits) {
		switch {
		case i >= len(oursEdits):
			pos = applyEdit(&out, baseLines, pos, theirsEdits[j])
			j++
		case j >= len(theirsEdits):
			pos = applyEdit(&out, baseLines, pos, oursEdits[i])
			i++
		case !overlaps(oursEdits[i], theirsEdits[j]):
			if oursEdits[i].baseStart <= theirsEdits[j].baseStart {
				pos = applyEdit(&out, baseLines, pos, oursEdits[i])
				i++
			} else {
				pos = applyEdit(&out, baseLines, pos, theirsEdits[j])
				j++
			}
		default:
			// Overlapping region: widen to cover every edit on either side
			// that touches it, then compare the two replacements.
			start := min(oursEdits[i].baseStart, theirsEdits[j].baseStart)
			end := max(oursEdits[i].baseEnd, theirsEdits[j].baseEnd)
			var oursRegion, theirsRegion []edit
			for {
				grew := false
				for i < len(oursEdits) && oursEdits[i].baseStart <= end {
					oursRegion = append(oursRegion, oursEdits[i])
					if oursEdits[i].baseEnd > end {
						end = oursEdits[i].baseEnd
						grew = true
					}
					i++
				}
				for j < len(theirsEdits) && theirsEdits[j].baseStart <= end {
					theirsRegion = append(theirsRegion, theirsEdits[j])
					if theirsEdits[j].baseEnd > end {
						end = theirsEdits[j].baseEnd
						grew = true
					}
					j++
				}
				if !grew {
					break
				}
			}

			out = append(out, baseLines[pos:start]...)
			oursText := replaceRegion(baseLines, oursRegion, start, end)
			theirsText := replaceRegion(baseLines, theirsRegion, start, end)

			if equalLines(oursText, theirsText) {
				out = append(out, oursText...)
			} else {
				conflicts++
				out = append(out, markerOurs+"\n")
				out = append(out, oursText...)
				out = append(out, markerSep+"\n")
				out = append(out, theirsText...)
				out = append(out, markerTheirs+"\n")
			}
			pos = end
		}
	}
	out = append(out, baseLines[pos:]...)

	return MergeResult{
		Merged:          strings.Join(out, ""),
		HasConflicts:    conflicts > 0,
		ConflictRegions: conflicts,
	}
}

// CanAutoMerge reports whether the three versions combine without conflicts.
func CanAutoMerge(base, ours, theirs string) bool {
	return !ThreeWayMerge(base, ours, theirs).HasConflicts
}

// edit is one side's replacement of base[baseStart:baseEnd] with lines.
type edit struct {
	baseStart, baseEnd int
	lines              []string
}

func editsAgainstBase(base, side []string) []edit {
	m := difflib.NewMatcher(base, side)
	var edits []edit
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		edits = append(edits, edit{
			baseStart: op.I1,
			baseEnd:   op.I2,
			lines:     side[op.J1:op.J2],
		})
	}
	return edits
}

// overlaps reports whether two edits touch the same base region. Pure
// insertions at the same point also count, since their relative order is
// ambiguous.
func overlaps(a, b edit) bool {
	if a.baseStart == b.baseStart && (a.baseEnd == a.baseStart || b.baseEnd == b.baseStart) {
		return true
	}
	return max(a.baseStart, b.baseStart) < min(a.baseEnd, b.baseEnd)
}

// applyEdit emits unchanged base lines up to the edit, then the edit's
// replacement lines, and returns the new base position.
func applyEdit(out *[]string, base []string, pos int, e edit) int {
	*out = append(*out, base[pos:e.baseStart]...)
	*out = append(*out, e.lines...)
	return e.baseEnd
}

// replaceRegion renders base[start:end] with the side's edits applied.
func replaceRegion(base []string, edits []edit, start, end int) []string {
	var out []string
	pos := start
	for _, e := range edits {
		out = append(out, base[pos:e.baseStart]...)
		out = append(out, e.lines...)
		pos = e.baseEnd
	}
	out = append(out, base[pos:end]...)
	return out
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// splitLines splits content into lines that keep their trailing newline, so
// joins reproduce the input byte-for-byte.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// NormalizeLineEndings converts CRLF to LF so line-ending differences do not
// surface as false conflicts when normalization is enabled.
func NormalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
