package ext4

// Merging a new extent into its leaf neighbors. Two extents merge only when
// they are contiguous in both the file and on disk, agree on the unwritten
// state, and the combined length stays within the per-state cap. Anything
// else is a clean insert; a missed merge costs an entry, never correctness.

type mergeOutcome int

const (
	// mergeNone the new extent did not combine with either neighbor
	mergeNone mergeOutcome = iota
	// mergePrepend the new extent extended its predecessor
	mergePrepend
	// mergeAppend the new extent extended its successor downward
	mergeAppend
	// mergeBoth the new extent bridged both neighbors into one
	mergeBoth
)

// mergeable whether b can be appended to a as one extent
func mergeable(a, b *extent) bool {
	if a.unwritten != b.unwritten {
		return false
	}
	if a.fileBlock+a.count != b.fileBlock {
		return false
	}
	if a.startingBlock+uint64(a.count) != b.startingBlock {
		return false
	}
	return a.count+b.count <= a.maxLength()
}

// tryMerge attempt to absorb e into the leaf's existing extents. pos is the
// slot of the last extent at or before e's file block, -1 if e precedes them
// all. On any outcome other than mergeNone the leaf has been updated in
// memory; the caller writes it back.
func tryMerge(leaf *extentNode, pos int, e extent) mergeOutcome {
	var pred, succ *extent
	if pos >= 0 {
		pred = &leaf.extents[pos]
	}
	if pos+1 < len(leaf.extents) {
		succ = &leaf.extents[pos+1]
	}

	canPrepend := pred != nil && mergeable(pred, &e)
	canAppend := succ != nil && mergeable(&e, succ)

	if canPrepend && canAppend && pred.count+e.count+succ.count <= pred.maxLength() {
		pred.count += e.count + succ.count
		leaf.removeExtentAt(pos + 1)
		return mergeBoth
	}
	if canPrepend {
		pred.count += e.count
		return mergePrepend
	}
	if canAppend {
		succ.fileBlock = e.fileBlock
		succ.startingBlock = e.startingBlock
		succ.count += e.count
		return mergeAppend
	}
	return mergeNone
}
