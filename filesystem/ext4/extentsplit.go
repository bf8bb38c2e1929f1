package ext4

import (
	"fmt"
)

// Tree reshaping: growing the depth when the root is full and splitting full
// interior and leaf nodes. Both run under makeRoom's restart loop, so each
// individual step only has to make progress, not finish the job.

// blockMax entry capacity of one dedicated tree block
func (t *extentTree) blockMax() uint16 {
	return maxEntriesPerBlock(t.fs.superblock.blockSize, t.fs.superblock.metadataChecksums)
}

// sectorsPerBlock 512-byte sectors per filesystem block, for the inode's
// block accounting
func (t *extentTree) sectorsPerBlock() uint64 {
	return uint64(t.fs.superblock.blockSize) / uint64(SectorSize512)
}

// makeRoom reshape the tree until the leaf covering the target file block has
// a free entry slot. Each pass re-descends from the root, so a reshape that
// moves the target's leaf is handled by simply going around again.
func (t *extentTree) makeRoom(target uint32) error {
	for {
		path, err := t.findPath(target)
		if err != nil {
			return err
		}
		leaf := path[len(path)-1]
		if !leaf.node.full() {
			return nil
		}

		// find the top of the run of full nodes ending at the leaf. Splitting
		// the topmost one is enough to make progress; the next pass deals
		// with the levels below it.
		top := len(path) - 1
		for top > 0 && path[top-1].node.full() {
			top--
		}
		if top == 0 {
			// every level is full, the tree needs another one
			if err = t.growDepth(path[0].node); err != nil {
				return err
			}
			continue
		}
		if err = t.splitNode(path, top); err != nil {
			return err
		}
	}
}

// growDepth push the root's payload down into a freshly allocated block and
// leave the root as a single index pointing at it. The tree gets one level
// deeper; every existing entry keeps its node, just one step further down.
func (t *extentTree) growDepth(root *extentNode) error {
	if root.depth >= extentTreeMaxDepth {
		return fmt.Errorf("%w: extent tree already at maximum depth %d", ErrNoSpace, extentTreeMaxDepth)
	}
	newBlock, err := t.fs.allocBlock(0)
	if err != nil {
		return fmt.Errorf("could not allocate a block to deepen the extent tree: %w", err)
	}

	child := extentNode{
		extentNodeHeader: extentNodeHeader{
			entries: root.entries,
			max:     t.blockMax(),
			depth:   root.depth,
		},
		extents: root.extents,
		indexes: root.indexes,
	}
	if err = t.writeNode(nodeLoc{block: newBlock}, &child); err != nil {
		return err
	}

	newRoot := extentNode{
		extentNodeHeader: extentNodeHeader{
			entries: 1,
			max:     rootMaxEntries,
			depth:   root.depth + 1,
		},
		indexes: []extentIndex{{fileBlock: child.firstFileBlock(), diskBlock: newBlock}},
	}
	if err = t.writeNode(rootLoc(), &newRoot); err != nil {
		return err
	}
	t.inode.blocks += t.sectorsPerBlock()
	return nil
}

// splitNode split the full node at path[level] into itself and a new right
// sibling, moving the upper half of the entries. The parent at path[level-1]
// must have room for the sibling's index; makeRoom guarantees that. The new
// node is fully written before the old node shrinks and before the parent
// points at it, so a failure partway leaves the tree consistent, at worst
// leaking the new block.
func (t *extentTree) splitNode(path []treePathElem, level int) error {
	elem := path[level]
	parent := path[level-1]
	if parent.node.full() {
		return fmt.Errorf("%w: cannot split into a full parent node", ErrInvalidInput)
	}
	if elem.loc.inRoot {
		return fmt.Errorf("%w: the root node deepens, it does not split", ErrInvalidInput)
	}

	newBlock, err := t.fs.allocBlock(elem.loc.block)
	if err != nil {
		return fmt.Errorf("could not allocate a block to split an extent tree node: %w", err)
	}

	node := elem.node
	mid := int(node.entries) / 2
	sibling := extentNode{
		extentNodeHeader: extentNodeHeader{
			max:   t.blockMax(),
			depth: node.depth,
		},
	}
	var siblingKey uint32
	if node.leaf() {
		sibling.extents = append(sibling.extents, node.extents[mid:]...)
		sibling.entries = uint16(len(sibling.extents))
		siblingKey = sibling.extents[0].fileBlock
	} else {
		sibling.indexes = append(sibling.indexes, node.indexes[mid:]...)
		sibling.entries = uint16(len(sibling.indexes))
		siblingKey = sibling.indexes[0].fileBlock
	}
	if err = t.writeNode(nodeLoc{block: newBlock}, &sibling); err != nil {
		return err
	}

	if node.leaf() {
		node.extents = node.extents[:mid]
		node.entries = uint16(len(node.extents))
	} else {
		node.indexes = node.indexes[:mid]
		node.entries = uint16(len(node.indexes))
	}
	if err = t.writeNode(elem.loc, node); err != nil {
		return err
	}

	parent.node.insertIndexAt(parent.pos+1, extentIndex{fileBlock: siblingKey, diskBlock: newBlock})
	if err = t.writeNode(parent.loc, parent.node); err != nil {
		return err
	}
	t.inode.blocks += t.sectorsPerBlock()
	return nil
}
