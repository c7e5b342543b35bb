// Package btree implements the ordered B+Tree keyed by a uint32:
// point search, insert with duplicate rejection, leaf/internal split,
// root promotion, and the left-most-leaf lookup that a forward cursor
// over the leaf chain starts from.
//
// The root always lives at page index 0: a split never relocates it,
// even when its kind changes from leaf to internal. A root split
// instead allocates fresh pages for both halves and reinitializes
// page 0 in place as the new root.
package btree

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"rdb/page"
	"rdb/pager"
)

// RootPageIndex is the fixed page index of the tree root: it never
// changes across splits, even when the root's kind changes from leaf
// to internal.
const RootPageIndex = 0

// ErrDuplicateKey is returned by Insert when the key already exists.
// The tree is left unchanged.
var ErrDuplicateKey = errors.New("btree: duplicate key")

// CellIndex identifies a cell within a specific page: the result of a
// search, or the destination of a completed insert.
type CellIndex struct {
	PageIndex uint32
	CellIndex uint32
}

// BTree is stateless aside from the pager it descends through; the
// root's page index is fixed at RootPageIndex.
type BTree struct {
	pager *pager.Pager
	log   logr.Logger
}

func New(p *pager.Pager, log logr.Logger) *BTree {
	return &BTree{pager: p, log: log}
}

// Search descends from the root and returns the leaf cell that holds
// key if present, or the insertion point otherwise. On an empty tree
// it returns (0, 0) without touching the pager.
func (t *BTree) Search(key uint32) (CellIndex, error) {
	if t.pager.NumPages() == 0 {
		return CellIndex{}, nil
	}
	return t.searchFrom(RootPageIndex, key)
}

func (t *BTree) searchFrom(pageIndex, key uint32) (CellIndex, error) {
	rh, err := t.pager.PageForRead(pageIndex)
	if err != nil {
		return CellIndex{}, err
	}
	buf := rh.Bytes()

	typ, err := page.CheckPageType(buf)
	if err != nil {
		rh.Release()
		t.log.Error(err, "btree: corrupt page", "page", pageIndex)
		return CellIndex{}, err
	}

	if typ == page.Leaf {
		numCells := page.NumCells(buf)
		idx := page.FindCellLeaf(buf, numCells, key)
		rh.Release()
		return CellIndex{PageIndex: pageIndex, CellIndex: idx}, nil
	}

	numKeys := page.NumKeys(buf)
	slot := page.FindCellInternal(buf, numKeys, key)
	child := page.InternalChild(buf, numKeys, slot)
	rh.Release()
	return t.searchFrom(child, key)
}

// Insert adds key to the tree, splitting leaves and internal pages
// upward as needed, and returns the cell the caller should write the
// row payload into. Returns ErrDuplicateKey, leaving the tree
// unchanged, if key is already present.
func (t *BTree) Insert(key uint32) (CellIndex, error) {
	if t.pager.NumPages() == 0 {
		wh, err := t.pager.PageForWrite(RootPageIndex)
		if err != nil {
			return CellIndex{}, err
		}
		page.InitLeaf(wh.Bytes(), true, 0)
		wh.Release()
	}

	for {
		ci, err := t.Search(key)
		if err != nil {
			return CellIndex{}, err
		}

		rh, err := t.pager.PageForRead(ci.PageIndex)
		if err != nil {
			return CellIndex{}, err
		}
		n := page.NumCells(rh.Bytes())
		exists := ci.CellIndex < n && page.LeafKey(rh.Bytes(), ci.CellIndex) == key
		rh.Release()
		if exists {
			return CellIndex{}, ErrDuplicateKey
		}

		maxCells := page.LeafMaxCells(t.pager.PageSize())
		if n < maxCells {
			wh, err := t.pager.PageForWrite(ci.PageIndex)
			if err != nil {
				return CellIndex{}, err
			}
			buf := wh.Bytes()
			if ci.CellIndex < n {
				src := page.LeafCellOffset(ci.CellIndex)
				dst := page.LeafCellOffset(ci.CellIndex + 1)
				length := (n - ci.CellIndex) * page.LeafCellSize
				page.MoveCellsInternally(buf, src, dst, length)
			}
			page.SetLeafKey(buf, ci.CellIndex, key)
			page.SetNumCells(buf, n+1)
			wh.Release()
			return ci, nil
		}

		if err := t.splitLeaf(ci.PageIndex); err != nil {
			return CellIndex{}, err
		}
		// retry: search again now that the tree structure has grown.
	}
}

// allocatePage reserves the pager's next page index with a
// zero-initialised buffer and returns that index.
func (t *BTree) allocatePage() (uint32, error) {
	idx := t.pager.NumPages()
	wh, err := t.pager.PageForWrite(idx)
	if err != nil {
		return 0, err
	}
	wh.Release()
	return idx, nil
}

// leafCell is an in-memory copy of one leaf cell, used while staging
// the two halves of a split.
type leafCell struct {
	key uint32
	row []byte
}

func readLeafCell(buf []byte, i uint32) leafCell {
	rowOff := page.LeafRowOffset(i)
	row := make([]byte, page.RowSize)
	copy(row, buf[rowOff:rowOff+page.RowSize])
	return leafCell{key: page.LeafKey(buf, i), row: row}
}

func writeLeafCell(buf []byte, i uint32, c leafCell) {
	page.SetLeafKey(buf, i, c.key)
	page.CopyIn(buf, page.LeafRowOffset(i), c.row)
}

// splitLeaf splits the full leaf at pageIndex into two leaves,
// promoting a separator key into the parent (or a new root).
func (t *BTree) splitLeaf(pageIndex uint32) error {
	rh, err := t.pager.PageForRead(pageIndex)
	if err != nil {
		return err
	}
	buf := rh.Bytes()
	isRootPage := page.IsRoot(buf)
	oldParent := page.Parent(buf)
	oldNextLeaf := page.NextLeaf(buf)

	maxCells := page.LeafMaxCells(t.pager.PageSize())
	cells := make([]leafCell, maxCells)
	for i := uint32(0); i < maxCells; i++ {
		cells[i] = readLeafCell(buf, i)
	}
	rh.Release()

	lHalf := (maxCells + 2) / 2 // ceil((maxCells+1)/2)
	if lHalf == maxCells && maxCells > 1 {
		// Two-cell leaves: keep one cell on the right so the left page
		// is not left full for the retried insert.
		lHalf = maxCells - 1
	}
	rHalf := maxCells - lHalf
	separator := cells[lHalf-1].key

	if isRootPage {
		leftIdx, err := t.allocatePage()
		if err != nil {
			return err
		}
		rightIdx, err := t.allocatePage()
		if err != nil {
			return err
		}

		lwh, err := t.pager.PageForWrite(leftIdx)
		if err != nil {
			return err
		}
		page.InitLeaf(lwh.Bytes(), false, lHalf)
		for i := uint32(0); i < lHalf; i++ {
			writeLeafCell(lwh.Bytes(), i, cells[i])
		}
		page.SetParent(lwh.Bytes(), pageIndex)
		page.SetNextLeaf(lwh.Bytes(), rightIdx)
		lwh.Release()

		rwh, err := t.pager.PageForWrite(rightIdx)
		if err != nil {
			return err
		}
		page.InitLeaf(rwh.Bytes(), false, rHalf)
		for i := uint32(0); i < rHalf; i++ {
			writeLeafCell(rwh.Bytes(), i, cells[lHalf+i])
		}
		page.SetParent(rwh.Bytes(), pageIndex)
		page.SetNextLeaf(rwh.Bytes(), oldNextLeaf)
		rwh.Release()

		rootWh, err := t.pager.PageForWrite(pageIndex)
		if err != nil {
			return err
		}
		page.InitInternal(rootWh.Bytes(), true, 1)
		page.SetInternalChildAt(rootWh.Bytes(), 0, leftIdx)
		page.SetInternalKey(rootWh.Bytes(), 0, separator)
		page.SetRightmostChild(rootWh.Bytes(), rightIdx)
		rootWh.Release()
		return nil
	}

	rightIdx, err := t.allocatePage()
	if err != nil {
		return err
	}
	rwh, err := t.pager.PageForWrite(rightIdx)
	if err != nil {
		return err
	}
	page.InitLeaf(rwh.Bytes(), false, rHalf)
	for i := uint32(0); i < rHalf; i++ {
		writeLeafCell(rwh.Bytes(), i, cells[lHalf+i])
	}
	page.SetParent(rwh.Bytes(), oldParent)
	page.SetNextLeaf(rwh.Bytes(), oldNextLeaf)
	rwh.Release()

	owh, err := t.pager.PageForWrite(pageIndex)
	if err != nil {
		return err
	}
	page.InitLeaf(owh.Bytes(), false, lHalf)
	for i := uint32(0); i < lHalf; i++ {
		writeLeafCell(owh.Bytes(), i, cells[i])
	}
	page.SetParent(owh.Bytes(), oldParent)
	page.SetNextLeaf(owh.Bytes(), rightIdx)
	owh.Release()

	return t.insertIntoInternal(oldParent, separator, pageIndex, rightIdx)
}

// insertIntoInternal splices a new separator key and its right child
// into page, where leftChild is the page already referenced at this
// slot (unchanged in place) and rightChild is its newly split sibling.
// Cascades into internalSplit when the page is already full.
func (t *BTree) insertIntoInternal(pageIndex, key, leftChild, rightChild uint32) error {
	wh, err := t.pager.PageForWrite(pageIndex)
	if err != nil {
		return err
	}
	buf := wh.Bytes()
	n := page.NumKeys(buf)
	maxCells := page.InternalMaxCells(t.pager.PageSize())

	if n >= maxCells {
		wh.Release()
		return t.internalSplit(pageIndex, key, leftChild, rightChild)
	}

	i := page.FindCellInternal(buf, n, key)
	if i == n {
		page.SetInternalChildAt(buf, n, leftChild)
		page.SetInternalKey(buf, n, key)
		page.SetRightmostChild(buf, rightChild)
	} else {
		src := page.InternalCellOffset(i)
		dst := page.InternalCellOffset(i + 1)
		length := (n - i) * page.InternalCellSize
		page.MoveCellsInternally(buf, src, dst, length)
		page.SetInternalChildAt(buf, i+1, rightChild)
		page.SetInternalChildAt(buf, i, leftChild)
		page.SetInternalKey(buf, i, key)
	}
	page.SetNumKeys(buf, n+1)
	wh.Release()
	return nil
}

// internalSplit splits the full internal page at pageIndex while
// absorbing the (key, leftChild, rightChild) insertion that overflowed
// it. Cells are partitioned via plain slices rather than an in-place
// shuffle, allocating a small working slice.
func (t *BTree) internalSplit(pageIndex, newKey, leftChild, rightChild uint32) error {
	wh, err := t.pager.PageForWrite(pageIndex)
	if err != nil {
		return err
	}
	buf := wh.Bytes()
	n := page.InternalMaxCells(t.pager.PageSize())
	isRootPage := page.IsRoot(buf)
	oldParent := page.Parent(buf)

	oldKeys := make([]uint32, n)
	oldChildren := make([]uint32, n+1)
	for j := uint32(0); j < n; j++ {
		oldKeys[j] = page.InternalKey(buf, j)
		oldChildren[j] = page.InternalChildAt(buf, j)
	}
	oldChildren[n] = page.RightmostChild(buf)
	i := page.FindCellInternal(buf, n, newKey)
	wh.Release()

	keys := make([]uint32, 0, n+1)
	keys = append(keys, oldKeys[:i]...)
	keys = append(keys, newKey)
	keys = append(keys, oldKeys[i:]...)

	children := make([]uint32, 0, n+2)
	children = append(children, oldChildren[:i]...)
	children = append(children, leftChild, rightChild)
	children = append(children, oldChildren[i+1:]...)

	lInt := (n + 2) / 2 // ceil((n+1)/2)
	medianKey := keys[lInt]
	leftKeys, leftChildren := keys[:lInt], children[:lInt+1]
	rightKeys, rightChildren := keys[lInt+1:], children[lInt+1:]

	writeInternalPage := func(pageIdx uint32, isRoot bool, parent uint32, keys, children []uint32) error {
		wh, err := t.pager.PageForWrite(pageIdx)
		if err != nil {
			return err
		}
		buf := wh.Bytes()
		page.InitInternal(buf, isRoot, uint32(len(keys)))
		for j, k := range keys {
			page.SetInternalKey(buf, uint32(j), k)
			page.SetInternalChildAt(buf, uint32(j), children[j])
		}
		page.SetRightmostChild(buf, children[len(children)-1])
		if !isRoot {
			page.SetParent(buf, parent)
		}
		wh.Release()
		return nil
	}

	reparent := func(childIdx, newParent uint32) error {
		wh, err := t.pager.PageForWrite(childIdx)
		if err != nil {
			return err
		}
		page.SetParent(wh.Bytes(), newParent)
		wh.Release()
		return nil
	}

	if isRootPage {
		leftIdx, err := t.allocatePage()
		if err != nil {
			return err
		}
		rightIdx, err := t.allocatePage()
		if err != nil {
			return err
		}
		if err := writeInternalPage(leftIdx, false, pageIndex, leftKeys, leftChildren); err != nil {
			return err
		}
		if err := writeInternalPage(rightIdx, false, pageIndex, rightKeys, rightChildren); err != nil {
			return err
		}
		for _, c := range leftChildren {
			if err := reparent(c, leftIdx); err != nil {
				return err
			}
		}
		for _, c := range rightChildren {
			if err := reparent(c, rightIdx); err != nil {
				return err
			}
		}

		rootWh, err := t.pager.PageForWrite(pageIndex)
		if err != nil {
			return err
		}
		rootBuf := rootWh.Bytes()
		page.InitInternal(rootBuf, true, 1)
		page.SetInternalChildAt(rootBuf, 0, leftIdx)
		page.SetInternalKey(rootBuf, 0, medianKey)
		page.SetRightmostChild(rootBuf, rightIdx)
		rootWh.Release()
		return nil
	}

	rightIdx, err := t.allocatePage()
	if err != nil {
		return err
	}
	if err := writeInternalPage(rightIdx, false, oldParent, rightKeys, rightChildren); err != nil {
		return err
	}
	if err := writeInternalPage(pageIndex, false, oldParent, leftKeys, leftChildren); err != nil {
		return err
	}
	for _, c := range rightChildren {
		if err := reparent(c, rightIdx); err != nil {
			return err
		}
	}

	return t.insertIntoInternal(oldParent, medianKey, pageIndex, rightIdx)
}

// LeftmostLeaf descends from the root to the left-most leaf page. On
// an empty tree it returns (0, nil); callers must check NumPages()
// before treating that as a real page.
func (t *BTree) LeftmostLeaf() (uint32, error) {
	if t.pager.NumPages() == 0 {
		return 0, nil
	}
	idx := uint32(RootPageIndex)
	for {
		rh, err := t.pager.PageForRead(idx)
		if err != nil {
			return 0, err
		}
		buf := rh.Bytes()
		typ, err := page.CheckPageType(buf)
		if err != nil {
			rh.Release()
			t.log.Error(err, "btree: corrupt page", "page", idx)
			return 0, err
		}
		if typ == page.Leaf {
			rh.Release()
			return idx, nil
		}
		numKeys := page.NumKeys(buf)
		next := page.InternalChild(buf, numKeys, 0)
		rh.Release()
		idx = next
	}
}

// DebugTree renders the tree depth-first from the root, one indented
// line per page, for the `.btree` meta command; with internalOnly it
// renders only the routing (internal) pages, for `.btree_internal`.
func (t *BTree) DebugTree(internalOnly bool) ([]string, error) {
	if t.pager.NumPages() == 0 {
		return nil, nil
	}
	var lines []string
	var walk func(pageIndex, depth uint32) error
	walk = func(pageIndex, depth uint32) error {
		rh, err := t.pager.PageForRead(pageIndex)
		if err != nil {
			return err
		}
		buf := rh.Bytes()
		typ, err := page.CheckPageType(buf)
		if err != nil {
			rh.Release()
			t.log.Error(err, "btree: corrupt page", "page", pageIndex)
			return err
		}
		indent := ""
		for i := uint32(0); i < depth; i++ {
			indent += "  "
		}
		if typ == page.Leaf {
			if !internalOnly {
				lines = append(lines, fmt.Sprintf("%sleaf (page %d, %d cells)", indent, pageIndex, page.NumCells(buf)))
			}
			rh.Release()
			return nil
		}
		numKeys := page.NumKeys(buf)
		lines = append(lines, fmt.Sprintf("%sinternal (page %d, %d keys)", indent, pageIndex, numKeys))
		children := make([]uint32, numKeys+1)
		for i := uint32(0); i <= numKeys; i++ {
			children[i] = page.InternalChild(buf, numKeys, i)
		}
		rh.Release()
		for _, c := range children {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(RootPageIndex, 0); err != nil {
		return nil, err
	}
	return lines, nil
}
