package btree

import (
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"rdb/page"
	"rdb/pager"
)

// smallPageSize yields LeafMaxCells == 2 and InternalMaxCells == 76,
// so splits are reachable with a handful of keys instead of thousands.
const smallPageSize = 624

func newTree(t *testing.T, pageSize uint32) (*BTree, *pager.Pager) {
	t.Helper()
	p, err := pager.Open(filepath.Join(t.TempDir(), "test.db"), pageSize, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return New(p, logr.Discard()), p
}

func TestSearchOnEmptyTree(t *testing.T) {
	tree, _ := newTree(t, smallPageSize)
	ci, err := tree.Search(42)
	require.NoError(t, err)
	require.Equal(t, CellIndex{}, ci)
}

func TestInsertThenSearchFindsKey(t *testing.T) {
	tree, _ := newTree(t, smallPageSize)
	ci, err := tree.Insert(10)
	require.NoError(t, err)
	require.Equal(t, uint32(RootPageIndex), ci.PageIndex)

	found, err := tree.Search(10)
	require.NoError(t, err)
	require.Equal(t, ci, found)
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	tree, _ := newTree(t, smallPageSize)
	_, err := tree.Insert(5)
	require.NoError(t, err)

	_, err = tree.Insert(5)
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestInsertKeepsKeysOrderedAfterLeafSplit(t *testing.T) {
	tree, p := newTree(t, smallPageSize)
	maxCells := page.LeafMaxCells(smallPageSize)
	require.Equal(t, uint32(2), maxCells)

	// Inserting one more than a leaf holds forces a split.
	keys := []uint32{1, 2, 3}
	for _, k := range keys {
		_, err := tree.Insert(k)
		require.NoError(t, err)
	}
	require.Greater(t, p.NumPages(), uint32(1))

	for _, k := range keys {
		ci, err := tree.Search(k)
		require.NoError(t, err)
		rh, err := p.PageForRead(ci.PageIndex)
		require.NoError(t, err)
		require.Equal(t, k, page.LeafKey(rh.Bytes(), ci.CellIndex))
		rh.Release()
	}
}

func TestInsertOutOfOrderTriggersMidLeafSplit(t *testing.T) {
	tree, _ := newTree(t, smallPageSize)
	order := []uint32{30, 10, 20}
	for _, k := range order {
		_, err := tree.Insert(k)
		require.NoError(t, err)
	}

	leaf, err := tree.LeftmostLeaf()
	require.NoError(t, err)
	var got []uint32
	pageIdx := leaf
	for {
		rh, err := tree.pager.PageForRead(pageIdx)
		require.NoError(t, err)
		n := page.NumCells(rh.Bytes())
		for i := uint32(0); i < n; i++ {
			got = append(got, page.LeafKey(rh.Bytes(), i))
		}
		next := page.NextLeaf(rh.Bytes())
		rh.Release()
		if next == 0 {
			break
		}
		pageIdx = next
	}
	require.Equal(t, []uint32{10, 20, 30}, got)
}

func TestRootPageIndexNeverMoves(t *testing.T) {
	tree, _ := newTree(t, smallPageSize)
	for k := uint32(0); k < 40; k++ {
		_, err := tree.Insert(k)
		require.NoError(t, err)
	}
	// Root promotion must have happened (root is internal now), but it
	// must still live at RootPageIndex.
	rh, err := tree.pager.PageForRead(RootPageIndex)
	require.NoError(t, err)
	defer rh.Release()
	require.True(t, page.IsRoot(rh.Bytes()))
}

func TestManyKeysTriggerInternalSplitAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "many.db")
	p, err := pager.Open(path, smallPageSize, logr.Discard())
	require.NoError(t, err)
	tree := New(p, logr.Discard())

	const n = 400 // overflows InternalMaxCells (76) worth of leaves
	for k := uint32(0); k < n; k++ {
		_, err := tree.Insert(k)
		require.NoError(t, err)
	}
	require.NoError(t, p.Close())

	p2, err := pager.Open(path, 0, logr.Discard())
	require.NoError(t, err)
	defer p2.Close()
	tree2 := New(p2, logr.Discard())

	for k := uint32(0); k < n; k++ {
		ci, err := tree2.Search(k)
		require.NoError(t, err)
		rh, err := p2.PageForRead(ci.PageIndex)
		require.NoError(t, err)
		require.Equal(t, k, page.LeafKey(rh.Bytes(), ci.CellIndex))
		rh.Release()
	}
}

func TestLeftmostLeafOnEmptyTree(t *testing.T) {
	tree, _ := newTree(t, smallPageSize)
	idx, err := tree.LeftmostLeaf()
	require.NoError(t, err)
	require.Equal(t, uint32(0), idx)
}

func TestCorruptPageTypeIsSurfacedAsFatalError(t *testing.T) {
	tree, p := newTree(t, smallPageSize)
	_, err := tree.Insert(1)
	require.NoError(t, err)

	wh, err := p.PageForWrite(RootPageIndex)
	require.NoError(t, err)
	wh.Bytes()[page.TypeOffset] = 0x7f
	wh.Release()

	_, err = tree.Search(1)
	require.ErrorIs(t, err, page.ErrUnknownPageType)

	_, err = tree.LeftmostLeaf()
	require.ErrorIs(t, err, page.ErrUnknownPageType)

	_, err = tree.DebugTree(false)
	require.ErrorIs(t, err, page.ErrUnknownPageType)
}

func TestDebugTreeReportsLeafAndInternalPages(t *testing.T) {
	tree, _ := newTree(t, smallPageSize)
	for k := uint32(0); k < 10; k++ {
		_, err := tree.Insert(k)
		require.NoError(t, err)
	}

	lines, err := tree.DebugTree(false)
	require.NoError(t, err)
	require.NotEmpty(t, lines)

	internalOnly, err := tree.DebugTree(true)
	require.NoError(t, err)
	for _, l := range internalOnly {
		require.Contains(t, l, "internal")
	}
}
