package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newLeaf(numCells uint32) []byte {
	buf := make([]byte, 4096)
	InitLeaf(buf, false, numCells)
	return buf
}

func newInternal(numKeys uint32) []byte {
	buf := make([]byte, 4096)
	InitInternal(buf, false, numKeys)
	return buf
}

func TestLeafHeaderRoundTrip(t *testing.T) {
	buf := newLeaf(0)
	require.Equal(t, Leaf, PageType(buf))
	require.False(t, IsRoot(buf))

	SetIsRoot(buf, true)
	require.True(t, IsRoot(buf))

	SetParent(buf, 7)
	require.Equal(t, uint32(7), Parent(buf))

	SetNumCells(buf, 3)
	require.Equal(t, uint32(3), NumCells(buf))

	SetNextLeaf(buf, 42)
	require.Equal(t, uint32(42), NextLeaf(buf))
}

func TestInternalHeaderRoundTrip(t *testing.T) {
	buf := newInternal(0)
	require.Equal(t, Internal, PageType(buf))

	SetNumKeys(buf, 5)
	require.Equal(t, uint32(5), NumKeys(buf))
	// num_keys and num_cells alias the same offset.
	require.Equal(t, uint32(5), NumCells(buf))

	SetRightmostChild(buf, 99)
	require.Equal(t, uint32(99), RightmostChild(buf))
}

func TestLeafCellAccessors(t *testing.T) {
	buf := newLeaf(2)
	SetLeafKey(buf, 0, 10)
	SetLeafKey(buf, 1, 20)
	require.Equal(t, uint32(10), LeafKey(buf, 0))
	require.Equal(t, uint32(20), LeafKey(buf, 1))

	row := make([]byte, RowSize)
	for i := range row {
		row[i] = byte(i)
	}
	CopyIn(buf, LeafRowOffset(0), row)
	require.Equal(t, row, buf[LeafRowOffset(0):LeafRowOffset(0)+RowSize])
}

func TestInternalCellAccessors(t *testing.T) {
	buf := newInternal(2)
	SetInternalChildAt(buf, 0, 1)
	SetInternalKey(buf, 0, 100)
	SetInternalChildAt(buf, 1, 2)
	SetInternalKey(buf, 1, 200)
	SetRightmostChild(buf, 3)

	require.Equal(t, uint32(1), InternalChild(buf, 2, 0))
	require.Equal(t, uint32(2), InternalChild(buf, 2, 1))
	require.Equal(t, uint32(3), InternalChild(buf, 2, 2))
}

func TestFindCellLeaf(t *testing.T) {
	buf := newLeaf(5)
	keys := []uint32{10, 20, 30, 40, 50}
	for i, k := range keys {
		SetLeafKey(buf, uint32(i), k)
	}

	require.Equal(t, uint32(0), FindCellLeaf(buf, 5, 5))
	require.Equal(t, uint32(0), FindCellLeaf(buf, 5, 10))
	require.Equal(t, uint32(2), FindCellLeaf(buf, 5, 25))
	require.Equal(t, uint32(2), FindCellLeaf(buf, 5, 30))
	require.Equal(t, uint32(5), FindCellLeaf(buf, 5, 99))
}

func TestFindCellInternal(t *testing.T) {
	buf := newInternal(3)
	keys := []uint32{10, 20, 30}
	for i, k := range keys {
		SetInternalKey(buf, uint32(i), k)
	}

	require.Equal(t, uint32(0), FindCellInternal(buf, 3, 5))
	require.Equal(t, uint32(1), FindCellInternal(buf, 3, 15))
	require.Equal(t, uint32(3), FindCellInternal(buf, 3, 100))
}

func TestMoveCellsInternally(t *testing.T) {
	buf := newLeaf(3)
	SetLeafKey(buf, 0, 1)
	SetLeafKey(buf, 1, 2)
	SetLeafKey(buf, 2, 3)

	src := LeafCellOffset(0)
	dst := LeafCellOffset(1)
	length := 3 * LeafCellSize
	MoveCellsInternally(buf, src, dst, length)
	SetLeafKey(buf, 0, 99)

	require.Equal(t, uint32(99), LeafKey(buf, 0))
	require.Equal(t, uint32(1), LeafKey(buf, 1))
	require.Equal(t, uint32(2), LeafKey(buf, 2))
	require.Equal(t, uint32(3), LeafKey(buf, 3))
}

func TestCheckPageTypeAcceptsKnownTypes(t *testing.T) {
	leaf := newLeaf(0)
	typ, err := CheckPageType(leaf)
	require.NoError(t, err)
	require.Equal(t, Leaf, typ)

	internal := newInternal(0)
	typ, err = CheckPageType(internal)
	require.NoError(t, err)
	require.Equal(t, Internal, typ)
}

func TestCheckPageTypeRejectsUnknownByte(t *testing.T) {
	buf := newLeaf(0)
	buf[TypeOffset] = 0x7f
	_, err := CheckPageType(buf)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnknownPageType)
}

func TestMaxCellsFitPageSize(t *testing.T) {
	const pageSize = 4096
	leafMax := LeafMaxCells(pageSize)
	require.LessOrEqual(t, LeafHeaderSize+leafMax*LeafCellSize, uint32(pageSize))
	require.Greater(t, LeafHeaderSize+(leafMax+1)*LeafCellSize, uint32(pageSize))

	intMax := InternalMaxCells(pageSize)
	require.LessOrEqual(t, InternalHeaderSize+intMax*InternalCellSize, uint32(pageSize))
	require.Greater(t, InternalHeaderSize+(intMax+1)*InternalCellSize, uint32(pageSize))
}
