// Package page implements the on-disk byte layout of a single B+Tree
// page: the common header shared by leaf and internal pages, the
// kind-specific header fields, and the fixed-width cell slots that
// follow it.
//
// Every function here is a pure operation over a caller-supplied
// PAGE_SIZE buffer. There is no I/O, and the only error return is
// CheckPageType's for an unknown page_type byte: an out-of-range cell
// index is a caller contract violation and panics rather than
// returning a recoverable error.
package page

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type is the one-byte discriminant stored at byte 0 of every page.
type Type byte

const (
	Internal Type = 0
	Leaf     Type = 1
)

// ErrUnknownPageType indicates a page_type byte that is neither
// Internal nor Leaf: a corrupted page.
var ErrUnknownPageType = errors.New("page: unknown page type byte")

// CheckPageType reads and validates the page_type discriminant,
// rejecting any byte other than Internal or Leaf rather than letting
// callers silently treat garbage as one kind or the other.
func CheckPageType(buf []byte) (Type, error) {
	t := PageType(buf)
	if t != Internal && t != Leaf {
		return t, fmt.Errorf("%w: %d", ErrUnknownPageType, buf[TypeOffset])
	}
	return t, nil
}

// Common header, shared by both page kinds.
const (
	TypeOffset   = 0
	IsRootOffset = 1
	ParentOffset = 2

	CommonHeaderSize = 6
)

// Leaf header layout: common header + num_cells (4) + next_leaf (4).
const (
	LeafNumCellsOffset = CommonHeaderSize
	LeafNextLeafOffset = CommonHeaderSize + 4
	LeafHeaderSize     = CommonHeaderSize + 4 + 4 // 14

	KeySize = 4
	RowSize = 292
	// LeafCellSize is KEY_SIZE + ROW_SIZE: a leaf cell holds the key
	// followed directly by the serialized row.
	LeafCellSize = KeySize + RowSize
)

// Internal header layout: common header + num_keys (4) + rightmost_child (4).
const (
	InternalNumKeysOffset      = CommonHeaderSize
	InternalRightChildOffset   = CommonHeaderSize + 4
	InternalHeaderSize         = CommonHeaderSize + 4 + 4 // 14
	internalChildFieldSize     = 4
	internalKeyFieldSize       = 4
	InternalCellSize           = internalChildFieldSize + internalKeyFieldSize
	internalCellChildRelOffset = 0
	internalCellKeyRelOffset   = internalChildFieldSize
)

// LeafMaxCells is floor((pageSize - LEAF_HEADER_SIZE) / LEAF_CELL_SIZE).
func LeafMaxCells(pageSize uint32) uint32 {
	return (pageSize - LeafHeaderSize) / LeafCellSize
}

// InternalMaxCells is floor((pageSize - INTERNAL_HEADER_SIZE) / INTERNAL_CELL_SIZE).
func InternalMaxCells(pageSize uint32) uint32 {
	return (pageSize - InternalHeaderSize) / InternalCellSize
}

// InitLeaf zeroes the header region relevant to a leaf and sets the
// type discriminant, is_root flag, and num_cells. parent and
// next_leaf are left zero; callers set them explicitly afterward.
func InitLeaf(buf []byte, isRoot bool, numCells uint32) {
	for i := 0; i < LeafHeaderSize; i++ {
		buf[i] = 0
	}
	buf[TypeOffset] = byte(Leaf)
	SetIsRoot(buf, isRoot)
	SetNumCells(buf, numCells)
}

// InitInternal zeroes the header region relevant to an internal page
// and sets the type discriminant, is_root flag, and num_keys.
func InitInternal(buf []byte, isRoot bool, numKeys uint32) {
	for i := 0; i < InternalHeaderSize; i++ {
		buf[i] = 0
	}
	buf[TypeOffset] = byte(Internal)
	SetIsRoot(buf, isRoot)
	SetNumKeys(buf, numKeys)
}

func PageType(buf []byte) Type { return Type(buf[TypeOffset]) }

func IsRoot(buf []byte) bool { return buf[IsRootOffset] != 0 }

func SetIsRoot(buf []byte, v bool) {
	if v {
		buf[IsRootOffset] = 1
	} else {
		buf[IsRootOffset] = 0
	}
}

func Parent(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[ParentOffset : ParentOffset+4])
}

func SetParent(buf []byte, v uint32) {
	binary.BigEndian.PutUint32(buf[ParentOffset:ParentOffset+4], v)
}

// NumCells reads the leaf num_cells field (also shared with internal's
// num_keys field, since they occupy the same header offset).
func NumCells(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[LeafNumCellsOffset : LeafNumCellsOffset+4])
}

func SetNumCells(buf []byte, v uint32) {
	binary.BigEndian.PutUint32(buf[LeafNumCellsOffset:LeafNumCellsOffset+4], v)
}

func NextLeaf(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[LeafNextLeafOffset : LeafNextLeafOffset+4])
}

func SetNextLeaf(buf []byte, v uint32) {
	binary.BigEndian.PutUint32(buf[LeafNextLeafOffset:LeafNextLeafOffset+4], v)
}

// NumKeys is an alias of NumCells for internal pages: both sit at the
// same header offset, right after the common header.
func NumKeys(buf []byte) uint32 { return NumCells(buf) }

func SetNumKeys(buf []byte, v uint32) { SetNumCells(buf, v) }

func RightmostChild(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[InternalRightChildOffset : InternalRightChildOffset+4])
}

func SetRightmostChild(buf []byte, v uint32) {
	binary.BigEndian.PutUint32(buf[InternalRightChildOffset:InternalRightChildOffset+4], v)
}

// LeafCellOffset returns the byte offset of leaf cell i.
func LeafCellOffset(i uint32) uint32 {
	return LeafHeaderSize + i*LeafCellSize
}

// LeafRowOffset returns the byte offset of the row payload within cell i.
func LeafRowOffset(i uint32) uint32 {
	return LeafCellOffset(i) + KeySize
}

func LeafKey(buf []byte, i uint32) uint32 {
	off := LeafCellOffset(i)
	return binary.BigEndian.Uint32(buf[off : off+KeySize])
}

func SetLeafKey(buf []byte, i uint32, key uint32) {
	off := LeafCellOffset(i)
	binary.BigEndian.PutUint32(buf[off:off+KeySize], key)
}

// InternalCellOffset returns the byte offset of internal cell i.
func InternalCellOffset(i uint32) uint32 {
	return InternalHeaderSize + i*InternalCellSize
}

// InternalKey reads cell i's separator key (the key sits after the
// child pointer within the cell).
func InternalKey(buf []byte, i uint32) uint32 {
	off := InternalCellOffset(i) + internalCellKeyRelOffset
	return binary.BigEndian.Uint32(buf[off : off+4])
}

func SetInternalKey(buf []byte, i uint32, key uint32) {
	off := InternalCellOffset(i) + internalCellKeyRelOffset
	binary.BigEndian.PutUint32(buf[off:off+4], key)
}

// InternalChildAt reads cell i's child pointer directly, with no
// rightmost_child fallback. Used internally where i is already known
// to address a real cell (i < num_keys).
func InternalChildAt(buf []byte, i uint32) uint32 {
	off := InternalCellOffset(i) + internalCellChildRelOffset
	return binary.BigEndian.Uint32(buf[off : off+4])
}

func SetInternalChildAt(buf []byte, i uint32, child uint32) {
	off := InternalCellOffset(i) + internalCellChildRelOffset
	binary.BigEndian.PutUint32(buf[off:off+4], child)
}

// InternalChild implements get_child(i): for i < numKeys it reads cell
// i's child slot, and for i == numKeys it reads rightmost_child.
func InternalChild(buf []byte, numKeys, i uint32) uint32 {
	if i == numKeys {
		return RightmostChild(buf)
	}
	return InternalChildAt(buf, i)
}

func SetInternalChild(buf []byte, numKeys, i uint32, child uint32) {
	if i == numKeys {
		SetRightmostChild(buf, child)
		return
	}
	SetInternalChildAt(buf, i, child)
}

// FindCellLeaf returns the smallest index in [0, numCells] whose
// stored key is >= key (a binary search), matching the leaf's
// find_cell semantics: exact key match returns that cell's index.
func FindCellLeaf(buf []byte, numCells, key uint32) uint32 {
	lo, hi := uint32(0), numCells
	for lo < hi {
		mid := lo + (hi-lo)/2
		if LeafKey(buf, mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// FindCellInternal returns the smallest index in [0, numKeys] whose
// stored separator key is >= key.
func FindCellInternal(buf []byte, numKeys, key uint32) uint32 {
	lo, hi := uint32(0), numKeys
	for lo < hi {
		mid := lo + (hi-lo)/2
		if InternalKey(buf, mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// MoveCellsInternally shifts length bytes from src to dst within buf,
// overlap-safe (Go's builtin copy is memmove semantics).
func MoveCellsInternally(buf []byte, src, dst, length uint32) {
	copy(buf[dst:dst+length], buf[src:src+length])
}

// CopyIn writes data at offset.
func CopyIn(buf []byte, offset uint32, data []byte) {
	copy(buf[offset:], data)
}
