// Package table glues the pager, B+Tree, and row codec together into
// the public surface consumed by the CLI layer: a Table that opens a
// database file and hands out a forward SelectCursor and a keyed
// InsertCursor.
package table

import (
	"github.com/go-logr/logr"

	"rdb/btree"
	"rdb/page"
	"rdb/pager"
	"rdb/row"
)

type Table struct {
	pager *pager.Pager
	tree  *btree.BTree
}

// Open opens (or creates) the database file at path. pageSize is
// honoured only when the file is created fresh.
func Open(path string, pageSize uint32, log logr.Logger) (*Table, error) {
	p, err := pager.Open(path, pageSize, log)
	if err != nil {
		return nil, err
	}
	return &Table{pager: p, tree: btree.New(p, log)}, nil
}

// Close flushes every resident dirty page to disk and closes the file.
func (t *Table) Close() error { return t.pager.Close() }

func (t *Table) PageSize() uint32 { return t.pager.PageSize() }

// Get performs a point lookup by key, independent of SelectCursor's
// forward scan.
func (t *Table) Get(key uint32) (row.Row, bool, error) {
	ci, err := t.tree.Search(key)
	if err != nil {
		return row.Row{}, false, err
	}
	if t.pager.NumPages() == 0 {
		return row.Row{}, false, nil
	}
	rh, err := t.pager.PageForRead(ci.PageIndex)
	if err != nil {
		return row.Row{}, false, err
	}
	n := page.NumCells(rh.Bytes())
	if ci.CellIndex >= n || page.LeafKey(rh.Bytes(), ci.CellIndex) != key {
		rh.Release()
		return row.Row{}, false, nil
	}
	off := page.LeafRowOffset(ci.CellIndex)
	r, err := row.Deserialize(rh.Bytes()[off : off+page.RowSize])
	rh.Release()
	return r, true, err
}

// DebugTree exposes the B+Tree's structural dump for the `.btree`
// and `.btree_internal` meta-commands.
func (t *Table) DebugTree(internalOnly bool) ([]string, error) {
	return t.tree.DebugTree(internalOnly)
}

// Constants reports the layout constants printed by `.constants`.
func (t *Table) Constants() map[string]uint32 {
	ps := t.pager.PageSize()
	return map[string]uint32{
		"ROW_SIZE":              uint32(row.Size),
		"PAGE_SIZE":             ps,
		"LEAF_MAX_CELLS":        page.LeafMaxCells(ps),
		"INTERNAL_MAX_CELLS":    page.InternalMaxCells(ps),
		"LEAF_NODE_HEADER_SIZE": page.LeafHeaderSize,
		"INTERNAL_HEADER_SIZE":  page.InternalHeaderSize,
	}
}

// SelectCursor returns a cursor positioned at the smallest key in the
// tree.
type SelectCursor struct {
	table     *Table
	pageIndex uint32
	cellIndex uint32
}

func (t *Table) SelectCursor() (*SelectCursor, error) {
	leaf, err := t.tree.LeftmostLeaf()
	if err != nil {
		return nil, err
	}
	return &SelectCursor{table: t, pageIndex: leaf, cellIndex: 0}, nil
}

// EndOfTable reports whether the cursor has run past every row: true
// on an empty tree, or when past the last cell of a leaf with no
// right sibling.
func (c *SelectCursor) EndOfTable() (bool, error) {
	if c.table.pager.NumPages() == 0 {
		return true, nil
	}
	rh, err := c.table.pager.PageForRead(c.pageIndex)
	if err != nil {
		return false, err
	}
	n := page.NumCells(rh.Bytes())
	next := page.NextLeaf(rh.Bytes())
	rh.Release()
	return c.cellIndex >= n && next == 0, nil
}

// Advance moves to the next key in ascending order, following
// next_leaf when it runs off the end of the current leaf.
func (c *SelectCursor) Advance() error {
	rh, err := c.table.pager.PageForRead(c.pageIndex)
	if err != nil {
		return err
	}
	n := page.NumCells(rh.Bytes())
	next := page.NextLeaf(rh.Bytes())
	rh.Release()

	c.cellIndex++
	if c.cellIndex >= n && next != 0 {
		c.pageIndex = next
		c.cellIndex = 0
	}
	return nil
}

// Get deserializes the row at the cursor's current position.
func (c *SelectCursor) Get() (row.Row, error) {
	rh, err := c.table.pager.PageForRead(c.pageIndex)
	if err != nil {
		return row.Row{}, err
	}
	off := page.LeafRowOffset(c.cellIndex)
	buf := rh.Bytes()[off : off+page.RowSize]
	r, err := row.Deserialize(buf)
	rh.Release()
	return r, err
}

// InsertCursor inserts a single row under key.
type InsertCursor struct {
	table *Table
	key   uint32
}

func (t *Table) InsertCursor(key uint32) *InsertCursor {
	return &InsertCursor{table: t, key: key}
}

// Save inserts r.ID = key's row into the tree. Returns
// btree.ErrDuplicateKey, leaving all state unchanged, if key already
// exists.
func (c *InsertCursor) Save(r row.Row) error {
	ci, err := c.table.tree.Insert(c.key)
	if err != nil {
		return err
	}
	r.ID = c.key

	wh, err := c.table.pager.PageForWrite(ci.PageIndex)
	if err != nil {
		return err
	}
	off := page.LeafRowOffset(ci.CellIndex)
	err = row.Serialize(r, wh.Bytes()[off:off+page.RowSize])
	wh.Release()
	return err
}
