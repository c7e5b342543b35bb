// Package pager owns the database file handle and the in-memory page
// cache. It is the only component that touches *os.File directly;
// everything above it (btree, row, table) addresses pages by index.
//
// Pages allocate on first write and lazy-load on first read miss,
// flushing to disk on close. Each cached page guards its buffer with
// its own sync.RWMutex rather than a single pager-wide lock, so that
// split routines can hold write handles on several distinct pages at
// once.
package pager

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-logr/logr"
)

const (
	// FileHeaderSize is the fixed 100-byte DB header preceding page 0.
	FileHeaderSize = 100
	// DefaultPageSize is used when creating a brand-new database file
	// and no explicit page size was requested.
	DefaultPageSize = 4096
)

// cachedPage is the unit of cache residency: a page-size buffer
// guarded by its own lock, so that read handles on one page never
// contend with write handles on another.
type cachedPage struct {
	mu     sync.RWMutex
	buf    []byte
	loaded bool
	dirty  bool
}

// Pager owns the file handle and the index -> cachedPage cache.
type Pager struct {
	file     *os.File
	pageSize uint32
	log      logr.Logger

	mu       sync.Mutex
	numPages uint32
	pages    map[uint32]*cachedPage
}

// ReadHandle grants shared immutable access to one page's buffer.
type ReadHandle struct {
	cp  *cachedPage
	buf []byte
}

func (h *ReadHandle) Bytes() []byte { return h.buf }

func (h *ReadHandle) Release() { h.cp.mu.RUnlock() }

// WriteHandle grants exclusive mutable access to one page's buffer.
type WriteHandle struct {
	cp  *cachedPage
	buf []byte
}

func (h *WriteHandle) Bytes() []byte { return h.buf }

func (h *WriteHandle) Release() {
	h.cp.dirty = true
	h.cp.mu.Unlock()
}

// Open opens (or creates) the database file at path. defaultPageSize
// is honoured only when the file is created fresh; an existing file's
// page size is read back from its header and an empty-file write is
// never performed over it.
func Open(path string, defaultPageSize uint32, log logr.Logger) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: stat %s: %w", path, err)
	}

	p := &Pager{
		file:  f,
		log:   log,
		pages: make(map[uint32]*cachedPage),
	}

	if fi.Size() == 0 {
		if defaultPageSize == 0 {
			defaultPageSize = DefaultPageSize
		}
		p.pageSize = defaultPageSize
		header := make([]byte, FileHeaderSize)
		binary.BigEndian.PutUint32(header[0:4], p.pageSize)
		if _, err := f.WriteAt(header, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("pager: write header: %w", err)
		}
		p.numPages = 0
		return p, nil
	}

	header := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		log.Error(err, "pager: truncated file header", "path", path)
		return nil, fmt.Errorf("pager: read header: %w", err)
	}
	p.pageSize = binary.BigEndian.Uint32(header[0:4])
	if p.pageSize == 0 {
		f.Close()
		return nil, fmt.Errorf("pager: corrupt header: page size is zero")
	}

	remaining := fi.Size() - FileHeaderSize
	if remaining < 0 || remaining%int64(p.pageSize) != 0 {
		f.Close()
		log.Error(nil, "pager: file size is not a whole number of pages",
			"path", path, "fileSize", fi.Size(), "pageSize", p.pageSize)
		return nil, fmt.Errorf("pager: corrupt file: size %d is not 100 + k*%d", fi.Size(), p.pageSize)
	}
	p.numPages = uint32(remaining / int64(p.pageSize))

	return p, nil
}

func (p *Pager) PageSize() uint32 { return p.pageSize }

func (p *Pager) NumPages() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numPages
}

func (p *Pager) entry(i uint32) *cachedPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp, ok := p.pages[i]
	if !ok {
		cp = &cachedPage{}
		p.pages[i] = cp
	}
	return cp
}

func (p *Pager) loadFromDisk(i uint32) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(FileHeaderSize) + int64(i)*int64(p.pageSize)
	n, err := p.file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		p.log.Error(err, "pager: read page failed", "page", i)
		return nil, fmt.Errorf("pager: read page %d: %w", i, err)
	}
	_ = n
	return buf, nil
}

// PageForRead requires i < NumPages(); it loads the page from disk on
// a cache miss and returns a handle that permits concurrent immutable
// borrows of this page (other indices are unaffected).
func (p *Pager) PageForRead(i uint32) (*ReadHandle, error) {
	if i >= p.NumPages() {
		return nil, fmt.Errorf("pager: read page %d out of range (numPages=%d)", i, p.NumPages())
	}
	cp := p.entry(i)

	cp.mu.RLock()
	if !cp.loaded {
		cp.mu.RUnlock()
		cp.mu.Lock()
		if !cp.loaded {
			buf, err := p.loadFromDisk(i)
			if err != nil {
				cp.mu.Unlock()
				return nil, err
			}
			cp.buf = buf
			cp.loaded = true
		}
		cp.mu.Unlock()
		cp.mu.RLock()
	}
	return &ReadHandle{cp: cp, buf: cp.buf}, nil
}

// PageForWrite allows i == NumPages() to allocate the next page (a
// zero-initialised buffer, with NumPages incremented); otherwise i
// must be < NumPages(). It returns a handle granting exclusive
// mutable access.
func (p *Pager) PageForWrite(i uint32) (*WriteHandle, error) {
	p.mu.Lock()
	if i > p.numPages {
		p.mu.Unlock()
		return nil, fmt.Errorf("pager: write page %d out of range (numPages=%d)", i, p.numPages)
	}
	allocating := i == p.numPages
	cp, ok := p.pages[i]
	if !ok {
		cp = &cachedPage{}
		p.pages[i] = cp
	}
	if allocating {
		p.numPages++
	}
	p.mu.Unlock()

	cp.mu.Lock()
	if allocating && !cp.loaded {
		cp.buf = make([]byte, p.pageSize)
		cp.loaded = true
	} else if !cp.loaded {
		buf, err := p.loadFromDisk(i)
		if err != nil {
			cp.mu.Unlock()
			return nil, err
		}
		cp.buf = buf
		cp.loaded = true
	}
	return &WriteHandle{cp: cp, buf: cp.buf}, nil
}

// Flush writes page i's buffer to the file if it is dirty and resident.
func (p *Pager) Flush(i uint32) error {
	p.mu.Lock()
	cp, ok := p.pages[i]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if !cp.dirty {
		return nil
	}
	off := int64(FileHeaderSize) + int64(i)*int64(p.pageSize)
	if _, err := p.file.WriteAt(cp.buf, off); err != nil {
		p.log.Error(err, "pager: flush page failed", "page", i)
		return fmt.Errorf("pager: flush page %d: %w", i, err)
	}
	cp.dirty = false
	return nil
}

// Close flushes every resident dirty page and closes the file.
func (p *Pager) Close() error {
	p.mu.Lock()
	indices := make([]uint32, 0, len(p.pages))
	for i := range p.pages {
		indices = append(indices, i)
	}
	p.mu.Unlock()

	for _, i := range indices {
		if err := p.Flush(i); err != nil {
			return err
		}
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("pager: close: %w", err)
	}
	return nil
}
