package table

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("table")

// renameFile swaps the compacted log into place
var renameFile = os.Rename

const (
	// LogFileName is the name of the append log inside a table directory
	LogFileName = "table.log"

	compactSuffix = ".compact"
	readBufSize   = 64 * 1024
)

// Options configure how a table writes its log.
type Options struct {
	// SyncWrites flushes the log to stable storage after every append.
	SyncWrites bool
	// Compression enables snappy compression of values.
	Compression bool
	// CompressionThreshold is the minimum value size (in bytes) considered for
	// compression. Default: 256.
	CompressionThreshold int
}

func (o *Options) norm() Options {
	var oo Options
	if o != nil {
		oo = *o
	}
	if oo.CompressionThreshold < 1 {
		oo.CompressionThreshold = 256
	}
	return oo
}

func (o Options) encodeOptions() encodeOptions {
	return encodeOptions{compress: o.Compression, compressThreshold: o.CompressionThreshold}
}

// Info holds metadata about a table.
type Info struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Entries int    `json:"entries"` // records in the log, stale ones included
	Keys    int    `json:"keys"`    // indexed keys, tombstones included
	Size    int64  `json:"size"`    // log size in bytes
}

// Table is an append-only log plus the index over it.
//
// Thread-safety: a Table must be driven by a single goroutine. Serializing access
// is the caller's job (see the core package).
type Table struct {
	name  string
	path  string
	opts  Options
	file  *os.File
	index *Index
}

// Open opens (or creates) the log in dir and rebuilds the index by replaying it.
// A corrupt log fails the open.
func Open(name, dir string, opts *Options) (*Table, error) {
	t := &Table{
		name: name,
		path: filepath.Join(dir, LogFileName),
		opts: opts.norm(),
	}
	if err := t.open(); err != nil {
		return nil, err
	}

	Logger.Infof("opened table %s (%d keys, %d entries, %d bytes)", name, t.index.Len(), t.index.entries, t.index.end)
	return t, nil
}

func (t *Table) open() error {
	f, err := os.OpenFile(t.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "table: open %s", t.path)
	}

	idx, err := IndexFromReader(bufio.NewReaderSize(f, readBufSize))
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "table: rebuild index of %s", t.name)
	}

	t.file = f
	t.index = idx
	return nil
}

// reopen opens the log at t.path again after a failed compaction so the table
// keeps serving requests. cause is returned either way.
func (t *Table) reopen(cause error) error {
	if err := t.open(); err != nil {
		Logger.Errorf("failed to reopen %s after compaction error: %v", t.name, err)
		return errors.Wrapf(cause, "table: %s unusable until restart (%v)", t.name, err)
	}
	Logger.Warningf("compaction of %s failed, kept serving the previous log: %v", t.name, cause)
	return cause
}

// Name returns the table name (namespace/table).
func (t *Table) Name() string {
	return t.name
}

// Get returns the latest value for key or ErrNotFound if the key was never
// written or has been deleted.
func (t *Table) Get(key string) (*value.Value, error) {
	e, err := t.lookup(key)
	if err != nil {
		return nil, err
	}
	if e.IsTombstone() {
		return nil, ErrNotFound
	}
	return e.Value(), nil
}

// Put appends a new value for key.
func (t *Table) Put(key string, v *value.Value) error {
	if v == nil {
		return errors.New("table: put requires a value, use Delete")
	}
	return t.append(NewEntry(key, v))
}

// Delete appends a tombstone for key and returns the value it replaced, nil if the
// key had no live value. The tombstone is written either way.
func (t *Table) Delete(key string) (*value.Value, error) {
	old, err := t.Get(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := t.append(NewEntry(key, nil)); err != nil {
		return nil, err
	}
	return old, nil
}

// LookupOffset exposes the index position of key.
func (t *Table) LookupOffset(key string) (int64, bool) {
	if t.index == nil {
		return 0, false
	}
	return t.index.LookupOffset(key)
}

// Info returns table metadata.
func (t *Table) Info() Info {
	info := Info{Name: t.name, Path: t.path}
	if t.index != nil {
		info.Entries = t.index.entries
		info.Keys = t.index.Len()
		info.Size = t.index.end
	}
	return info
}

// Compact rewrites the log so that it only holds the latest live entry of every
// key, then swaps it in place of the old log and rebuilds the index.
func (t *Table) Compact() (before, after Info, err error) {
	if t.file == nil {
		return Info{}, Info{}, ErrClosed
	}
	before = t.Info()

	tmpPath := t.path + compactSuffix
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return before, before, errors.Wrap(err, "table: create compaction file")
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	keys := t.index.keys()
	sort.Strings(keys)

	w := bufio.NewWriterSize(tmp, readBufSize)
	for _, key := range keys {
		e, err := t.lookup(key)
		if err != nil {
			cleanup()
			return before, before, err
		}
		if e.IsTombstone() {
			continue
		}
		buf, err := e.encode(t.opts.encodeOptions())
		if err != nil {
			cleanup()
			return before, before, err
		}
		if _, err := w.Write(buf); err != nil {
			cleanup()
			return before, before, errors.Wrap(err, "table: write compaction file")
		}
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return before, before, errors.Wrap(err, "table: flush compaction file")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return before, before, errors.Wrap(err, "table: sync compaction file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return before, before, errors.Wrap(err, "table: close compaction file")
	}

	if err := t.file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return before, before, errors.Wrap(err, "table: close log")
	}
	t.file = nil
	if err := renameFile(tmpPath, t.path); err != nil {
		_ = os.Remove(tmpPath)
		return before, before, t.reopen(errors.Wrap(err, "table: replace log"))
	}
	if err := t.open(); err != nil {
		// the compacted log is in place, one more attempt before giving up
		return before, before, t.reopen(err)
	}

	after = t.Info()
	Logger.Infof("compacted table %s: %d -> %d bytes, %d -> %d entries", t.name, before.Size, after.Size, before.Entries, after.Entries)
	return before, after, nil
}

// Close flushes and closes the log.
func (t *Table) Close() error {
	if t.file == nil {
		return nil
	}
	f := t.file
	t.file = nil

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "table: sync %s", t.name)
	}
	return errors.Wrapf(f.Close(), "table: close %s", t.name)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// lookup reads the entry the index points at for key
func (t *Table) lookup(key string) (*Entry, error) {
	if t.file == nil {
		return nil, ErrClosed
	}

	off, ok := t.index.LookupOffset(key)
	if !ok {
		return nil, ErrNotFound
	}

	r := io.NewSectionReader(t.file, off, t.index.end-off)
	_, e, err := DecodeEntry(bufio.NewReader(r))
	if err == io.EOF {
		return nil, &CorruptionError{Offset: off, Reason: "index points past the end of the log"}
	}
	if err != nil {
		var ce *CorruptionError
		if errors.As(err, &ce) {
			ce.Offset = off
		}
		return nil, err
	}
	if e.Key() != key {
		return nil, &CorruptionError{Offset: off, Reason: "index points at an entry for another key"}
	}
	return e, nil
}

// append writes e at the end of the log and then points the index at it. The index
// is only touched once the bytes are written (and synced if configured).
func (t *Table) append(e *Entry) error {
	if t.file == nil {
		return ErrClosed
	}

	buf, err := e.encode(t.opts.encodeOptions())
	if err != nil {
		return err
	}

	offset := t.index.end
	if _, err := checkedAdd(offset, len(buf)); err != nil {
		return err
	}

	if _, err := t.file.WriteAt(buf, offset); err != nil {
		// drop a partially written record so the log stays replayable
		if terr := t.file.Truncate(offset); terr != nil {
			Logger.Errorf("failed to truncate %s after write error: %v", t.name, terr)
		}
		return errors.Wrapf(err, "table: append to %s", t.name)
	}
	if t.opts.SyncWrites {
		if err := t.file.Sync(); err != nil {
			if terr := t.file.Truncate(offset); terr != nil {
				Logger.Errorf("failed to truncate %s after sync error: %v", t.name, terr)
			}
			return errors.Wrapf(err, "table: sync %s", t.name)
		}
	}

	return t.index.insert(e.Key(), offset, len(buf))
}
