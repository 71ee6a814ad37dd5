package core

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/table"
	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/gofrs/flock"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("core")

const (
	// NamespacesDir is the directory below the root that holds one directory per
	// namespace and one directory per table inside it.
	NamespacesDir = "namespaces"

	// DefaultQueueSize is the capacity of the request channel.
	DefaultQueueSize = 1024

	// LockFileName is the file below the root that a core holds an exclusive lock
	// on while it runs.
	LockFileName = "LOCK"
)

// ErrRootLocked is returned by New if another core (in this or another process)
// already uses the root directory.
var ErrRootLocked = errors.New("core: root directory is in use by another process")

// ErrShuttingDown is returned for requests that arrive after the core stopped.
var ErrShuttingDown = store.NewError(store.RetCShuttingDown, "storage is shutting down")

// Options configure a Core.
type Options struct {
	// RootDir is the daemon root, tables live in <RootDir>/namespaces/<ns>/<table>.
	RootDir string
	// QueueSize bounds the number of queued requests. Default: DefaultQueueSize.
	QueueSize int
	// MaxValueSize rejects larger values with RetCValueTooLarge (0 = no limit
	// beyond value.MaxSize).
	MaxValueSize uint64
	// Table is passed to every table the core opens.
	Table table.Options
}

// Core is the storage actor. It owns every open table and executes requests one at
// a time in the goroutine running Run. All other goroutines talk to it through
// the IStore methods, which enqueue a request and wait for the reply.
type Core struct {
	opts     Options
	requests chan *request
	tables   map[store.TableRef]*table.Table
	lock     *flock.Flock

	running atomic.Bool
	done    chan struct{}
}

// New creates a core and opens every table found below the root directory. A table
// whose log cannot be replayed fails the whole call.
func New(opts Options) (*Core, error) {
	if opts.RootDir == "" {
		return nil, errors.New("core: root directory is required")
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultQueueSize
	}

	lock, err := lockRoot(opts.RootDir)
	if err != nil {
		return nil, err
	}

	c := &Core{
		opts:     opts,
		requests: make(chan *request, opts.QueueSize),
		tables:   make(map[store.TableRef]*table.Table),
		lock:     lock,
		done:     make(chan struct{}),
	}

	refs, err := c.discover()
	if err != nil {
		c.unlock()
		return nil, err
	}
	for _, ref := range refs {
		if _, err := c.openTable(ref); err != nil {
			_ = c.closeTables()
			c.unlock()
			return nil, err
		}
	}

	Logger.Infof("storage core ready (%d tables, queue size %d)", len(c.tables), opts.QueueSize)
	return c, nil
}

// TableDir returns the directory of the table ref points at.
func TableDir(root string, ref store.TableRef) string {
	ref = ref.Default()
	return filepath.Join(root, NamespacesDir, ref.Namespace, ref.Table)
}

// Run executes requests until ctx is cancelled. Requests already queued at that
// point are still executed, then every table is closed. Run returns the first error
// hit while closing tables.
func (c *Core) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("core: already running")
	}

	for {
		select {
		case req := <-c.requests:
			c.handle(req)
		case <-ctx.Done():
			return c.shutdown()
		}
	}
}

// Close closes all tables of a core that never ran. A running core is stopped by
// cancelling the context passed to Run.
func (c *Core) Close() error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("core: running, cancel its context instead")
	}
	return c.shutdown()
}

// Done is closed once Run has drained the queue and closed all tables.
func (c *Core) Done() <-chan struct{} {
	return c.done
}

// QueueLen returns the number of requests waiting for the actor.
func (c *Core) QueueLen() int {
	return len(c.requests)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (c *Core) Set(ctx context.Context, ref store.TableRef, key string, v *value.Value) error {
	_, err := c.submit(ctx, &request{op: opSet, ref: ref, key: key, value: v})
	return err
}

func (c *Core) Get(ctx context.Context, ref store.TableRef, key string) (*value.Value, error) {
	rep, err := c.submit(ctx, &request{op: opGet, ref: ref, key: key})
	return rep.value, err
}

func (c *Core) Delete(ctx context.Context, ref store.TableRef, key string) (*value.Value, error) {
	rep, err := c.submit(ctx, &request{op: opDelete, ref: ref, key: key})
	return rep.value, err
}

// Tables returns the info of every open table sorted by name.
func (c *Core) Tables(ctx context.Context) ([]table.Info, error) {
	rep, err := c.submit(ctx, &request{op: opTables})
	return rep.infos, err
}

// Compact compacts the table ref points at.
func (c *Core) Compact(ctx context.Context, ref store.TableRef) (before, after table.Info, err error) {
	rep, err := c.submit(ctx, &request{op: opCompact, ref: ref})
	if len(rep.infos) == 2 {
		before, after = rep.infos[0], rep.infos[1]
	}
	return before, after, err
}

// --------------------------------------------------------------------------
// Actor
// --------------------------------------------------------------------------

// submit enqueues req and waits for its reply. The reply channel has capacity one,
// so the actor never blocks on a caller that gave up.
func (c *Core) submit(ctx context.Context, req *request) (reply, error) {
	req.reply = make(chan reply, 1)

	select {
	case c.requests <- req:
	case <-c.done:
		return reply{}, ErrShuttingDown
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		return rep, rep.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-c.done:
		// the actor may have answered right before it stopped
		select {
		case rep := <-req.reply:
			return rep, rep.err
		default:
			return reply{}, ErrShuttingDown
		}
	}
}

func (c *Core) handle(req *request) {
	var rep reply
	switch req.op {
	case opSet:
		rep.err = c.set(req.ref, req.key, req.value)
	case opGet:
		rep.value, rep.err = c.get(req.ref, req.key)
	case opDelete:
		rep.value, rep.err = c.delete(req.ref, req.key)
	case opTables:
		rep.infos = c.infos()
	case opCompact:
		rep.infos, rep.err = c.compact(req.ref)
	default:
		rep.err = store.Errorf(store.RetCInternalError, "unknown operation %d", req.op)
	}
	req.reply <- rep
}

// shutdown executes what is still queued, closes all tables and marks the core done.
func (c *Core) shutdown() error {
	drained := 0
drain:
	for {
		select {
		case req := <-c.requests:
			c.handle(req)
			drained++
		default:
			break drain
		}
	}
	if drained > 0 {
		Logger.Infof("executed %d queued requests before shutdown", drained)
	}

	err := c.closeTables()
	c.unlock()
	close(c.done)
	Logger.Infof("storage core stopped")
	return err
}

func (c *Core) set(ref store.TableRef, key string, v *value.Value) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if v == nil {
		return store.NewError(store.RetCInvalidRequest, "set requires a value")
	}
	if c.opts.MaxValueSize > 0 && uint64(v.Len()) > c.opts.MaxValueSize {
		return store.Errorf(store.RetCValueTooLarge, "value of %d bytes exceeds the limit of %d bytes", v.Len(), c.opts.MaxValueSize)
	}

	t, err := c.table(ref)
	if err != nil {
		return err
	}
	return c.storageError(t.Put(key, v), t, key)
}

func (c *Core) get(ref store.TableRef, key string) (*value.Value, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	t, err := c.table(ref)
	if err != nil {
		return nil, err
	}
	v, err := t.Get(key)
	return v, c.storageError(err, t, key)
}

func (c *Core) delete(ref store.TableRef, key string) (*value.Value, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	t, err := c.table(ref)
	if err != nil {
		return nil, err
	}
	old, err := t.Delete(key)
	return old, c.storageError(err, t, key)
}

func (c *Core) infos() []table.Info {
	infos := make([]table.Info, 0, len(c.tables))
	for _, t := range c.tables {
		infos = append(infos, t.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (c *Core) compact(ref store.TableRef) ([]table.Info, error) {
	t, err := c.table(ref)
	if err != nil {
		return nil, err
	}
	before, after, err := t.Compact()
	if err != nil {
		Logger.Errorf("compaction of %s failed: %v", t.Name(), err)
		return nil, store.Errorf(store.RetCInternalError, "compact %s: %v", t.Name(), err)
	}
	return []table.Info{before, after}, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// table returns the open table for ref. A table that is not open yet is opened if
// its directory exists.
func (c *Core) table(ref store.TableRef) (*table.Table, error) {
	ref = ref.Default()
	if t, ok := c.tables[ref]; ok {
		return t, nil
	}
	if err := checkRef(ref); err != nil {
		return nil, err
	}

	info, err := os.Stat(TableDir(c.opts.RootDir, ref))
	if err != nil || !info.IsDir() {
		return nil, store.Errorf(store.RetCTableNotFound, "table %s not found", ref)
	}

	t, err := c.openTable(ref)
	if err != nil {
		Logger.Errorf("failed to open table %s: %v", ref, err)
		return nil, store.Errorf(store.RetCInternalError, "open table %s: %v", ref, err)
	}
	return t, nil
}

func (c *Core) openTable(ref store.TableRef) (*table.Table, error) {
	opts := c.opts.Table
	t, err := table.Open(ref.String(), TableDir(c.opts.RootDir, ref), &opts)
	if err != nil {
		return nil, err
	}
	c.tables[ref] = t
	return t, nil
}

// lockRoot takes the exclusive lock on <root>/LOCK
func lockRoot(root string) (*flock.Flock, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "core: create root directory %s", root)
	}

	lock := flock.New(filepath.Join(root, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "core: lock %s", lock.Path())
	}
	if !ok {
		return nil, errors.Wrapf(ErrRootLocked, "%s", root)
	}
	return lock, nil
}

func (c *Core) unlock() {
	if err := c.lock.Unlock(); err != nil {
		Logger.Errorf("failed to release %s: %v", c.lock.Path(), err)
	}
}

func (c *Core) closeTables() error {
	var first error
	for ref, t := range c.tables {
		if err := t.Close(); err != nil {
			Logger.Errorf("failed to close table %s: %v", ref, err)
			if first == nil {
				first = err
			}
		}
		delete(c.tables, ref)
	}
	return first
}

// discover lists every table directory below the root. The system namespace holds
// no tables.
func (c *Core) discover() ([]store.TableRef, error) {
	nsRoot := filepath.Join(c.opts.RootDir, NamespacesDir)
	namespaces, err := os.ReadDir(nsRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "core: list namespaces in %s", nsRoot)
	}

	var refs []store.TableRef
	for _, ns := range namespaces {
		if !ns.IsDir() || ns.Name() == store.SystemNamespace {
			continue
		}
		tables, err := os.ReadDir(filepath.Join(nsRoot, ns.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "core: list tables of namespace %s", ns.Name())
		}
		for _, t := range tables {
			if t.IsDir() {
				refs = append(refs, store.TableRef{Namespace: ns.Name(), Table: t.Name()})
			}
		}
	}
	return refs, nil
}

// storageError converts a table error into a *store.Error
func (c *Core) storageError(err error, t *table.Table, key string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, table.ErrNotFound):
		return store.Errorf(store.RetCKeyNotFound, "key %q not found", key)
	case errors.Is(err, table.ErrKeyTooLarge):
		return store.Errorf(store.RetCInvalidRequest, "%v", err)
	case errors.Is(err, value.ErrTooLarge):
		return store.Errorf(store.RetCValueTooLarge, "%v", err)
	default:
		Logger.Errorf("storage error on table %s: %v", t.Name(), err)
		return store.Errorf(store.RetCInternalError, "%v", err)
	}
}

func checkKey(key string) error {
	if key == "" {
		return store.NewError(store.RetCInvalidRequest, "key must not be empty")
	}
	if len(key) > table.MaxKeySize {
		return store.Errorf(store.RetCInvalidRequest, "key of %d bytes exceeds the limit of %d bytes", len(key), table.MaxKeySize)
	}
	return nil
}

// checkRef rejects names that would leave the namespaces directory
func checkRef(ref store.TableRef) error {
	for _, name := range []string{ref.Namespace, ref.Table} {
		if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
			return store.Errorf(store.RetCInvalidRequest, "invalid table name %q", ref)
		}
	}
	if ref.Namespace == store.SystemNamespace {
		return store.Errorf(store.RetCTableNotFound, "table %s not found", ref)
	}
	return nil
}
