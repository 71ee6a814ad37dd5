package server

import (
	"context"
	"net"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/ValentinKolb/kvsd/lib/core"
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/rpc/common"
	"github.com/ValentinKolb/kvsd/rpc/protocol"
	"github.com/pkg/errors"
)

// InitDirs creates the directory layout below root: the system namespace and the
// default table of the default namespace. Existing directories are left alone.
func InitDirs(root string) error {
	dirs := []string{
		filepath.Join(root, core.NamespacesDir, store.SystemNamespace),
		core.TableDir(root, store.TableRef{}),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "server: create %s", dir)
		}
	}
	return nil
}

// Initializer wires the daemon together: directory layout, storage core, server
// and metrics endpoint.
type Initializer struct {
	config   common.ServerConfig
	listener net.Listener
	metrics  *common.Metrics
}

// NewInitializer creates an initializer for config.
func NewInitializer(config common.ServerConfig) *Initializer {
	return &Initializer{
		config:  config,
		metrics: common.NewMetrics(),
	}
}

// WithListener makes the daemon serve on l instead of binding config.Endpoint.
func (i *Initializer) WithListener(l net.Listener) *Initializer {
	i.listener = l
	return i
}

// Metrics returns the metrics the daemon records.
func (i *Initializer) Metrics() *common.Metrics {
	return i.metrics
}

// Run starts the daemon and blocks until ctx is cancelled. Shutdown happens in
// order: the server stops accepting and drains its connections, then the storage
// core executes what is still queued and closes every table.
//
// A table that cannot be opened (e.g. a corrupt log) aborts the start.
func (i *Initializer) Run(ctx context.Context) error {
	if err := InitDirs(i.config.RootDir); err != nil {
		return err
	}

	c, err := core.New(i.config.CoreOptions())
	if err != nil {
		return errors.Wrap(err, "server: start storage")
	}

	ln := i.listener
	if ln == nil {
		ln, err = net.Listen("tcp", i.config.Endpoint)
		if err != nil {
			_ = c.Close()
			return errors.Wrapf(err, "server: listen on %s", i.config.Endpoint)
		}
	}

	Logger.Infof("kvsd listening on %s", ln.Addr())
	Logger.Infof("configuration:\n%s", i.config.String())

	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	coreErr := make(chan error, 1)
	go func() { coreErr <- c.Run(coreCtx) }()

	i.metrics.Gauge("kvsd_request_queue_length", func() float64 { return float64(c.QueueLen()) })
	if i.config.MetricsEndpoint != "" {
		go func() {
			Logger.Infof("serving metrics on http://%s/metrics", i.config.MetricsEndpoint)
			if err := common.ServeMetrics(ctx, i.config.MetricsEndpoint, i.metrics); err != nil {
				Logger.Errorf("metrics endpoint failed: %v", err)
			}
		}()
	}

	if i.config.MaxValueSize > protocol.MaxMessageSize {
		Logger.Warningf("max value size %s exceeds the default message size of clients, they need a larger max message size to read such values",
			bytefmt.ByteSize(i.config.MaxValueSize))
	}

	auth := core.NewAuthenticator(i.config.Users)
	if !auth.Enabled() {
		Logger.Warningf("no users configured, authentication is disabled")
	}

	srv := NewServer(i.config, ln, c, auth, i.metrics)
	serveErr := srv.Serve(ctx)
	Logger.Infof("server stopped, stopping storage")

	stopCore()
	if err := <-coreErr; err != nil && serveErr == nil {
		return errors.Wrap(err, "server: stop storage")
	}
	if serveErr != nil {
		return serveErr
	}

	Logger.Infof("shutdown complete")
	return nil
}
