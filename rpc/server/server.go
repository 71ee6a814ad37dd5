package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvsd/lib/core"
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/table"
	"github.com/ValentinKolb/kvsd/rpc/common"
	"github.com/ValentinKolb/kvsd/rpc/protocol"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

const (
	// maxAcceptDelay caps the backoff after temporary accept errors
	maxAcceptDelay = time.Second
	// rejectTimeout bounds the write of the Fail sent to rejected connections
	rejectTimeout = time.Second
)

// Server accepts connections and runs one connection handler per connection. The
// number of concurrent connections is bounded by ServerConfig.MaxConnections.
type Server struct {
	config   common.ServerConfig
	listener net.Listener
	store    store.IStore
	auth     *core.Authenticator
	metrics  *common.Metrics

	// slots is a counting semaphore for open connections (nil = unlimited)
	slots chan struct{}
	conns *xsync.MapOf[uint64, *connection]

	nextID  atomic.Uint64
	closing atomic.Bool
	wg      sync.WaitGroup
}

// NewServer creates a server that answers requests on listener with st. The server
// takes ownership of listener.
func NewServer(config common.ServerConfig, listener net.Listener, st store.IStore, auth *core.Authenticator, metrics *common.Metrics) *Server {
	if auth == nil {
		auth = core.NewAuthenticator(nil)
	}
	if metrics == nil {
		metrics = common.NewMetrics()
	}

	s := &Server{
		config:   config,
		listener: listener,
		store:    st,
		auth:     auth,
		metrics:  metrics,
		conns:    xsync.NewMapOf[uint64, *connection](),
	}
	if config.MaxConnections > 0 {
		s.slots = make(chan struct{}, config.MaxConnections)
	}

	metrics.Gauge("kvsd_connections_active", func() float64 { return float64(s.conns.Size()) })
	return s
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	return s.conns.Size()
}

// Serve accepts connections until ctx is done. It then stops accepting, lets the
// open connections finish their current request (at most ShutdownGrace), closes
// the rest and returns once every handler has exited.
func (s *Server) Serve(ctx context.Context) error {
	// connCtx outlives ctx by the grace period, it aborts requests waiting for storage
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.closing.Store(true)
			_ = s.listener.Close()
		case <-stopped:
		}
	}()

	Logger.Infof("accepting connections on %s (max %d)", s.Addr(), s.config.MaxConnections)
	err := s.acceptLoop(connCtx)
	close(stopped)
	s.closing.Store(true)
	_ = s.listener.Close()

	s.drain(cancelConns)
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Server) acceptLoop(ctx context.Context) error {
	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// back off like net/http does on temporary errors
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				Logger.Warningf("accept error: %v; retrying in %v", err, delay)
				time.Sleep(delay)
				continue
			}
			return errors.Wrap(err, "server: accept")
		}
		delay = 0

		if !s.acquire() {
			s.reject(conn)
			continue
		}

		s.metrics.ConnectionsAccepted.Inc()
		s.configureConn(conn)

		c := newConnection(s.nextID.Add(1), conn, s)
		s.conns.Store(c.id, c)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			defer s.conns.Delete(c.id)
			c.serve(ctx)
		}()
	}
}

// drain waits for the handlers to finish, force closing them after the grace period
func (s *Server) drain(cancelConns context.CancelFunc) {
	// idle connections stop right away, busy ones after their current request
	s.conns.Range(func(_ uint64, c *connection) bool {
		c.interruptIdle()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.config.ShutdownGrace()
	if n := s.conns.Size(); n > 0 {
		Logger.Infof("waiting up to %v for %d connections to finish", grace, n)
	}

	select {
	case <-done:
		return
	case <-time.After(grace):
	}

	Logger.Warningf("grace period expired, closing %d connections", s.conns.Size())
	cancelConns()
	s.conns.Range(func(_ uint64, c *connection) bool {
		c.close()
		return true
	})
	<-done
}

func (s *Server) acquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}

// reject tells a client over the connection limit why it is dropped
func (s *Server) reject(conn net.Conn) {
	s.metrics.ConnectionsRejected.Inc()
	Logger.Warningf("rejecting connection from %s: connection limit (%d) reached", conn.RemoteAddr(), s.config.MaxConnections)

	_ = conn.SetWriteDeadline(time.Now().Add(rejectTimeout))
	fail := protocol.NewFail(store.RetCTooManyConnections, "connection limit reached")
	if err := protocol.WriteMessage(conn, fail); err != nil {
		Logger.Debugf("failed to send rejection to %s: %v", conn.RemoteAddr(), err)
	}
	s.metrics.Failure(fail.Code.String())
	_ = conn.Close()
}

// configureConn applies the TCP socket options
func (s *Server) configureConn(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetNoDelay(s.config.TCPConf.TCPNoDelay); err != nil {
		Logger.Warningf("failed to set TCP_NODELAY: %v", err)
	}
	if s.config.TCPConf.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			Logger.Warningf("failed to enable keep alive: %v", err)
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(s.config.TCPConf.TCPKeepAliveSec) * time.Second); err != nil {
			Logger.Warningf("failed to set keep alive period: %v", err)
		}
	}
}

// maxMessageSize returns the largest message body accepted from clients
func (s *Server) maxMessageSize() int {
	size := protocol.MaxMessageSize
	if s.config.MaxValueSize > 0 {
		// the value plus namespace, table and key frames
		if n := s.config.MaxValueSize + 4*(table.MaxKeySize+5); n > uint64(size) && n < uint64(maxInt) {
			size = int(n)
		}
	}
	return size
}

const maxInt = int(^uint(0) >> 1)
