package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/kvsd/lib/core"
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/table"
	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/ValentinKolb/kvsd/rpc/common"
	"github.com/ValentinKolb/kvsd/rpc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

func testConfig(t *testing.T) common.ServerConfig {
	cfg := common.DefaultServerConfig()
	cfg.RootDir = t.TempDir()
	cfg.ShutdownGraceSecond = 1
	return cfg
}

// startDaemon runs an initializer on a loopback listener and returns its address
// and a function that shuts it down
func startDaemon(t *testing.T, cfg common.ServerConfig) (string, func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewInitializer(cfg).WithListener(ln).Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("daemon did not shut down")
			}
		})
	}
	t.Cleanup(stop)
	return ln.Addr().String(), stop
}

type rawConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *rawConn {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return &rawConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *rawConn) send(m protocol.Message) {
	require.NoError(c.t, protocol.WriteMessage(c.conn, m))
}

func (c *rawConn) recv() protocol.Message {
	m, err := protocol.ReadMessage(c.r, 0)
	require.NoError(c.t, err)
	return m
}

func (c *rawConn) roundTrip(m protocol.Message) protocol.Message {
	c.send(m)
	return c.recv()
}

// expectClosed asserts that the server closed the connection
func (c *rawConn) expectClosed() {
	_, err := protocol.ReadMessage(c.r, 0)
	assert.ErrorIs(c.t, err, io.EOF)
}

func requireFail(t *testing.T, m protocol.Message, code store.RetCode) *protocol.Fail {
	f, ok := m.(*protocol.Fail)
	require.True(t, ok, "expected Fail, got %T", m)
	assert.Equal(t, code, f.Code, f.Message)
	return f
}

func requireSuccess(t *testing.T, m protocol.Message) *protocol.Success {
	s, ok := m.(*protocol.Success)
	if !ok {
		if f, isFail := m.(*protocol.Fail); isFail {
			t.Fatalf("expected Success, got Fail %s: %s", f.Code, f.Message)
		}
		t.Fatalf("expected Success, got %T", m)
	}
	return s
}

func strVal(t *testing.T, s string) *value.Value {
	v, err := value.FromString(s)
	require.NoError(t, err)
	return v
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestInitDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitDirs(root))
	require.NoError(t, InitDirs(root))

	for _, dir := range []string{
		filepath.Join(root, "namespaces", "system"),
		filepath.Join(root, "namespaces", "default", "default"),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestAuthenticateGetPingInOrder(t *testing.T) {
	addr, _ := startDaemon(t, testConfig(t))
	c := dial(t, addr)

	// pipeline all three requests, the replies must come back in order
	c.send(&protocol.Authenticate{Username: "user", Password: "pass"})
	c.send(&protocol.Get{Key: "missing"})
	ping := protocol.NewPing()
	c.send(ping)

	s := requireSuccess(t, c.recv())
	assert.Nil(t, s.Value)

	requireFail(t, c.recv(), store.RetCKeyNotFound)

	ack, ok := c.recv().(*protocol.Ping)
	require.True(t, ok)
	assert.True(t, ack.ClientTime.Equal(ping.ClientTime))
	assert.False(t, ack.ServerTime.IsZero())
}

func TestSetGetDeleteOverWire(t *testing.T) {
	cfg := testConfig(t)
	addr, stop := startDaemon(t, cfg)
	c := dial(t, addr)
	requireSuccess(t, c.roundTrip(&protocol.Authenticate{}))

	requireSuccess(t, c.roundTrip(&protocol.Set{Key: "a", Value: strVal(t, "1")}))
	requireSuccess(t, c.roundTrip(&protocol.Set{Key: "b", Value: strVal(t, "")}))

	s := requireSuccess(t, c.roundTrip(&protocol.Get{Key: "a"}))
	assert.Equal(t, "1", s.Value.String())

	s = requireSuccess(t, c.roundTrip(&protocol.Get{Key: "b"}))
	require.NotNil(t, s.Value)
	assert.Equal(t, 0, s.Value.Len())

	s = requireSuccess(t, c.roundTrip(&protocol.Delete{Key: "a"}))
	assert.Equal(t, "1", s.Value.String())

	s = requireSuccess(t, c.roundTrip(&protocol.Delete{Key: "a"}))
	assert.Nil(t, s.Value)

	requireFail(t, c.roundTrip(&protocol.Get{Key: "a"}), store.RetCKeyNotFound)
	requireFail(t, c.roundTrip(&protocol.Get{Ref: store.TableRef{Namespace: "nope"}, Key: "a"}), store.RetCTableNotFound)
	requireFail(t, c.roundTrip(&protocol.Set{Key: "", Value: strVal(t, "x")}), store.RetCInvalidRequest)

	// the data survives a restart
	stop()
	addr, _ = startDaemon(t, cfg)
	c = dial(t, addr)
	requireSuccess(t, c.roundTrip(&protocol.Authenticate{}))
	s = requireSuccess(t, c.roundTrip(&protocol.Get{Key: "b"}))
	assert.NotNil(t, s.Value)
	requireFail(t, c.roundTrip(&protocol.Get{Key: "a"}), store.RetCKeyNotFound)
}

func TestRequestsRequireAuthentication(t *testing.T) {
	cfg := testConfig(t)
	cfg.Users = map[string]string{"alice": "s3cret"}
	addr, _ := startDaemon(t, cfg)
	c := dial(t, addr)

	requireFail(t, c.roundTrip(&protocol.Get{Key: "k"}), store.RetCUnauthenticated)
	requireFail(t, c.roundTrip(&protocol.Set{Key: "k", Value: strVal(t, "v")}), store.RetCUnauthenticated)
	requireFail(t, c.roundTrip(&protocol.Delete{Key: "k"}), store.RetCUnauthenticated)

	// ping works without authentication
	_, ok := c.roundTrip(protocol.NewPing()).(*protocol.Ping)
	assert.True(t, ok)

	requireFail(t, c.roundTrip(&protocol.Authenticate{Username: "alice", Password: "wrong"}), store.RetCUnauthenticated)
	requireFail(t, c.roundTrip(&protocol.Authenticate{Username: "mallory", Password: "s3cret"}), store.RetCUnauthenticated)
	requireSuccess(t, c.roundTrip(&protocol.Authenticate{Username: "alice", Password: "s3cret"}))
	requireFail(t, c.roundTrip(&protocol.Authenticate{Username: "alice", Password: "s3cret"}), store.RetCUnexpectedMessage)

	requireSuccess(t, c.roundTrip(&protocol.Set{Key: "k", Value: strVal(t, "v")}))
}

func TestProtocolErrorsCloseConnection(t *testing.T) {
	addr, _ := startDaemon(t, testConfig(t))

	tests := map[string]func() *protocol.Frames{
		"unknown type": func() *protocol.Frames {
			return protocol.NewFrames(protocol.MessageType(42), 0)
		},
		"extra frame": func() *protocol.Frames {
			f := protocol.NewPing().Frames()
			f.PushNull()
			return f
		},
		"missing frame": func() *protocol.Frames {
			f := protocol.NewFrames(protocol.MsgTAuthenticate, 1)
			f.PushString("user")
			return f
		},
	}
	for name, frames := range tests {
		t.Run(name, func(t *testing.T) {
			c := dial(t, addr)
			require.NoError(t, protocol.WriteFrames(c.conn, frames()))
			requireFail(t, c.recv(), store.RetCInvalidRequest)
			c.expectClosed()
		})
	}

	t.Run("client sends success", func(t *testing.T) {
		c := dial(t, addr)
		requireFail(t, c.roundTrip(protocol.NewSuccess()), store.RetCUnexpectedMessage)
		c.expectClosed()
	})

	t.Run("garbage body", func(t *testing.T) {
		c := dial(t, addr)
		_, err := c.conn.Write([]byte{0, 0, 0, 2, 0x07, 0x07})
		require.NoError(t, err)
		requireFail(t, c.recv(), store.RetCInvalidRequest)
		c.expectClosed()
	})
}

func TestConnectionLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConnections = 1
	addr, _ := startDaemon(t, cfg)

	first := dial(t, addr)
	requireSuccess(t, first.roundTrip(&protocol.Authenticate{}))

	second := dial(t, addr)
	requireFail(t, second.recv(), store.RetCTooManyConnections)
	second.expectClosed()

	// the slot is freed once the first client leaves
	require.NoError(t, first.conn.Close())
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return false
		}
		defer c.Close()
		_ = c.SetDeadline(time.Now().Add(time.Second))
		if err := protocol.WriteMessage(c, &protocol.Authenticate{}); err != nil {
			return false
		}
		m, err := protocol.ReadMessage(c, 0)
		if err != nil {
			return false
		}
		_, ok := m.(*protocol.Success)
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestShutdownClosesIdleConnections(t *testing.T) {
	addr, stop := startDaemon(t, testConfig(t))
	c := dial(t, addr)
	requireSuccess(t, c.roundTrip(&protocol.Authenticate{}))

	start := time.Now()
	stop()
	assert.Less(t, time.Since(start), time.Second, "idle connections must not wait for the grace period")
	c.expectClosed()

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

// slowStore blocks every request until release is closed
type slowStore struct {
	store.IStore
	started chan struct{}
	release chan struct{}
}

func (s *slowStore) Get(ctx context.Context, _ store.TableRef, _ string) (*value.Value, error) {
	close(s.started)
	select {
	case <-s.release:
		return value.FromString("late")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestShutdownLetsInFlightRequestFinish(t *testing.T) {
	cfg := testConfig(t)
	cfg.ShutdownGraceSecond = 5
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	st := &slowStore{started: make(chan struct{}), release: make(chan struct{})}
	srv := NewServer(cfg, ln, st, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	c := dial(t, ln.Addr().String())
	requireSuccess(t, c.roundTrip(&protocol.Authenticate{}))
	c.send(&protocol.Get{Key: "k"})
	<-st.started

	cancel()
	select {
	case <-served:
		t.Fatal("server stopped while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(st.release)
	s := requireSuccess(t, c.recv())
	assert.Equal(t, "late", s.Value.String())
	c.expectClosed()
	require.NoError(t, <-served)
	assert.Zero(t, srv.ActiveConnections())
}

func TestShutdownForceClosesAfterGrace(t *testing.T) {
	cfg := testConfig(t)
	cfg.ShutdownGraceSecond = 0
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	st := &slowStore{started: make(chan struct{}), release: make(chan struct{})}
	defer close(st.release)
	srv := NewServer(cfg, ln, st, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	c := dial(t, ln.Addr().String())
	requireSuccess(t, c.roundTrip(&protocol.Authenticate{}))
	c.send(&protocol.Get{Key: "k"})
	<-st.started

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not force close the connection")
	}
}

func TestStartFailsOnCorruptTable(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, InitDirs(cfg.RootDir))
	logPath := filepath.Join(core.TableDir(cfg.RootDir, store.TableRef{}), table.LogFileName)
	require.NoError(t, os.WriteFile(logPath, []byte{1, 0, 0, 0, 0, 1}, 0644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = NewInitializer(cfg).WithListener(ln).Run(context.Background())
	assert.ErrorIs(t, err, table.ErrCorrupt)
}

func TestSecondDaemonOnSameRootFails(t *testing.T) {
	cfg := testConfig(t)
	addr, _ := startDaemon(t, cfg)

	// the first daemon holds the root once it answers
	_, ok := dial(t, addr).roundTrip(protocol.NewPing()).(*protocol.Ping)
	require.True(t, ok)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = NewInitializer(cfg).WithListener(ln).Run(context.Background())
	assert.ErrorIs(t, err, core.ErrRootLocked)
}

func TestMetricsRecorded(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	daemon := NewInitializer(cfg).WithListener(ln)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()

	c := dial(t, ln.Addr().String())
	requireSuccess(t, c.roundTrip(&protocol.Authenticate{}))
	requireFail(t, c.roundTrip(&protocol.Get{Key: "k"}), store.RetCKeyNotFound)

	cancel()
	require.NoError(t, <-done)

	m := daemon.Metrics()
	assert.Equal(t, uint64(1), m.Counter("kvsd_connections_accepted_total"))
	assert.Equal(t, uint64(1), m.Counter(`kvsd_requests_total{type="get"}`))
	assert.Equal(t, uint64(1), m.Counter(`kvsd_failures_total{code="key_not_found"}`))
}
