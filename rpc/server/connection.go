package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/rpc/protocol"
	"github.com/pkg/errors"
)

const connBufferSize = 64 * 1024

// connection serves the messages of one client in the order they arrive.
type connection struct {
	id     uint64
	conn   net.Conn
	server *Server
	r      *bufio.Reader
	w      *bufio.Writer

	authenticated bool
	busy          atomic.Bool
}

func newConnection(id uint64, conn net.Conn, s *Server) *connection {
	return &connection{
		id:     id,
		conn:   conn,
		server: s,
		r:      bufio.NewReaderSize(conn, connBufferSize),
		w:      bufio.NewWriterSize(conn, connBufferSize),
	}
}

// serve reads, handles and answers messages until the client leaves, a protocol
// error occurs or the server shuts down.
func (c *connection) serve(ctx context.Context) {
	defer c.close()
	Logger.Debugf("connection %d from %s opened", c.id, c.conn.RemoteAddr())

	timeout := c.server.config.Timeout()
	maxSize := c.server.maxMessageSize()

	for {
		// set the deadline before checking for shutdown, interruptIdle may not be
		// overwritten by a later deadline
		if err := c.conn.SetReadDeadline(deadline(timeout)); err != nil {
			Logger.Errorf("connection %d: failed to set read deadline: %v", c.id, err)
			return
		}
		if c.server.closing.Load() {
			return
		}

		msg, err := protocol.ReadMessage(c.r, maxSize)
		if err != nil {
			c.readFailed(err)
			return
		}

		c.busy.Store(true)
		start := time.Now()
		reply, keepOpen := c.handle(ctx, msg)
		err = c.write(reply, timeout)
		c.server.metrics.RequestDone(msg.Type().String(), start)
		c.busy.Store(false)

		if err != nil {
			Logger.Warningf("connection %d: failed to write reply: %v", c.id, err)
			return
		}
		if !keepOpen {
			return
		}
	}
}

// handle executes msg and returns the reply. keepOpen is false if the connection
// must be closed after the reply was sent.
func (c *connection) handle(ctx context.Context, msg protocol.Message) (reply protocol.Message, keepOpen bool) {
	switch m := msg.(type) {
	case *protocol.Ping:
		return m.Ack(time.Now()), true

	case *protocol.Authenticate:
		if c.authenticated {
			return c.fail(store.RetCUnexpectedMessage, "connection is already authenticated"), true
		}
		if err := c.server.auth.Authenticate(m.Username, m.Password); err != nil {
			Logger.Warningf("connection %d: authentication failed for user %q", c.id, m.Username)
			return c.failErr(err), true
		}
		c.authenticated = true
		Logger.Debugf("connection %d: authenticated as %q", c.id, m.Username)
		return protocol.NewSuccess(), true

	case *protocol.Set:
		if !c.authenticated {
			return c.unauthenticated(), true
		}
		if err := c.server.store.Set(ctx, m.Ref, m.Key, m.Value); err != nil {
			return c.failErr(err), true
		}
		return protocol.NewSuccess(), true

	case *protocol.Get:
		if !c.authenticated {
			return c.unauthenticated(), true
		}
		v, err := c.server.store.Get(ctx, m.Ref, m.Key)
		if err != nil {
			return c.failErr(err), true
		}
		return protocol.NewSuccessWithValue(v), true

	case *protocol.Delete:
		if !c.authenticated {
			return c.unauthenticated(), true
		}
		old, err := c.server.store.Delete(ctx, m.Ref, m.Key)
		if err != nil {
			return c.failErr(err), true
		}
		return protocol.NewSuccessWithValue(old), true

	case *protocol.Success, *protocol.Fail:
		return c.fail(store.RetCUnexpectedMessage, "clients may not send "+msg.Type().String()+" messages"), false

	default:
		return c.fail(store.RetCUnexpectedMessage, "unsupported message "+msg.Type().String()), false
	}
}

// readFailed answers a message that could not be decoded if the stream allows it
func (c *connection) readFailed(err error) {
	switch {
	case err == io.EOF:
		Logger.Debugf("connection %d closed by client", c.id)
	case c.server.closing.Load() && isTimeout(err):
		Logger.Debugf("connection %d closed for shutdown", c.id)
	case errors.Is(err, protocol.ErrProtocol), errors.Is(err, protocol.ErrMessageTooLarge):
		c.server.metrics.ProtocolErrors.Inc()
		Logger.Warningf("connection %d: protocol error: %v", c.id, err)
		if werr := c.write(c.fail(store.RetCInvalidRequest, err.Error()), c.server.config.Timeout()); werr != nil {
			Logger.Debugf("connection %d: failed to send protocol error: %v", c.id, werr)
		}
	case isTimeout(err):
		Logger.Infof("connection %d: idle timeout", c.id)
	default:
		Logger.Warningf("connection %d: read error: %v", c.id, err)
	}
}

func (c *connection) write(msg protocol.Message, timeout time.Duration) error {
	if err := c.conn.SetWriteDeadline(deadline(timeout)); err != nil {
		return err
	}
	if err := protocol.WriteMessage(c.w, msg); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *connection) fail(code store.RetCode, msg string) *protocol.Fail {
	c.server.metrics.Failure(code.String())
	return protocol.NewFail(code, msg)
}

func (c *connection) failErr(err error) *protocol.Fail {
	f := protocol.FailFromError(err)
	if errors.Is(err, context.Canceled) {
		f = protocol.NewFail(store.RetCShuttingDown, "server is shutting down")
	}
	c.server.metrics.Failure(f.Code.String())
	return f
}

func (c *connection) unauthenticated() *protocol.Fail {
	return c.fail(store.RetCUnauthenticated, "authenticate first")
}

// interruptIdle makes a connection that waits for its next message return. A
// connection in the middle of a request finishes it first.
func (c *connection) interruptIdle() {
	if !c.busy.Load() {
		_ = c.conn.SetReadDeadline(time.Now())
	}
}

func (c *connection) close() {
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		Logger.Debugf("connection %d: close: %v", c.id, err)
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
