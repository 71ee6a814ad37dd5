package client

import (
	"bufio"
	"context"
	"math"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/ValentinKolb/kvsd/rpc/common"
	"github.com/ValentinKolb/kvsd/rpc/protocol"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("client")

// ErrClosed is returned by a client after Close.
var ErrClosed = errors.New("client: closed")

// Client is one authenticated connection to a kvsd server. Requests are sent one at
// a time, concurrent callers wait for each other. A connection that failed is
// re-established on the next request.
type Client struct {
	config common.ClientConfig

	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	closed bool
}

// Dial connects to config.Endpoint and authenticates with the configured
// credentials.
func Dial(ctx context.Context, config common.ClientConfig) (*Client, error) {
	c := &Client{config: config}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Ping sends a ping and returns the measured round trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	resp, err := c.roundTrip(ctx, protocol.NewPing())
	if err != nil {
		return 0, err
	}
	ack, ok := resp.(*protocol.Ping)
	if !ok {
		return 0, unexpected(protocol.MsgTPing, resp)
	}
	return ack.RoundTrip(time.Now()), nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (c *Client) Set(ctx context.Context, ref store.TableRef, key string, v *value.Value) error {
	if v == nil {
		return store.NewError(store.RetCInvalidRequest, "set requires a value")
	}
	_, err := c.request(ctx, &protocol.Set{Ref: ref, Key: key, Value: v})
	return err
}

func (c *Client) Get(ctx context.Context, ref store.TableRef, key string) (*value.Value, error) {
	return c.request(ctx, &protocol.Get{Ref: ref, Key: key})
}

func (c *Client) Delete(ctx context.Context, ref store.TableRef, key string) (*value.Value, error) {
	return c.request(ctx, &protocol.Delete{Ref: ref, Key: key})
}

// Close closes the connection. Further requests fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.disconnect()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// request sends a storage request and unpacks the Success value
func (c *Client) request(ctx context.Context, msg protocol.Message) (*value.Value, error) {
	resp, err := c.roundTrip(ctx, msg)
	if err != nil {
		return nil, err
	}
	s, ok := resp.(*protocol.Success)
	if !ok {
		return nil, unexpected(protocol.MsgTSuccess, resp)
	}
	return s.Value, nil
}

// roundTrip sends msg and reads the reply. A Fail reply is returned as error.
func (c *Client) roundTrip(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.exchange(ctx, msg)
	if err != nil {
		// the stream position is unknown, start over with a new connection
		_ = c.disconnect()
		return nil, err
	}
	if f, ok := resp.(*protocol.Fail); ok {
		return nil, f.Err()
	}
	return resp, nil
}

// exchange writes msg and reads one reply, c.mu must be held
func (c *Client) exchange(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	conn := c.conn
	if err := conn.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, err
	}

	// unblock the read if ctx ends first, and wait for that before the next
	// request sets its own deadline
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
		close(fired)
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	if err := protocol.WriteMessage(c.w, msg); err != nil {
		return nil, c.ctxErr(ctx, errors.Wrap(err, "client: send"))
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.ctxErr(ctx, errors.Wrap(err, "client: send"))
	}

	resp, err := protocol.ReadMessage(c.r, c.maxMessageSize())
	if err != nil {
		return nil, c.ctxErr(ctx, errors.Wrap(err, "client: receive"))
	}
	return resp, nil
}

// connect dials and authenticates, c.mu must be held
func (c *Client) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.config.Timeout()}
	if c.config.TCPConf.TCPKeepAliveSec > 0 {
		dialer.KeepAlive = time.Duration(c.config.TCPConf.TCPKeepAliveSec) * time.Second
	}

	conn, err := dialer.DialContext(ctx, "tcp", c.config.Endpoint)
	if err != nil {
		return errors.Wrapf(err, "client: connect to %s", c.config.Endpoint)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(c.config.TCPConf.TCPNoDelay); err != nil {
			Logger.Warningf("failed to set TCP_NODELAY: %v", err)
		}
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)
	c.w = bufio.NewWriter(conn)

	resp, err := c.exchange(ctx, &protocol.Authenticate{Username: c.config.Username, Password: c.config.Password})
	if err == nil {
		if f, ok := resp.(*protocol.Fail); ok {
			err = f.Err()
		} else if _, ok := resp.(*protocol.Success); !ok {
			err = unexpected(protocol.MsgTSuccess, resp)
		}
	}
	if err != nil {
		_ = c.disconnect()
		return err
	}

	Logger.Debugf("connected to %s", c.config.Endpoint)
	return nil
}

func (c *Client) disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.r, c.w = nil, nil, nil
	return err
}

// maxMessageSize returns the reply limit, 0 selects protocol.MaxMessageSize
func (c *Client) maxMessageSize() int {
	switch n := c.config.MaxMessageSize; {
	case n == 0:
		return 0
	case n > uint64(math.MaxInt):
		return math.MaxInt
	default:
		return int(n)
	}
}

// deadline returns the earlier of the ctx deadline and the configured timeout
func (c *Client) deadline(ctx context.Context) time.Time {
	var d time.Time
	if timeout := c.config.Timeout(); timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

// ctxErr prefers the context error over the I/O error it caused
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func unexpected(want protocol.MessageType, got protocol.Message) error {
	return store.Errorf(store.RetCUnexpectedMessage, "expected %s reply, got %s", want, got.Type())
}
