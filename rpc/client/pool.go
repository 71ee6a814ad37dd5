package client

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/ValentinKolb/kvsd/rpc/common"
	"github.com/pkg/errors"
)

// Pool spreads requests round robin over several connections to the same server.
// The server answers the requests of one connection in order, a pool lets
// concurrent callers proceed in parallel.
type Pool struct {
	clients []*Client
	next    atomic.Uint64
}

// DialPool opens size connections (at least one).
func DialPool(ctx context.Context, config common.ClientConfig, size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}

	p := &Pool{clients: make([]*Client, 0, size)}
	for i := 0; i < size; i++ {
		c, err := Dial(ctx, config)
		if err != nil {
			_ = p.Close()
			return nil, errors.Wrapf(err, "client: open connection %d/%d", i+1, size)
		}
		p.clients = append(p.clients, c)
	}
	return p, nil
}

// Size returns the number of connections.
func (p *Pool) Size() int {
	return len(p.clients)
}

func (p *Pool) pick() *Client {
	return p.clients[(p.next.Add(1)-1)%uint64(len(p.clients))]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (p *Pool) Set(ctx context.Context, ref store.TableRef, key string, v *value.Value) error {
	return p.pick().Set(ctx, ref, key, v)
}

func (p *Pool) Get(ctx context.Context, ref store.TableRef, key string) (*value.Value, error) {
	return p.pick().Get(ctx, ref, key)
}

func (p *Pool) Delete(ctx context.Context, ref store.TableRef, key string) (*value.Value, error) {
	return p.pick().Delete(ctx, ref, key)
}

// Close closes every connection and returns the first error.
func (p *Pool) Close() error {
	var first error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
