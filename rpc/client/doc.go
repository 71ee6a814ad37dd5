// Package client implements the kvsd client. Client and Pool implement the
// store.IStore interface over the wire protocol, so code written against a local
// storage core works unchanged against a remote server.
//
// Key Components:
//
//   - Dial: connects to a server and authenticates. Fail replies are returned as
//     *store.Error values carrying the server's code, so errors.Is(err,
//     store.ErrNotFound) works for both local and remote stores.
//
//   - DialPool: opens several connections and spreads requests round robin over
//     them. One connection answers its requests strictly in order.
//
// Usage Example:
//
//	c, err := client.Dial(ctx, common.ClientConfig{Endpoint: "localhost:7379"})
//	if err != nil {
//	  return err
//	}
//	defer c.Close()
//
//	v, _ := value.FromString("world")
//	err = c.Set(ctx, store.TableRef{}, "hello", v)
package client
