package upstream

import (
	"context"
	"net"
)

// Result carries the outcome of an asynchronous lookup back to its callback.
type Result struct {
	Addrs []net.IP
	Err   error
}

// AsyncClient wraps a Client to offer a non-blocking submit/callback
// form, mirroring the original forwarder's dns_query_async +
// on_dns_response: the caller submits a query and gets control back
// immediately, and a callback runs once the reply (or a timeout) is in
// hand. Unlike the original's libhv event-loop callback, this runs the
// blocking round trip on its own goroutine — Go has no analogous
// single-threaded async I/O primitive, so a goroutine is the idiomatic
// stand-in.
type AsyncClient struct {
	*Client
}

// NewAsync wraps an existing Client for async-style queries.
func NewAsync(c *Client) *AsyncClient {
	return &AsyncClient{Client: c}
}

// QueryA submits an A-record lookup and invokes cb with the result once
// it's available. cb runs on a goroutine other than the caller's.
func (a *AsyncClient) QueryA(ctx context.Context, name string, cb func(Result)) {
	go func() {
		addrs, err := a.Client.LookupA(ctx, name)
		cb(Result{Addrs: addrs, Err: err})
	}()
}

// QueryAAAA submits an AAAA-record lookup and invokes cb with the
// result once it's available.
func (a *AsyncClient) QueryAAAA(ctx context.Context, name string, cb func(Result)) {
	go func() {
		addrs, err := a.Client.LookupAAAA(ctx, name)
		cb(Result{Addrs: addrs, Err: err})
	}()
}
