package fetch

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// timeoutConn arms a fresh deadline before every read and write, so a
// stalled transfer fails with a timeout instead of hanging. Absolute
// deadlines would cap total transfer time, which is wrong for large files.
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *timeoutConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *timeoutConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// newDialFunc returns a dial function that applies the idle timeout to
// every connection, optionally routed through a SOCKS5 proxy.
func newDialFunc(proxyAddr string, timeout time.Duration) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	base := &net.Dialer{Timeout: timeout}

	var dialer proxy.ContextDialer = base
	if proxyAddr != "" {
		socks, err := proxy.SOCKS5("tcp", proxyAddr, nil, base)
		if err != nil {
			return nil, err
		}
		// SOCKS5 dialers from x/net always implement ContextDialer.
		dialer = socks.(proxy.ContextDialer)
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &timeoutConn{Conn: conn, timeout: timeout}, nil
	}, nil
}
