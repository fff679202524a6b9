package a2s

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout bounds a single query round trip.
const DefaultTimeout = 3 * time.Second

// maxDatagram is the largest UDP payload we accept.
const maxDatagram = 65536

// Client sends one A2S_INFO probe per Query call. It never retries: a
// missing reply is reported as ErrTimeout and the caller decides what to do.
type Client struct {
	timeout time.Duration
	dialer  net.Dialer
}

// NewClient creates a query client. A non-positive timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{timeout: timeout}
}

// Timeout returns the per-query timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Query probes addr ("host:port") and decodes the reply.
func (c *Client) Query(ctx context.Context, addr string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("a2s: dial %s: %w", addr, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("a2s: set deadline: %w", err)
		}
	}

	if _, err := conn.Write(Request); err != nil {
		return nil, fmt.Errorf("a2s: send to %s: %w", addr, err)
	}

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w (%s after %v)", ErrTimeout, addr, c.timeout)
		}
		return nil, fmt.Errorf("a2s: receive from %s: %w", addr, err)
	}

	return Parse(buf[:n])
}
