// ABOUTME: Transport abstraction: endpoints, dialers and frame connections.
// ABOUTME: The session depends on these interfaces, never on a concrete transport.

package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/2389/coven-node/internal/protocol"
)

// Endpoint is a candidate gateway address, produced by discovery or manual
// entry. Fingerprint, when set, is the SHA-256 hex fingerprint the discovery
// layer observed; the trust store still has the final say.
type Endpoint struct {
	Host        string
	Port        int
	Fingerprint string
}

// Key identifies the endpoint in the trust store.
func (e Endpoint) Key() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Key()
}

// Validate checks the endpoint is usable.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint host must not be empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint port %d out of range", e.Port)
	}
	return nil
}

// Conn is one duplex frame channel. Read and Write honor their contexts;
// Close is idempotent. Conn is not required to be safe for concurrent Writes
// — the session serializes them.
type Conn interface {
	Read(ctx context.Context) (protocol.Frame, error)
	Write(ctx context.Context, f protocol.Frame) error
	Close() error
}

// Dialer opens a connection to an endpoint, performing transport-level trust
// checks (certificate pinning) before returning.
type Dialer interface {
	Dial(ctx context.Context, endpoint Endpoint) (Conn, error)
}
