// ABOUTME: Dual-connection coordinator: independent node and operator sessions.
// ABOUTME: Shares one identity and trust store; derives combined connectivity.

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-node/internal/capability"
	"github.com/2389/coven-node/internal/identity"
	"github.com/2389/coven-node/internal/keyvault"
	"github.com/2389/coven-node/internal/session"
	"github.com/2389/coven-node/internal/transport"
)

// ErrNoEndpoints indicates the resolver produced no candidates.
var ErrNoEndpoints = errors.New("no gateway endpoints available")

// Connectivity is the combined signal across both sessions. It is computed
// from the two live session states on every call, never cached, so it cannot
// drift from the underlying lifecycles.
type Connectivity int

const (
	// Offline: neither session is connected.
	Offline Connectivity = iota
	// Degraded: exactly one session is connected.
	Degraded
	// Full: both sessions are connected.
	Full
)

func (c Connectivity) String() string {
	switch c {
	case Full:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// Resolver supplies candidate gateway endpoints. Discovery (mDNS, manual
// entry, config) lives outside the core; the coordinator only consumes it.
type Resolver interface {
	Resolve(ctx context.Context) ([]transport.Endpoint, error)
}

// StaticResolver returns a fixed endpoint list, typically from config.
type StaticResolver []transport.Endpoint

// Resolve implements Resolver.
func (r StaticResolver) Resolve(context.Context) ([]transport.Endpoint, error) {
	if len(r) == 0 {
		return nil, ErrNoEndpoints
	}
	return r, nil
}

// Options configures a Coordinator.
type Options struct {
	Platform string
	Caps     []string

	Identity *identity.Identity
	Dialer   transport.Dialer
	Vault    keyvault.Vault
	Resolver Resolver

	// Router serves invokes on the node session. The operator session never
	// gets a router: hardware-bound work stays off the chat channel.
	Router *capability.Router

	Backoff  session.BackoffConfig
	Timeouts session.TimeoutConfig

	Logger *slog.Logger
}

// Coordinator owns the two gateway sessions. Each has an independent
// lifecycle: a reconnect or a blocking hardware prompt on the node session
// never delays traffic on the operator session.
type Coordinator struct {
	node     *session.Session
	operator *session.Session
	resolver Resolver
	logger   *slog.Logger

	events    chan session.Notification
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates the two sessions. They share the identity, trust store (via
// the dialer) and vault, but nothing mutable.
func New(opts Options) (*Coordinator, error) {
	if opts.Resolver == nil {
		return nil, errors.New("coordinator requires a resolver")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "coordinator")

	nodeSess, err := session.New(session.Options{
		Role:     session.RoleNode,
		Platform: opts.Platform,
		Caps:     opts.Caps,
		Identity: opts.Identity,
		Dialer:   opts.Dialer,
		Router:   opts.Router,
		Vault:    opts.Vault,
		Backoff:  opts.Backoff,
		Timeouts: opts.Timeouts,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating node session: %w", err)
	}

	operatorSess, err := session.New(session.Options{
		Role:     session.RoleOperator,
		Platform: opts.Platform,
		Identity: opts.Identity,
		Dialer:   opts.Dialer,
		Vault:    opts.Vault,
		Backoff:  opts.Backoff,
		Timeouts: opts.Timeouts,
		Logger:   opts.Logger,
	})
	if err != nil {
		nodeSess.Close()
		return nil, fmt.Errorf("creating operator session: %w", err)
	}

	return &Coordinator{
		node:     nodeSess,
		operator: operatorSess,
		resolver: opts.Resolver,
		logger:   logger,
		events:   make(chan session.Notification, 64),
		stop:     make(chan struct{}),
	}, nil
}

// Start resolves an endpoint and connects both sessions. The first resolved
// endpoint is used; re-resolution happens on the next Start after a Close,
// since discovery results are short-lived and replaced wholesale.
func (c *Coordinator) Start(ctx context.Context) error {
	endpoints, err := c.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving gateway endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return ErrNoEndpoints
	}
	endpoint := endpoints[0]
	c.logger.Info("connecting to gateway",
		"endpoint", endpoint.Key(),
		"candidates", len(endpoints),
	)

	for _, sess := range []*session.Session{c.node, c.operator} {
		ch, cancel := sess.Subscribe()
		c.wg.Add(1)
		go c.forward(ch, cancel)

		if err := sess.Connect(endpoint); err != nil {
			return fmt.Errorf("starting %s session: %w", sess.Role(), err)
		}
	}
	return nil
}

// forward merges one session's notifications into the combined stream.
func (c *Coordinator) forward(ch <-chan session.Notification, cancel func()) {
	defer c.wg.Done()
	defer cancel()
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			select {
			case c.events <- n:
			case <-c.stop:
				return
			default:
				// Combined stream saturated: drop rather than stall a session.
			}
		case <-c.stop:
			return
		}
	}
}

// Events is the combined notification stream for both sessions, tagged by
// role. UI layers subscribe here for connectivity and server events.
func (c *Coordinator) Events() <-chan session.Notification {
	return c.events
}

// Node returns the node-role session.
func (c *Coordinator) Node() *session.Session {
	return c.node
}

// Operator returns the operator-role session.
func (c *Coordinator) Operator() *session.Session {
	return c.operator
}

// Connectivity computes the combined signal from the two live states.
func (c *Coordinator) Connectivity() Connectivity {
	connected := 0
	if c.node.State() == session.StateConnected {
		connected++
	}
	if c.operator.State() == session.StateConnected {
		connected++
	}
	switch connected {
	case 2:
		return Full
	case 1:
		return Degraded
	default:
		return Offline
	}
}

// Close terminates both sessions and the combined stream. Idempotent.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.node.Close()
		c.operator.Close()
		close(c.stop)
		c.wg.Wait()
		close(c.events)
	})
	return nil
}
