// ABOUTME: Gateway session: public API, options and lifecycle types.
// ABOUTME: One actor goroutine owns all mutable state; callers pass messages.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-node/internal/capability"
	"github.com/2389/coven-node/internal/dedupe"
	"github.com/2389/coven-node/internal/identity"
	"github.com/2389/coven-node/internal/keyvault"
	"github.com/2389/coven-node/internal/protocol"
	"github.com/2389/coven-node/internal/transport"
)

// Role is the logical purpose of a connection.
type Role string

const (
	// RoleNode is the capability invocation target.
	RoleNode Role = "node"
	// RoleOperator is the chat/config/event channel.
	RoleOperator Role = "operator"
)

// State of the session lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session errors.
var (
	// ErrSessionClosed settles pending requests when the session closes and
	// rejects calls on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotConnected rejects sends attempted outside the Connected state.
	ErrNotConnected = errors.New("session not connected")

	// ErrRequestTimeout settles a pending request whose deadline expired.
	// The session itself stays connected.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrAuthRejected is terminal: the gateway refused the handshake and
	// user intervention is required. The session does not auto-retry.
	ErrAuthRejected = errors.New("gateway rejected authentication")

	// ErrAlreadyStarted rejects a second Connect call.
	ErrAlreadyStarted = errors.New("session already started")
)

// RequestClass selects the deadline for an outbound request.
type RequestClass int

const (
	ClassInteractive RequestClass = iota
	ClassListing
	ClassAbort
)

// TimeoutConfig holds per-class request deadlines. Values are configuration,
// not protocol constants.
type TimeoutConfig struct {
	Interactive time.Duration
	Listing     time.Duration
	Abort       time.Duration
}

func (t TimeoutConfig) withDefaults() TimeoutConfig {
	if t.Interactive <= 0 {
		t.Interactive = 30 * time.Second
	}
	if t.Listing <= 0 {
		t.Listing = 15 * time.Second
	}
	if t.Abort <= 0 {
		t.Abort = 10 * time.Second
	}
	return t
}

// For returns the deadline for a request class.
func (t TimeoutConfig) For(class RequestClass) time.Duration {
	switch class {
	case ClassListing:
		return t.Listing
	case ClassAbort:
		return t.Abort
	default:
		return t.Interactive
	}
}

// NotificationKind distinguishes subscriber notifications.
type NotificationKind int

const (
	// KindStateChange reports a lifecycle transition.
	KindStateChange NotificationKind = iota
	// KindServerEvent carries an inbound server event frame.
	KindServerEvent
)

// Notification is delivered to event subscribers. Slow subscribers have
// notifications dropped rather than blocking the session.
type Notification struct {
	Role  Role
	Kind  NotificationKind
	State State
	Event *protocol.Event
}

// Options configures a Session.
type Options struct {
	Role     Role
	Platform string
	Caps     []string

	Identity *identity.Identity
	Dialer   transport.Dialer

	// Router dispatches inbound invokes. Optional: a session without a
	// router (typically the operator role) advertises no commands and
	// answers every invoke with UnknownCommand.
	Router *capability.Router

	// Vault, when set, persists the device token issued in hello-ok.
	Vault keyvault.Vault

	Backoff  BackoffConfig
	Timeouts TimeoutConfig

	// HandshakeTimeout bounds one dial+authenticate attempt. Default 10s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds one outbound frame write. Default 10s.
	WriteTimeout time.Duration

	// DedupeTTL/DedupeSize bound the invoke redelivery guard.
	// Defaults: 5m / 4096.
	DedupeTTL  time.Duration
	DedupeSize int

	Logger *slog.Logger
}

func (o Options) withDefaults() (Options, error) {
	if o.Role != RoleNode && o.Role != RoleOperator {
		return o, fmt.Errorf("invalid session role %q", o.Role)
	}
	if o.Identity == nil {
		return o, errors.New("session requires an identity")
	}
	if o.Dialer == nil {
		return o, errors.New("session requires a dialer")
	}
	if o.Platform == "" {
		o.Platform = "unknown"
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = 5 * time.Minute
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = 4096
	}
	o.Backoff = o.Backoff.withDefaults()
	o.Timeouts = o.Timeouts.withDefaults()
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "session", "role", string(o.Role))
	return o, nil
}

// Session is one gateway connection lifecycle. All mutable state (pending
// requests, current state, subscribers, last hello) is owned by the run
// goroutine; the exported methods are safe to call concurrently.
type Session struct {
	opts   Options
	logger *slog.Logger

	cmds    chan any
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once

	// state is the published snapshot, written only by the run goroutine.
	state atomic.Int32

	// terminalErr is set by the run goroutine before done is closed.
	terminalErr atomic.Value

	guard *dedupe.Guard
}

// New creates a session and starts its actor goroutine in the idle state.
// Call Connect to begin the connection lifecycle.
func New(opts Options) (*Session, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	s := &Session{
		opts:    opts,
		logger:  opts.Logger,
		cmds:    make(chan any, 32),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		guard:   dedupe.NewGuard(opts.DedupeTTL, opts.DedupeSize),
	}
	s.state.Store(int32(StateDisconnected))

	go s.run()
	return s, nil
}

// Role returns the session's role.
func (s *Session) Role() Role {
	return s.opts.Role
}

// State returns the current lifecycle state snapshot.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed when the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, if any, once Done is closed. A clean
// user-initiated close returns nil.
func (s *Session) Err() error {
	if v := s.terminalErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Connect starts the connection lifecycle against the given endpoint. The
// session dials, authenticates and then keeps itself connected, retrying
// with bounded backoff until Close. Connect itself returns once the
// lifecycle has started, not once the session is connected; observe state
// changes through Subscribe.
func (s *Session) Connect(endpoint transport.Endpoint) error {
	if err := endpoint.Validate(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := s.enqueue(connectCmd{endpoint: endpoint, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// Invoke sends a command to the gateway and waits for the matching response,
// the class deadline, or session close — whichever settles first. Exactly
// one settlement occurs per request.
func (s *Session) Invoke(ctx context.Context, command string, params json.RawMessage, class RequestClass) (json.RawMessage, error) {
	req := protocol.InvokeRequest{
		ID:      uuid.New().String(),
		Command: command,
		Params:  params,
	}
	reply := make(chan invokeResult, 1)
	if err := s.enqueueCtx(ctx, invokeCmd{req: req, class: class, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionClosed
	}
}

// Emit sends a fire-and-forget event frame to the gateway.
func (s *Session) Emit(ctx context.Context, name string, payload json.RawMessage) error {
	reply := make(chan error, 1)
	cmd := emitCmd{event: protocol.Event{Name: name, Payload: payload}, reply: reply}
	if err := s.enqueueCtx(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

// Subscribe registers for state changes and server events. The returned
// cancel function releases the subscription; the channel is closed when the
// session terminates or the subscription is cancelled.
func (s *Session) Subscribe() (<-chan Notification, func()) {
	reply := make(chan *subscriber, 1)
	if err := s.enqueue(subscribeCmd{reply: reply}); err != nil {
		ch := make(chan Notification)
		close(ch)
		return ch, func() {}
	}
	select {
	case sub := <-reply:
		cancel := func() {
			_ = s.enqueue(unsubscribeCmd{id: sub.id})
		}
		return sub.ch, cancel
	case <-s.done:
		ch := make(chan Notification)
		close(ch)
		return ch, func() {}
	}
}

// Hello returns the last hello-ok payload, or nil before first connect.
func (s *Session) Hello() *protocol.HelloOk {
	reply := make(chan *protocol.HelloOk, 1)
	if err := s.enqueue(helloQueryCmd{reply: reply}); err != nil {
		return nil
	}
	select {
	case h := <-reply:
		return h
	case <-s.done:
		return nil
	}
}

// Close terminates the session from any state. Pending requests settle with
// ErrSessionClosed and cancellation is signaled to running invoke handlers;
// Close does not wait for handlers to finish aborting. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
	<-s.done
	return nil
}

// enqueue places a command in the actor mailbox.
func (s *Session) enqueue(cmd any) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// enqueueCtx is enqueue with caller-context cancellation.
func (s *Session) enqueueCtx(ctx context.Context, cmd any) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}
