// Package session implements the gateway connection state machine.
//
// # Overview
//
// A Session owns one persistent duplex connection to the gateway: it dials,
// authenticates with the device identity, correlates outbound requests to
// responses, dispatches inbound invokes to the capability router, fans out
// server events to subscribers, and reconnects with bounded backoff after
// transport loss.
//
// # Lifecycle
//
// States and transitions:
//
//	Disconnected → Connecting → Authenticating → Connected
//	Connected → Reconnecting (transport loss or server shutdown)
//	any → Closed (explicit Close, or terminal handshake failure)
//
// Reconnecting retries the full handshake indefinitely — transient network
// loss is expected on a mobile device — with exponential backoff capped at
// a ceiling. Authentication rejection and trust failures are terminal: they
// require user intervention and are never retried automatically.
//
// # Actor Model
//
// All mutable state (the pending-request map, lifecycle state, subscribers,
// the last hello payload) is owned by a single run goroutine. The exported
// methods (Invoke, Emit, Subscribe, Close) pass messages into its mailbox
// and are safe to call concurrently from any goroutine; no caller ever
// holds a lock.
//
// # Request Correlation
//
// Invoke registers a pending request keyed by a fresh UUID, writes the
// invoke frame, and waits. Exactly one settlement occurs per request id:
//
//   - the matching invoke-result frame arrives, or
//   - the per-class deadline expires (ErrRequestTimeout), or
//   - the session closes (ErrSessionClosed).
//
// Entries are removed from the pending map before their reply fires, so a
// late response after settlement finds nothing and is dropped.
//
// # Invoke Dispatch
//
// Inbound invokes run on their own goroutines: a slow capability handler
// (hardware access, a permission prompt) never blocks receipt of further
// frames. Handler completions re-enter the actor through the mailbox to be
// written in order. Invoke ids redelivered by the gateway after a reconnect
// are dropped by a TTL guard.
//
// # Ordering
//
// Frames on one connection are processed in receipt order for state
// transitions — hello-ok is always observed before any invoke is
// dispatched — but handler completions may settle out of order relative to
// each other. Correlation is strictly by request id, never by position.
package session
