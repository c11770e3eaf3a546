// ABOUTME: The session actor: connection lifecycle, frame loop, correlation.
// ABOUTME: All mutable session state lives here, on a single goroutine.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/2389/coven-node/internal/capability"
	"github.com/2389/coven-node/internal/protocol"
	"github.com/2389/coven-node/internal/transport"
	"github.com/2389/coven-node/internal/trust"
)

// Actor mailbox commands.
type (
	connectCmd struct {
		endpoint transport.Endpoint
		reply    chan error
	}
	invokeCmd struct {
		req   protocol.InvokeRequest
		class RequestClass
		reply chan invokeResult
	}
	emitCmd struct {
		event protocol.Event
		reply chan error
	}
	subscribeCmd struct {
		reply chan *subscriber
	}
	unsubscribeCmd struct {
		id int
	}
	helloQueryCmd struct {
		reply chan *protocol.HelloOk
	}
	// timeoutCmd settles a pending request whose deadline expired.
	timeoutCmd struct {
		id string
	}
	// authenticatingCmd reports that the handshake goroutine finished the
	// dial and is exchanging auth frames.
	authenticatingCmd struct{}
	// handlerDoneCmd carries a finished invoke handler's response frame.
	handlerDoneCmd struct {
		resp protocol.InvokeResponse
	}
)

type invokeResult struct {
	payload json.RawMessage
	err     error
}

type pendingRequest struct {
	reply       chan invokeResult
	submittedAt time.Time
	timer       *time.Timer
}

type subscriber struct {
	id int
	ch chan Notification
}

// inbound is one reader-loop result: a frame or a fatal transport error.
type inbound struct {
	frame protocol.Frame
	err   error
}

// actorState is the run goroutine's exclusively owned state.
type actorState struct {
	endpoint    transport.Endpoint
	pending     map[string]*pendingRequest
	subscribers map[int]*subscriber
	nextSubID   int
	lastHello   *protocol.HelloOk
	lastSeen    time.Time
}

type serveOutcome int

const (
	outcomeConnLost serveOutcome = iota
	outcomeClosed
)

func (s *Session) run() {
	st := &actorState{
		pending:     make(map[string]*pendingRequest),
		subscribers: make(map[int]*subscriber),
	}

	endpoint, started := s.awaitConnect(st)
	if !started {
		s.shutdown(st, nil)
		return
	}
	st.endpoint = endpoint

	s.lifecycle(st)
}

// awaitConnect services the mailbox until Connect or Close.
func (s *Session) awaitConnect(st *actorState) (transport.Endpoint, bool) {
	for {
		select {
		case cmd := <-s.cmds:
			if c, ok := cmd.(connectCmd); ok {
				c.reply <- nil
				return c.endpoint, true
			}
			s.handleIdleCmd(st, cmd)
		case <-s.closing:
			return transport.Endpoint{}, false
		}
	}
}

// lifecycle drives connect attempts and serves established connections until
// close or a terminal handshake failure.
func (s *Session) lifecycle(st *actorState) {
	attempt := 0

	s.transition(st, StateConnecting)
	for {
		conn, hello, err, closed := s.connectAttempt(st)
		if closed {
			s.shutdown(st, nil)
			return
		}
		if err != nil {
			if terminal(err) {
				s.logger.Error("handshake failed terminally", "endpoint", st.endpoint.Key(), "error", err)
				s.shutdown(st, err)
				return
			}
			s.logger.Warn("connect attempt failed",
				"endpoint", st.endpoint.Key(),
				"attempt", attempt,
				"error", err,
			)
			s.transition(st, StateReconnecting)
			if !s.backoffWait(st, attempt) {
				s.shutdown(st, nil)
				return
			}
			attempt++
			continue
		}

		attempt = 0
		st.lastHello = hello
		st.lastSeen = time.Now()
		s.storeDeviceToken(hello)
		s.transition(st, StateConnected)
		s.logger.Info("session established",
			"endpoint", st.endpoint.Key(),
			"features", hello.Features,
		)

		if s.serve(st, conn) == outcomeClosed {
			s.shutdown(st, nil)
			return
		}

		// Transport loss: settle everything in flight, then retry with a
		// full handshake. No partial resume.
		s.settleAll(st, ErrSessionClosed)
		s.transition(st, StateReconnecting)
		if !s.backoffWait(st, 0) {
			s.shutdown(st, nil)
			return
		}
		attempt = 1
	}
}

// connectAttempt runs one dial+handshake while keeping the mailbox serviced.
// The boolean result reports that Close preempted the attempt.
func (s *Session) connectAttempt(st *actorState) (transport.Conn, *protocol.HelloOk, error, bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type hsResult struct {
		conn  transport.Conn
		hello *protocol.HelloOk
		err   error
	}
	resCh := make(chan hsResult, 1)
	go func() {
		conn, hello, err := s.handshake(ctx, st.endpoint)
		resCh <- hsResult{conn: conn, hello: hello, err: err}
	}()

	for {
		select {
		case res := <-resCh:
			return res.conn, res.hello, res.err, false
		case cmd := <-s.cmds:
			if _, ok := cmd.(authenticatingCmd); ok {
				s.transition(st, StateAuthenticating)
				continue
			}
			s.handleIdleCmd(st, cmd)
		case <-s.closing:
			cancel()
			res := <-resCh
			if res.conn != nil {
				res.conn.Close()
			}
			return nil, nil, nil, true
		}
	}
}

// handshake performs dial, challenge signing and hello exchange.
func (s *Session) handshake(parent context.Context, endpoint transport.Endpoint) (transport.Conn, *protocol.HelloOk, error) {
	ctx, cancel := context.WithTimeout(parent, s.opts.HandshakeTimeout)
	defer cancel()

	conn, err := s.opts.Dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, nil, err
	}

	// Dial landed; the actor publishes Authenticating for the auth exchange.
	select {
	case s.cmds <- authenticatingCmd{}:
	case <-s.closing:
	case <-s.done:
	}

	fail := func(err error) (transport.Conn, *protocol.HelloOk, error) {
		conn.Close()
		return nil, nil, err
	}

	// The server speaks first: challenge precedes auth.
	challenge, err := s.readChallenge(ctx, conn)
	if err != nil {
		return fail(err)
	}

	signedAt := time.Now()
	signature, err := s.opts.Identity.Sign(challenge.Nonce, signedAt)
	if err != nil {
		return fail(err)
	}

	var commands []string
	if s.opts.Router != nil {
		commands = s.opts.Router.Commands()
	}
	connect := protocol.ConnectRequest{
		Role: string(s.opts.Role),
		Device: protocol.DeviceAuth{
			ID:        s.opts.Identity.DeviceID(),
			PublicKey: s.opts.Identity.PublicKeyLine(),
			Signature: signature,
			SignedAt:  signedAt.Unix(),
		},
		Platform: s.opts.Platform,
		Commands: commands,
		Caps:     s.opts.Caps,
	}
	if err := conn.Write(ctx, connect); err != nil {
		return fail(err)
	}

	hello, err := s.readHelloOk(ctx, conn)
	if err != nil {
		return fail(err)
	}
	return conn, hello, nil
}

// readChallenge reads frames until the auth challenge arrives. Keepalives
// and unknown frame types are skipped; malformed frames are dropped with a
// diagnostic.
func (s *Session) readChallenge(ctx context.Context, conn transport.Conn) (*protocol.Challenge, error) {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			var malformed *protocol.MalformedFrameError
			if errors.As(err, &malformed) {
				s.logger.Warn("dropping malformed frame during handshake", "error", err)
				continue
			}
			return nil, err
		}
		switch f := frame.(type) {
		case protocol.Challenge:
			return &f, nil
		case protocol.Tick, protocol.Unknown:
			continue
		case protocol.Shutdown:
			return nil, authRejected(f.Reason)
		default:
			s.logger.Warn("unexpected frame before challenge", "frame_type", frame.FrameType())
		}
	}
}

// readHelloOk reads frames until hello-ok. A shutdown here means the gateway
// refused the handshake, which is terminal.
func (s *Session) readHelloOk(ctx context.Context, conn transport.Conn) (*protocol.HelloOk, error) {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			var malformed *protocol.MalformedFrameError
			if errors.As(err, &malformed) {
				s.logger.Warn("dropping malformed frame during handshake", "error", err)
				continue
			}
			return nil, err
		}
		switch f := frame.(type) {
		case protocol.HelloOk:
			return &f, nil
		case protocol.Tick, protocol.Unknown:
			continue
		case protocol.Shutdown:
			return nil, authRejected(f.Reason)
		default:
			s.logger.Warn("unexpected frame before hello-ok", "frame_type", frame.FrameType())
		}
	}
}

func authRejected(reason string) error {
	if reason == "" {
		return ErrAuthRejected
	}
	return &authRejectedError{reason: reason}
}

type authRejectedError struct {
	reason string
}

func (e *authRejectedError) Error() string {
	return ErrAuthRejected.Error() + ": " + e.reason
}

func (e *authRejectedError) Unwrap() error {
	return ErrAuthRejected
}

// terminal reports whether a handshake failure must not be retried.
func terminal(err error) bool {
	return errors.Is(err, ErrAuthRejected) ||
		errors.Is(err, trust.ErrMismatch) ||
		errors.Is(err, trust.ErrPending) ||
		errors.Is(err, trust.ErrRejected) ||
		errors.Is(err, transport.ErrDiscoveryFingerprintMismatch)
}

// serve runs the connected phase: one reader goroutine feeds frames into the
// actor, which interleaves them with mailbox commands. Invoke handlers run
// on their own goroutines so slow hardware work never blocks frame receipt.
func (s *Session) serve(st *actorState, conn transport.Conn) serveOutcome {
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan inbound, 16)
	go s.readLoop(connCtx, conn, frames)

	for {
		select {
		case cmd := <-s.cmds:
			if outcome, done := s.handleConnectedCmd(st, conn, cmd); done {
				return outcome
			}

		case in := <-frames:
			if in.err != nil {
				s.logger.Warn("transport closed", "endpoint", st.endpoint.Key(), "error", in.err)
				conn.Close()
				return outcomeConnLost
			}
			if outcome, done := s.handleFrame(st, conn, connCtx, in.frame); done {
				return outcome
			}

		case <-s.closing:
			// Explicit close: settle pending, signal handler cancellation,
			// and return without waiting for handlers to abort downstream.
			s.settleAll(st, ErrSessionClosed)
			cancel()
			conn.Close()
			return outcomeClosed
		}
	}
}

// readLoop reads frames off the transport. Malformed frames are dropped with
// a diagnostic and do not close the session; any other read error is fatal
// to the connection.
func (s *Session) readLoop(ctx context.Context, conn transport.Conn, frames chan<- inbound) {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			var malformed *protocol.MalformedFrameError
			if errors.As(err, &malformed) {
				s.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			select {
			case frames <- inbound{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case frames <- inbound{frame: frame}:
		case <-ctx.Done():
			return
		}
	}
}

// handleConnectedCmd processes one mailbox command while connected.
func (s *Session) handleConnectedCmd(st *actorState, conn transport.Conn, cmd any) (serveOutcome, bool) {
	switch c := cmd.(type) {
	case invokeCmd:
		s.startPending(st, c)
		if err := s.write(conn, c.req); err != nil {
			s.logger.Warn("write failed", "endpoint", st.endpoint.Key(), "error", err)
			s.settleAll(st, ErrSessionClosed)
			conn.Close()
			return outcomeConnLost, true
		}

	case emitCmd:
		if err := s.write(conn, c.event); err != nil {
			c.reply <- err
			s.settleAll(st, ErrSessionClosed)
			conn.Close()
			return outcomeConnLost, true
		}
		c.reply <- nil

	case handlerDoneCmd:
		if err := s.write(conn, c.resp); err != nil {
			s.logger.Warn("write failed", "endpoint", st.endpoint.Key(), "error", err)
			s.guard.Forget(c.resp.ID)
			s.settleAll(st, ErrSessionClosed)
			conn.Close()
			return outcomeConnLost, true
		}

	case timeoutCmd:
		if pw, ok := st.pending[c.id]; ok {
			delete(st.pending, c.id)
			pw.reply <- invokeResult{err: ErrRequestTimeout}
			s.logger.Warn("request timed out", "request_id", c.id)
		}

	case connectCmd:
		c.reply <- ErrAlreadyStarted

	case subscribeCmd:
		s.addSubscriber(st, c)

	case unsubscribeCmd:
		s.removeSubscriber(st, c.id)

	case helloQueryCmd:
		c.reply <- st.lastHello

	case authenticatingCmd:
		// Stale signal from an attempt that already completed.
	}
	return 0, false
}

// handleFrame processes one inbound frame while connected.
func (s *Session) handleFrame(st *actorState, conn transport.Conn, connCtx context.Context, frame protocol.Frame) (serveOutcome, bool) {
	st.lastSeen = time.Now()

	switch f := frame.(type) {
	case protocol.InvokeRequest:
		s.dispatchInvoke(st, connCtx, f)

	case protocol.InvokeResponse:
		pw, ok := st.pending[f.ID]
		if !ok {
			// Late or unknown response: already settled by timeout or close.
			s.logger.Warn("response for unknown request", "request_id", f.ID)
			return 0, false
		}
		delete(st.pending, f.ID)
		pw.timer.Stop()
		if f.OK {
			pw.reply <- invokeResult{payload: f.Payload}
		} else {
			pw.reply <- invokeResult{err: &RequestError{ID: f.ID, Message: f.Error}}
		}

	case protocol.Event:
		s.broadcast(st, Notification{Role: s.opts.Role, Kind: KindServerEvent, Event: &f})

	case protocol.VoiceWakeChanged:
		// Surfaced to subscribers as a named event so UI layers can adapt it.
		ev := voiceWakeEvent(f)
		s.broadcast(st, Notification{Role: s.opts.Role, Kind: KindServerEvent, Event: &ev})

	case protocol.Tick:
		// Keepalive: last-seen already updated, no other side effect.

	case protocol.Shutdown:
		s.logger.Info("gateway shutting down connection", "reason", f.Reason)
		conn.Close()
		return outcomeConnLost, true

	case protocol.Unknown:
		s.logger.Debug("ignoring unknown frame type", "frame_type", f.Type)

	default:
		s.logger.Debug("ignoring unexpected frame", "frame_type", frame.FrameType())
	}
	return 0, false
}

// dispatchInvoke runs the capability handler on its own goroutine and routes
// the finished response back through the mailbox. Redelivered invoke ids
// (gateway retries after reconnect) are dropped.
func (s *Session) dispatchInvoke(st *actorState, connCtx context.Context, req protocol.InvokeRequest) {
	if s.guard.Remember(req.ID) {
		s.logger.Debug("duplicate invoke dropped", "invoke_id", req.ID, "command", req.Command)
		return
	}

	if s.opts.Router == nil {
		resp := protocol.InvokeResponse{
			ID:    req.ID,
			OK:    false,
			Error: string(capability.CodeUnknownCommand),
		}
		// Off the actor goroutine: completeInvoke sends into the actor's own
		// mailbox, and a self-send can deadlock when the mailbox is full.
		go s.completeInvoke(connCtx, resp)
		return
	}

	go func() {
		resp := s.opts.Router.Dispatch(connCtx, req)
		s.completeInvoke(connCtx, resp)
	}()
}

// completeInvoke enqueues a handler response for writing. If the connection
// is gone by then, the response is dropped and the invoke id unmarked so the
// gateway's redelivery after reconnect is dispatched again.
func (s *Session) completeInvoke(connCtx context.Context, resp protocol.InvokeResponse) {
	select {
	case s.cmds <- handlerDoneCmd{resp: resp}:
	case <-connCtx.Done():
		s.guard.Forget(resp.ID)
	case <-s.closing:
		s.guard.Forget(resp.ID)
	case <-s.done:
		s.guard.Forget(resp.ID)
	}
}

// startPending registers an outbound request and arms its deadline.
func (s *Session) startPending(st *actorState, c invokeCmd) {
	id := c.req.ID
	deadline := s.opts.Timeouts.For(c.class)
	pw := &pendingRequest{
		reply:       c.reply,
		submittedAt: time.Now(),
	}
	pw.timer = time.AfterFunc(deadline, func() {
		select {
		case s.cmds <- timeoutCmd{id: id}:
		case <-s.done:
		}
	})
	st.pending[id] = pw
}

// settleAll settles every pending request with the given error. Exactly one
// settlement per request: entries are removed before their reply fires, so a
// late response or timer finds nothing.
func (s *Session) settleAll(st *actorState, err error) {
	for id, pw := range st.pending {
		delete(st.pending, id)
		pw.timer.Stop()
		pw.reply <- invokeResult{err: err}
	}
}

// handleIdleCmd services mailbox commands while no connection is available.
func (s *Session) handleIdleCmd(st *actorState, cmd any) {
	switch c := cmd.(type) {
	case connectCmd:
		c.reply <- ErrAlreadyStarted
	case invokeCmd:
		c.reply <- invokeResult{err: ErrNotConnected}
	case emitCmd:
		c.reply <- ErrNotConnected
	case subscribeCmd:
		s.addSubscriber(st, c)
	case unsubscribeCmd:
		s.removeSubscriber(st, c.id)
	case helloQueryCmd:
		c.reply <- st.lastHello
	case handlerDoneCmd:
		// The connection died under a running handler. Unmark the invoke id
		// so the gateway's redelivery is dispatched instead of swallowed.
		s.guard.Forget(c.resp.ID)
		s.logger.Debug("dropping handler response, connection gone", "invoke_id", c.resp.ID)
	case timeoutCmd:
		// Stale timer from a settled request.
	case authenticatingCmd:
		// Stale signal from an abandoned connect attempt.
	}
}

// backoffWait sleeps the backoff delay while servicing the mailbox.
// Returns false when Close preempted the wait.
func (s *Session) backoffWait(st *actorState, attempt int) bool {
	delay := s.opts.Backoff.Delay(attempt)
	s.logger.Debug("reconnect backoff", "attempt", attempt, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case cmd := <-s.cmds:
			s.handleIdleCmd(st, cmd)
		case <-s.closing:
			return false
		}
	}
}

// transition publishes a state change and notifies subscribers.
func (s *Session) transition(st *actorState, to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Debug("state transition", "from", from.String(), "to", to.String())
	s.broadcast(st, Notification{Role: s.opts.Role, Kind: KindStateChange, State: to})
}

// shutdown is the single terminal path.
func (s *Session) shutdown(st *actorState, terminalErr error) {
	s.settleAll(st, ErrSessionClosed)
	if terminalErr != nil {
		s.terminalErr.Store(terminalErr)
	}
	s.transition(st, StateClosed)
	for id, sub := range st.subscribers {
		delete(st.subscribers, id)
		close(sub.ch)
	}
	s.guard.Close()
	close(s.done)
}

func (s *Session) addSubscriber(st *actorState, c subscribeCmd) {
	sub := &subscriber{
		id: st.nextSubID,
		ch: make(chan Notification, 16),
	}
	st.nextSubID++
	st.subscribers[sub.id] = sub
	c.reply <- sub
}

func (s *Session) removeSubscriber(st *actorState, id int) {
	if sub, ok := st.subscribers[id]; ok {
		delete(st.subscribers, id)
		close(sub.ch)
	}
}

// broadcast delivers a notification to all subscribers without blocking.
// A subscriber that cannot keep up loses notifications, never the session.
func (s *Session) broadcast(st *actorState, n Notification) {
	for _, sub := range st.subscribers {
		select {
		case sub.ch <- n:
		default:
			s.logger.Warn("subscriber channel full, dropping notification", "subscriber", sub.id)
		}
	}
}

// write sends one frame with the configured write timeout.
func (s *Session) write(conn transport.Conn, f protocol.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, f)
}

func voiceWakeEvent(f protocol.VoiceWakeChanged) protocol.Event {
	payload, err := protocol.Encode(f)
	if err != nil {
		payload = []byte("{}")
	}
	return protocol.Event{Name: "voicewake.changed", Payload: payload}
}
