// ABOUTME: Registry of capability command handlers and invoke dispatch.
// ABOUTME: Maps gateway invoke commands to handlers and wraps results into responses.

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/coven-node/internal/protocol"
)

// ErrDuplicateCommand indicates a handler is already registered for the command.
var ErrDuplicateCommand = errors.New("command already registered")

// Handler executes one capability command. Handlers may be slow (hardware
// access, permission prompts); the session runs each dispatch on its own
// goroutine and the context is cancelled when the session closes.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Router maps command names to registered handlers. Registration happens
// before connect; the registered set is what the session advertises, so an
// advertised command always has a handler by construction.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	policy   Policy
	logger   *slog.Logger
}

// NewRouter creates an empty router with the given invocation policy.
func NewRouter(policy Policy) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		policy:   policy,
		logger:   slog.Default().With("component", "capability"),
	}
}

// Register adds a handler for a command name.
// Returns ErrDuplicateCommand if one is already registered.
func (r *Router) Register(command string, handler Handler) error {
	if command == "" {
		return fmt.Errorf("command name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q must not be nil", command)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[command]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, command)
	}
	r.handlers[command] = handler
	return nil
}

// Commands returns the sorted list of registered command names that the
// policy permits. This is the set advertised in the connect request.
func (r *Router) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		if r.policy.Allows(name) {
			commands = append(commands, name)
		}
	}
	sort.Strings(commands)
	return commands
}

// Dispatch executes the invoke request and returns the response frame.
// Handler failures are categorized and carried in the response error field;
// they never surface as local errors. Unknown commands and policy denials
// are error responses too, not crashes.
func (r *Router) Dispatch(ctx context.Context, req protocol.InvokeRequest) protocol.InvokeResponse {
	r.mu.RLock()
	handler, ok := r.handlers[req.Command]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("invoke for unknown command", "command", req.Command, "invoke_id", req.ID)
		return errorResponse(req.ID, &HandlerError{Code: CodeUnknownCommand})
	}

	if !r.policy.Allows(req.Command) {
		r.logger.Warn("invoke denied by policy", "command", req.Command, "invoke_id", req.ID)
		return errorResponse(req.ID, &HandlerError{
			Code:    CodePermissionDenied,
			Message: "command not permitted by capability policy",
		})
	}

	payload, err := handler(ctx, req.Params)
	if err != nil {
		r.logger.Warn("capability handler failed",
			"command", req.Command,
			"invoke_id", req.ID,
			"error", err,
		)
		return errorResponse(req.ID, err)
	}

	return protocol.InvokeResponse{
		ID:      req.ID,
		OK:      true,
		Payload: payload,
	}
}

func errorResponse(id string, err error) protocol.InvokeResponse {
	return protocol.InvokeResponse{
		ID:    id,
		OK:    false,
		Error: ResponseError(err),
	}
}
