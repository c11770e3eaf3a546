// ABOUTME: Trust-on-first-use pinning of gateway certificate fingerprints.
// ABOUTME: One record per endpoint; mismatches fail closed until explicit re-approval.

package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-node/internal/keyvault"
)

// Vault key prefix for trust records.
const recordPrefix = "trust/"

// Trust errors. All three fail the connection closed; recovery requires an
// explicit user action (Approve or Reject), never implicit protocol behavior.
var (
	ErrMismatch = errors.New("certificate fingerprint does not match pinned record")
	ErrPending  = errors.New("endpoint trust awaiting user confirmation")
	ErrRejected = errors.New("endpoint trust was rejected")
)

// State of a trust record.
type State string

const (
	StatePinned   State = "pinned"
	StatePending  State = "pending"
	StateRejected State = "rejected"
)

// Record is the persisted pin for one endpoint.
type Record struct {
	EndpointKey string    `json:"endpoint_key"`
	Fingerprint string    `json:"fingerprint"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	State       State     `json:"state"`
}

// Outcome of a Verify call.
type Outcome int

const (
	// OutcomeTrusted means the observed fingerprint matches the pin.
	OutcomeTrusted Outcome = iota
	// OutcomeFirstUse means no pin existed; the fingerprint was pinned now.
	// Callers should surface a one-time notice to the user.
	OutcomeFirstUse
	// OutcomeRefused means the connection must be aborted. The returned
	// error is one of ErrMismatch, ErrPending or ErrRejected.
	OutcomeRefused
)

// Store pins one certificate fingerprint per endpoint. Reads are frequent
// (every connect); writes (new pin, approval) are serialized so no reader
// observes a half-written record.
type Store struct {
	vault keyvault.Vault

	// requireConfirmation controls first-use behavior: false pins
	// optimistically, true stages the pin and refuses traffic until Approve.
	requireConfirmation bool

	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a trust store persisting through the given vault.
func NewStore(vault keyvault.Vault, requireConfirmation bool) *Store {
	return &Store{
		vault:               vault,
		requireConfirmation: requireConfirmation,
		logger:              slog.Default().With("component", "trust"),
	}
}

// Verify checks the observed fingerprint against the pinned record for the
// endpoint. Fingerprints are compared case-insensitively (lowercase hex).
func (s *Store) Verify(ctx context.Context, endpointKey, fingerprint string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint = strings.ToLower(fingerprint)

	rec, err := s.load(ctx, endpointKey)
	if err != nil && !errors.Is(err, keyvault.ErrNotFound) {
		return OutcomeRefused, err
	}

	if rec == nil {
		state := StatePinned
		if s.requireConfirmation {
			state = StatePending
		}
		rec = &Record{
			EndpointKey: endpointKey,
			Fingerprint: fingerprint,
			FirstSeenAt: time.Now().UTC(),
			State:       state,
		}
		if err := s.save(ctx, rec); err != nil {
			return OutcomeRefused, err
		}

		if state == StatePending {
			s.logger.Warn("endpoint staged for trust confirmation",
				"endpoint", endpointKey,
				"fingerprint", fingerprint,
			)
			return OutcomeRefused, ErrPending
		}
		s.logger.Info("pinned endpoint on first use",
			"endpoint", endpointKey,
			"fingerprint", fingerprint,
		)
		return OutcomeFirstUse, nil
	}

	switch rec.State {
	case StateRejected:
		return OutcomeRefused, ErrRejected

	case StatePending:
		// The staged fingerprint is never updated implicitly, even if the
		// endpoint now presents a different certificate.
		return OutcomeRefused, ErrPending

	case StatePinned:
		if rec.Fingerprint == fingerprint {
			return OutcomeTrusted, nil
		}
		s.logger.Error("certificate fingerprint mismatch",
			"endpoint", endpointKey,
			"pinned", rec.Fingerprint,
			"observed", fingerprint,
		)
		return OutcomeRefused, ErrMismatch

	default:
		return OutcomeRefused, fmt.Errorf("trust record for %q has unknown state %q", endpointKey, rec.State)
	}
}

// Approve pins the given fingerprint for the endpoint, overwriting any
// existing record. This is the only path that replaces a pin or clears a
// rejection, and it must be driven by an explicit user action.
func (s *Store) Approve(ctx context.Context, endpointKey, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		EndpointKey: endpointKey,
		Fingerprint: strings.ToLower(fingerprint),
		FirstSeenAt: time.Now().UTC(),
		State:       StatePinned,
	}
	if err := s.save(ctx, rec); err != nil {
		return err
	}
	s.logger.Info("endpoint trust approved", "endpoint", endpointKey, "fingerprint", rec.Fingerprint)
	return nil
}

// Reject marks the endpoint as rejected. Connections to it fail closed until
// a later explicit Approve.
func (s *Store) Reject(ctx context.Context, endpointKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, endpointKey)
	if err != nil && !errors.Is(err, keyvault.ErrNotFound) {
		return err
	}
	if rec == nil {
		rec = &Record{EndpointKey: endpointKey, FirstSeenAt: time.Now().UTC()}
	}
	rec.State = StateRejected

	if err := s.save(ctx, rec); err != nil {
		return err
	}
	s.logger.Info("endpoint trust rejected", "endpoint", endpointKey)
	return nil
}

// Get returns the record for an endpoint, or nil if none exists.
func (s *Store) Get(ctx context.Context, endpointKey string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, endpointKey)
	if errors.Is(err, keyvault.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// List returns all trust records.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.vault.List(ctx, recordPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing trust records: %w", err)
	}

	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		rec, err := s.load(ctx, strings.TrimPrefix(key, recordPrefix))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) load(ctx context.Context, endpointKey string) (*Record, error) {
	data, err := s.vault.Get(ctx, recordPrefix+endpointKey)
	if err != nil {
		if errors.Is(err, keyvault.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading trust record for %q: %w", endpointKey, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding trust record for %q: %w", endpointKey, err)
	}
	return &rec, nil
}

func (s *Store) save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding trust record for %q: %w", rec.EndpointKey, err)
	}
	if err := s.vault.Put(ctx, recordPrefix+rec.EndpointKey, data); err != nil {
		return fmt.Errorf("saving trust record for %q: %w", rec.EndpointKey, err)
	}
	return nil
}
