// ABOUTME: Tests for trust-on-first-use pinning semantics.
// ABOUTME: Mismatches fail closed; only explicit approval replaces a pin.

package trust

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-node/internal/keyvault"
)

const (
	endpointA = "gateway.local:443"
	fpOne     = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	fpTwo     = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestFirstUsePins(t *testing.T) {
	ctx := context.Background()
	store := NewStore(keyvault.NewMemoryVault(), false)

	outcome, err := store.Verify(ctx, endpointA, fpOne)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFirstUse, outcome)

	rec, err := store.Get(ctx, endpointA)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatePinned, rec.State)
	assert.Equal(t, fpOne, rec.Fingerprint)
	assert.False(t, rec.FirstSeenAt.IsZero())
}

func TestMatchingFingerprintTrusted(t *testing.T) {
	ctx := context.Background()
	store := NewStore(keyvault.NewMemoryVault(), false)

	_, err := store.Verify(ctx, endpointA, fpOne)
	require.NoError(t, err)

	outcome, err := store.Verify(ctx, endpointA, fpOne)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrusted, outcome)
}

func TestMismatchFailsClosedAndKeepsPin(t *testing.T) {
	ctx := context.Background()
	store := NewStore(keyvault.NewMemoryVault(), false)

	_, err := store.Verify(ctx, endpointA, fpOne)
	require.NoError(t, err)

	outcome, err := store.Verify(ctx, endpointA, fpTwo)
	assert.Equal(t, OutcomeRefused, outcome)
	assert.ErrorIs(t, err, ErrMismatch)

	// The original pin must survive the mismatch untouched.
	rec, err := store.Get(ctx, endpointA)
	require.NoError(t, err)
	assert.Equal(t, fpOne, rec.Fingerprint)
	assert.Equal(t, StatePinned, rec.State)

	// And the original certificate still works.
	outcome, err = store.Verify(ctx, endpointA, fpOne)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrusted, outcome)
}

func TestFingerprintComparisonCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := NewStore(keyvault.NewMemoryVault(), false)

	_, err := store.Verify(ctx, endpointA, "ABCDEF0123")
	require.NoError(t, err)

	outcome, err := store.Verify(ctx, endpointA, "abcdef0123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrusted, outcome)
}

func TestApproveReplacesPin(t *testing.T) {
	ctx := context.Background()
	store := NewStore(keyvault.NewMemoryVault(), false)

	_, err := store.Verify(ctx, endpointA, fpOne)
	require.NoError(t, err)
	_, err = store.Verify(ctx, endpointA, fpTwo)
	require.ErrorIs(t, err, ErrMismatch)

	require.NoError(t, store.Approve(ctx, endpointA, fpTwo))

	outcome, err := store.Verify(ctx, endpointA, fpTwo)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrusted, outcome)

	// The old fingerprint is now the mismatch.
	_, err = store.Verify(ctx, endpointA, fpOne)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestRejectFailsClosedUntilApprove(t *testing.T) {
	ctx := context.Background()
	store := NewStore(keyvault.NewMemoryVault(), false)

	require.NoError(t, store.Reject(ctx, endpointA))

	outcome, err := store.Verify(ctx, endpointA, fpOne)
	assert.Equal(t, OutcomeRefused, outcome)
	assert.ErrorIs(t, err, ErrRejected)

	// Rejection is sticky across any fingerprint.
	_, err = store.Verify(ctx, endpointA, fpTwo)
	assert.ErrorIs(t, err, ErrRejected)

	// Approve is the only way out.
	require.NoError(t, store.Approve(ctx, endpointA, fpOne))
	outcome, err = store.Verify(ctx, endpointA, fpOne)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrusted, outcome)
}

func TestRequireConfirmationStagesPin(t *testing.T) {
	ctx := context.Background()
	store := NewStore(keyvault.NewMemoryVault(), true)

	outcome, err := store.Verify(ctx, endpointA, fpOne)
	assert.Equal(t, OutcomeRefused, outcome)
	assert.ErrorIs(t, err, ErrPending)

	rec, err := store.Get(ctx, endpointA)
	require.NoError(t, err)
	assert.Equal(t, StatePending, rec.State)

	// Still pending on retry, even with a different certificate.
	_, err = store.Verify(ctx, endpointA, fpTwo)
	assert.ErrorIs(t, err, ErrPending)

	// The staged fingerprint must not have been replaced.
	rec, err = store.Get(ctx, endpointA)
	require.NoError(t, err)
	assert.Equal(t, fpOne, rec.Fingerprint)

	require.NoError(t, store.Approve(ctx, endpointA, fpOne))
	outcome, err = store.Verify(ctx, endpointA, fpOne)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrusted, outcome)
}

func TestGetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := NewStore(keyvault.NewMemoryVault(), false)

	rec, err := store.Get(ctx, "unseen:443")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListReturnsAllRecords(t *testing.T) {
	ctx := context.Background()
	store := NewStore(keyvault.NewMemoryVault(), false)

	_, err := store.Verify(ctx, "gw-a:443", fpOne)
	require.NoError(t, err)
	_, err = store.Verify(ctx, "gw-b:443", fpTwo)
	require.NoError(t, err)
	require.NoError(t, store.Reject(ctx, "gw-c:443"))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	byKey := make(map[string]State, len(records))
	for _, rec := range records {
		byKey[rec.EndpointKey] = rec.State
	}
	assert.Equal(t, StatePinned, byKey["gw-a:443"])
	assert.Equal(t, StatePinned, byKey["gw-b:443"])
	assert.Equal(t, StateRejected, byKey["gw-c:443"])
}
