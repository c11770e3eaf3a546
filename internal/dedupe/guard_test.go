// ABOUTME: Tests for the TTL-bounded duplicate guard.
// ABOUTME: Covers duplicate detection, expiry refresh and size eviction.

package dedupe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRememberDetectsDuplicates(t *testing.T) {
	g := NewGuard(time.Minute, 16)
	defer g.Close()

	assert.False(t, g.Remember("inv-1"), "first delivery is not a duplicate")
	assert.True(t, g.Remember("inv-1"), "second delivery is a duplicate")
	assert.False(t, g.Remember("inv-2"), "different keys are independent")
}

func TestRememberExpires(t *testing.T) {
	g := NewGuard(20*time.Millisecond, 16)
	defer g.Close()

	assert.False(t, g.Remember("inv-1"))
	time.Sleep(40 * time.Millisecond)

	// Expired: treated as fresh and remembered again.
	assert.False(t, g.Remember("inv-1"))
	assert.True(t, g.Remember("inv-1"))
}

func TestRememberEvictsOldestWhenFull(t *testing.T) {
	g := NewGuard(time.Minute, 3)
	defer g.Close()

	for i := 0; i < 3; i++ {
		assert.False(t, g.Remember(fmt.Sprintf("inv-%d", i)))
	}

	// A fourth key evicts the oldest.
	assert.False(t, g.Remember("inv-3"))
	assert.False(t, g.Remember("inv-0"), "evicted key is forgotten")

	// Recent keys are still tracked.
	assert.True(t, g.Remember("inv-3"))
}

func TestForgetAllowsRedelivery(t *testing.T) {
	g := NewGuard(time.Minute, 16)
	defer g.Close()

	assert.False(t, g.Remember("inv-1"))
	assert.True(t, g.Contains("inv-1"))

	g.Forget("inv-1")
	assert.False(t, g.Contains("inv-1"))
	assert.False(t, g.Remember("inv-1"), "forgotten key is fresh again")

	// Forgetting an untracked key is a no-op.
	g.Forget("never-seen")
}

func TestContains(t *testing.T) {
	g := NewGuard(20*time.Millisecond, 16)
	defer g.Close()

	assert.False(t, g.Contains("inv-1"))
	g.Remember("inv-1")
	assert.True(t, g.Contains("inv-1"))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, g.Contains("inv-1"), "expired keys are not contained")
}

func TestCloseIdempotent(t *testing.T) {
	g := NewGuard(time.Minute, 16)
	g.Close()
	g.Close()
}
