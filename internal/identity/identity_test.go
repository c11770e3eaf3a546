// ABOUTME: Tests for device identity: generation, persistence, stable ID, signing.
// ABOUTME: Signatures are verified against the advertised public key line.

package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/2389/coven-node/internal/keyvault"
)

func TestCreatePersistsBeforeUse(t *testing.T) {
	ctx := context.Background()
	vault := keyvault.NewMemoryVault()

	id, err := CreateOrLoad(ctx, vault)
	require.NoError(t, err)
	require.NotEmpty(t, id.DeviceID())

	// The keypair must be in the vault already, not only in memory.
	pemBytes, err := vault.Get(ctx, VaultKey)
	require.NoError(t, err)
	assert.NotEmpty(t, pemBytes)

	_, err = ssh.ParsePrivateKey(pemBytes)
	assert.NoError(t, err)
}

func TestReloadKeepsDeviceID(t *testing.T) {
	ctx := context.Background()
	vault := keyvault.NewMemoryVault()

	first, err := CreateOrLoad(ctx, vault)
	require.NoError(t, err)

	second, err := CreateOrLoad(ctx, vault)
	require.NoError(t, err)

	assert.Equal(t, first.DeviceID(), second.DeviceID())
	assert.Equal(t, first.PublicKeyLine(), second.PublicKeyLine())
}

func TestResetGeneratesNewIdentity(t *testing.T) {
	ctx := context.Background()
	vault := keyvault.NewMemoryVault()

	first, err := CreateOrLoad(ctx, vault)
	require.NoError(t, err)

	require.NoError(t, Reset(ctx, vault))

	second, err := CreateOrLoad(ctx, vault)
	require.NoError(t, err)

	assert.NotEqual(t, first.DeviceID(), second.DeviceID())
}

func TestDeviceIDIsPublicKeyFingerprint(t *testing.T) {
	ctx := context.Background()
	id, err := CreateOrLoad(ctx, keyvault.NewMemoryVault())
	require.NoError(t, err)

	assert.Len(t, id.DeviceID(), 64, "sha-256 hex is 64 characters")
	assert.Regexp(t, "^[0-9a-f]{64}$", id.DeviceID())
}

func TestSignVerifiesAgainstPublicKey(t *testing.T) {
	ctx := context.Background()
	id, err := CreateOrLoad(ctx, keyvault.NewMemoryVault())
	require.NoError(t, err)

	signedAt := time.Now()
	nonce := "test-nonce-123"

	sigB64, err := id.Sign(nonce, signedAt)
	require.NoError(t, err)

	// Verify the way the gateway does: parse the advertised key line,
	// reconstruct the message, and check the SSH signature.
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(id.PublicKeyLine()))
	require.NoError(t, err)

	sigBytes, err := base64.StdEncoding.DecodeString(sigB64)
	require.NoError(t, err)

	var sig ssh.Signature
	require.NoError(t, ssh.Unmarshal(sigBytes, &sig))

	message := fmt.Sprintf("%d|%s", signedAt.Unix(), nonce)
	assert.NoError(t, pub.Verify([]byte(message), &sig))

	// A different nonce must not verify.
	assert.Error(t, pub.Verify([]byte(fmt.Sprintf("%d|%s", signedAt.Unix(), "other")), &sig))
}
