// ABOUTME: Device identity: an ed25519 SSH keypair persisted in the vault.
// ABOUTME: Derives the stable device ID and signs gateway auth challenges.

package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/2389/coven-node/internal/keyvault"
)

// VaultKey is the vault key under which the device private key is stored.
const VaultKey = "identity/private-key"

// privateKeyComment is embedded in the OpenSSH PEM block.
const privateKeyComment = "coven-node device key"

// Identity holds the device signing keypair. It is created once per install
// and immutable afterwards except through an explicit Reset.
type Identity struct {
	signer   ssh.Signer
	deviceID string
}

// CreateOrLoad loads the persisted device keypair from the vault, generating
// and persisting a fresh ed25519 keypair if none exists. The keypair is
// persisted before first use; a vault failure is fatal here because the
// identity must survive restarts.
func CreateOrLoad(ctx context.Context, vault keyvault.Vault) (*Identity, error) {
	logger := slog.Default().With("component", "identity")

	pemBytes, err := vault.Get(ctx, VaultKey)
	switch {
	case err == nil:
		return fromPEM(pemBytes)

	case errors.Is(err, keyvault.ErrNotFound):
		pemBytes, err = generatePEM()
		if err != nil {
			return nil, err
		}
		if err := vault.Put(ctx, VaultKey, pemBytes); err != nil {
			return nil, fmt.Errorf("persisting device key: %w", err)
		}
		id, err := fromPEM(pemBytes)
		if err != nil {
			return nil, err
		}
		logger.Info("generated new device identity", "device_id", id.DeviceID())
		return id, nil

	default:
		return nil, fmt.Errorf("loading device key: %w", err)
	}
}

// Reset deletes the persisted keypair. The next CreateOrLoad generates a new
// identity with a new device ID; the gateway will treat it as a new device.
func Reset(ctx context.Context, vault keyvault.Vault) error {
	if err := vault.Delete(ctx, VaultKey); err != nil {
		return fmt.Errorf("deleting device key: %w", err)
	}
	return nil
}

func generatePEM() ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, privateKeyComment)
	if err != nil {
		return nil, fmt.Errorf("encoding device key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}

func fromPEM(pemBytes []byte) (*Identity, error) {
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing device key: %w", err)
	}

	hash := sha256.Sum256(signer.PublicKey().Marshal())
	return &Identity{
		signer:   signer,
		deviceID: hex.EncodeToString(hash[:]),
	}, nil
}

// DeviceID returns the SHA-256 fingerprint of the public key, lowercase hex.
// Stable for the life of the keypair.
func (id *Identity) DeviceID() string {
	return id.deviceID
}

// PublicKeyLine returns the public key in authorized_keys format, as sent in
// the connect request.
func (id *Identity) PublicKeyLine() string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(id.signer.PublicKey())))
}

// Sign produces a base64-encoded SSH signature over "<unix-ts>|<nonce>",
// binding the signature to the specific handshake. The gateway verifies the
// same message and rejects reused nonces.
func (id *Identity) Sign(nonce string, signedAt time.Time) (string, error) {
	message := fmt.Sprintf("%d|%s", signedAt.Unix(), nonce)

	sig, err := id.signer.Sign(rand.Reader, []byte(message))
	if err != nil {
		return "", fmt.Errorf("signing challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ssh.Marshal(sig)), nil
}
