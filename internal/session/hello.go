// ABOUTME: Hello-ok bookkeeping: device token persistence and expiry logging.
// ABOUTME: Tokens are JWTs issued by the gateway; the client never verifies them.

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/coven-node/internal/protocol"
)

// deviceTokenKey is the vault key for the role's device token.
func deviceTokenKey(role Role) string {
	return fmt.Sprintf("session/device-token/%s", role)
}

// storeDeviceToken persists the token from hello-ok and logs its expiry.
// The token is opaque to the client; when it happens to be a JWT the exp
// claim is read (unverified — the gateway holds the signing key) purely for
// diagnostics. Storage failures are logged, not fatal: the session is
// already established and the token can be re-issued on the next handshake.
func (s *Session) storeDeviceToken(hello *protocol.HelloOk) {
	if hello.DeviceToken == "" {
		return
	}

	if expiry, ok := tokenExpiry(hello.DeviceToken); ok {
		s.logger.Debug("device token received",
			"expires_at", expiry.Format(time.RFC3339),
			"valid_for", time.Until(expiry).Round(time.Second),
		)
	}

	if s.opts.Vault == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Vault.Put(ctx, deviceTokenKey(s.opts.Role), []byte(hello.DeviceToken)); err != nil {
		s.logger.Warn("failed to persist device token", "error", err)
	}
}

// tokenExpiry extracts the exp claim from a JWT device token without
// verifying the signature.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
