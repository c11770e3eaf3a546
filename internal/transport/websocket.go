// ABOUTME: Websocket frame transport with certificate fingerprint pinning.
// ABOUTME: Dials wss endpoints and verifies the leaf cert against the trust store.

package transport

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/2389/coven-node/internal/protocol"
	"github.com/2389/coven-node/internal/trust"
)

// Subprotocol negotiated with the gateway's device listener.
const Subprotocol = "coven.device.v1"

// DefaultPath is the gateway's device websocket path.
const DefaultPath = "/device"

// maxFrameBytes bounds a single inbound frame.
const maxFrameBytes = 1 << 20

// ErrDiscoveryFingerprintMismatch indicates the certificate does not match
// the fingerprint the discovery layer reported for this endpoint.
var ErrDiscoveryFingerprintMismatch = errors.New("certificate does not match discovery fingerprint")

// WebsocketDialer dials the gateway over wss. Certificate verification is
// replaced by trust-store pinning: the SHA-256 fingerprint of the leaf
// certificate is checked against the pinned record for the endpoint, so
// self-signed gateway certificates work without a CA.
type WebsocketDialer struct {
	Trust *trust.Store

	// Path overrides DefaultPath when set.
	Path string

	// OnFirstUse, when set, is called after a first-use pin so the caller
	// can surface a one-time notice. It must not block.
	OnFirstUse func(endpoint Endpoint, fingerprint string)

	Logger *slog.Logger
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint Endpoint) (Conn, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default().With("component", "transport")
	}

	path := d.Path
	if path == "" {
		path = DefaultPath
	}
	u := url.URL{Scheme: "wss", Host: endpoint.Key(), Path: path}

	tlsCfg := &tls.Config{
		// Chain verification is intentionally disabled: the gateway presents
		// a self-signed certificate and trust is established by pinning.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("server presented no certificate")
			}
			sum := sha256.Sum256(rawCerts[0])
			fingerprint := hex.EncodeToString(sum[:])

			if endpoint.Fingerprint != "" && endpoint.Fingerprint != fingerprint {
				return fmt.Errorf("%w: discovery reported %s, server presented %s",
					ErrDiscoveryFingerprintMismatch, endpoint.Fingerprint, fingerprint)
			}

			outcome, err := d.Trust.Verify(ctx, endpoint.Key(), fingerprint)
			if err != nil {
				return err
			}
			if outcome == trust.OutcomeFirstUse && d.OnFirstUse != nil {
				d.OnFirstUse(endpoint, fingerprint)
			}
			return nil
		},
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsCfg,
			Proxy:           http.ProxyFromEnvironment,
		},
	}

	wsConn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient:   httpClient,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		// Pinning failures arrive wrapped in the dial error; unwrap the
		// trust sentinels so callers can distinguish them from plain
		// network failures.
		for _, sentinel := range []error{trust.ErrMismatch, trust.ErrPending, trust.ErrRejected, ErrDiscoveryFingerprintMismatch} {
			if errors.Is(err, sentinel) {
				return nil, sentinel
			}
		}
		return nil, fmt.Errorf("dialing %s: %w", u.String(), err)
	}
	wsConn.SetReadLimit(maxFrameBytes)

	logger.Debug("websocket connected", "endpoint", endpoint.Key())
	return &websocketConn{ws: wsConn}, nil
}

type websocketConn struct {
	ws *websocket.Conn
}

func (c *websocketConn) Read(ctx context.Context) (protocol.Frame, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

func (c *websocketConn) Write(ctx context.Context, f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *websocketConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client closing")
}
