// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/ref"
)

// Errors returned by Verify. The connection layer maps these onto wire
// error codes; none of them may be broadcast beyond the originating
// connection.
var (
	ErrBadSignature     = errors.New("envelope: invalid Ed25519 signature")
	ErrKeyMismatch      = errors.New("envelope: address was not derived from the presented public key")
	ErrTimestampExpired = errors.New("envelope: timestamp too far in the past")
	ErrClockDrift       = errors.New("envelope: timestamp too far in the future")
	ErrNonceReplayed    = errors.New("envelope: nonce already consumed")
	ErrNonceMissing     = errors.New("envelope: nonce is empty")
)

// NonceStore records consumed (address, nonce) pairs. Consume is
// atomic: of two concurrent calls with the same pair, exactly one
// succeeds and the other returns ErrNonceReplayed.
type NonceStore interface {
	// Consume marks the pair as used until expiresAt. Returns
	// ErrNonceReplayed if the pair was consumed before and has not
	// yet expired out of the store.
	Consume(ctx context.Context, address ref.Address, nonce string, expiresAt time.Time) error

	// PruneExpired removes pairs whose expiry horizon has passed,
	// bounding storage growth. Returns the number removed.
	PruneExpired(ctx context.Context, now time.Time) (int, error)
}

// MaxClockSkew is the default accepted clock-skew window on either
// side of the server clock.
const MaxClockSkew = 5 * time.Minute

// nonceRetentionMargin is how long past the skew window a consumed
// nonce is retained. An envelope older than the skew window is
// rejected on the timestamp check alone, so retaining nonces for the
// window plus a margin is sufficient for replay detection.
const nonceRetentionMargin = 10 * time.Minute

// Verifier authenticates envelopes. Safe for concurrent use.
type Verifier struct {
	nonces  NonceStore
	clock   clock.Clock
	logger  *slog.Logger
	maxSkew time.Duration
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Nonces records consumed nonces. Required.
	Nonces NonceStore

	// Clock provides the server's view of now. Required.
	Clock clock.Clock

	// Logger receives rejected-envelope diagnostics. If nil, a no-op
	// logger is used.
	Logger *slog.Logger

	// MaxSkew overrides the accepted clock-skew window. Defaults to
	// MaxClockSkew if zero.
	MaxSkew time.Duration
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Nonces == nil {
		return nil, fmt.Errorf("envelope: NonceStore is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("envelope: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = MaxClockSkew
	}
	return &Verifier{
		nonces:  cfg.Nonces,
		clock:   cfg.Clock,
		logger:  logger,
		maxSkew: maxSkew,
	}, nil
}

// Verify authenticates an envelope and returns the verified payload
// bytes plus the authenticated sender address. On any error the
// payload must not be processed.
//
// Check order matters: the signature is verified before the nonce is
// consumed, so an attacker cannot burn a victim's nonce with a forged
// envelope.
func (v *Verifier) Verify(ctx context.Context, env Envelope) ([]byte, ref.Address, error) {
	if len(env.PublicKey) != ed25519.PublicKeySize {
		return nil, ref.Address{}, fmt.Errorf("%w: public key has %d bytes, want %d", ErrBadSignature, len(env.PublicKey), ed25519.PublicKeySize)
	}
	if env.From.IsZero() {
		return nil, ref.Address{}, fmt.Errorf("envelope: sender address is empty")
	}
	if env.Nonce == "" {
		return nil, ref.Address{}, ErrNonceMissing
	}

	// The claimed address must be bound to the presented key;
	// otherwise a valid signature proves nothing about the sender.
	if !env.From.BelongsTo(env.PublicKey) {
		return nil, ref.Address{}, ErrKeyMismatch
	}

	signed, err := env.signedBytes()
	if err != nil {
		return nil, ref.Address{}, fmt.Errorf("encoding signed portion: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(env.PublicKey), signed, env.Signature) {
		return nil, ref.Address{}, ErrBadSignature
	}

	now := v.clock.Now()
	sent := time.UnixMilli(env.Timestamp)
	if sent.Before(now.Add(-v.maxSkew)) {
		return nil, ref.Address{}, fmt.Errorf("%w: sent %s, window %s", ErrTimestampExpired, sent.UTC().Format(time.RFC3339), v.maxSkew)
	}
	if sent.After(now.Add(v.maxSkew)) {
		return nil, ref.Address{}, fmt.Errorf("%w: sent %s, window %s", ErrClockDrift, sent.UTC().Format(time.RFC3339), v.maxSkew)
	}

	expiresAt := sent.Add(v.maxSkew + nonceRetentionMargin)
	if err := v.nonces.Consume(ctx, env.From, env.Nonce, expiresAt); err != nil {
		if errors.Is(err, ErrNonceReplayed) {
			v.logger.Warn("envelope replay rejected",
				"from", env.From,
				"nonce", env.Nonce,
			)
			return nil, ref.Address{}, err
		}
		return nil, ref.Address{}, fmt.Errorf("consuming nonce: %w", err)
	}

	return env.Payload, env.From, nil
}

// PruneLoop removes expired nonces on a fixed interval until ctx is
// cancelled. Run it in its own goroutine.
func (v *Verifier) PruneLoop(ctx context.Context, interval time.Duration) {
	ticker := v.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := v.nonces.PruneExpired(ctx, v.clock.Now())
			if err != nil {
				v.logger.Error("nonce prune failed", "error", err)
				continue
			}
			if removed > 0 {
				v.logger.Debug("pruned expired nonces", "removed", removed)
			}
		}
	}
}
