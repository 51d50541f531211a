// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/lib/sqlitepool"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testIdentity struct {
	address ref.Address
	private ed25519.PrivateKey
}

func newTestIdentity(t *testing.T) testIdentity {
	t.Helper()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	address, err := ref.DeriveAddress(public)
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}
	return testIdentity{address: address, private: private}
}

func newTestVerifier(t *testing.T, c clock.Clock) *Verifier {
	t.Helper()
	verifier, err := NewVerifier(VerifierConfig{
		Nonces: NewMemoryNonceStore(),
		Clock:  c,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return verifier
}

type testPayload struct {
	Body string `cbor:"body"`
}

func TestVerifyAcceptsSignedEnvelope(t *testing.T) {
	sender := newTestIdentity(t)
	fake := clock.Fake(testEpoch)
	verifier := newTestVerifier(t, fake)

	env, err := Sign(sender.private, sender.address, testPayload{Body: "hello"}, "nonce-1", fake.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	payload, from, err := verifier.Verify(context.Background(), env)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if from.String() != sender.address.String() {
		t.Fatalf("authenticated sender = %q, want %q", from, sender.address)
	}

	var decoded testPayload
	if err := codec.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decoding verified payload: %v", err)
	}
	if decoded.Body != "hello" {
		t.Fatalf("Body = %q, want %q", decoded.Body, "hello")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	sender := newTestIdentity(t)
	fake := clock.Fake(testEpoch)
	verifier := newTestVerifier(t, fake)

	env, err := Sign(sender.private, sender.address, testPayload{Body: "pay 1 coin"}, "nonce-1", fake.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	forged, err := codec.Marshal(testPayload{Body: "pay 999 coins"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	env.Payload = forged

	if _, _, err := verifier.Verify(context.Background(), env); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Verify(tampered) = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsKeySubstitution(t *testing.T) {
	sender := newTestIdentity(t)
	attacker := newTestIdentity(t)
	fake := clock.Fake(testEpoch)
	verifier := newTestVerifier(t, fake)

	// The attacker signs with their own key but claims the victim's
	// address.
	env, err := Sign(attacker.private, sender.address, testPayload{Body: "hi"}, "nonce-1", fake.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, _, err := verifier.Verify(context.Background(), env); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("Verify(substituted key) = %v, want ErrKeyMismatch", err)
	}
}

func TestVerifyReplayRejected(t *testing.T) {
	sender := newTestIdentity(t)
	fake := clock.Fake(testEpoch)
	verifier := newTestVerifier(t, fake)

	env, err := Sign(sender.private, sender.address, testPayload{Body: "once"}, "nonce-1", fake.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, _, err := verifier.Verify(context.Background(), env); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if _, _, err := verifier.Verify(context.Background(), env); !errors.Is(err, ErrNonceReplayed) {
		t.Fatalf("second Verify = %v, want ErrNonceReplayed", err)
	}

	// Replay with a different payload but the same nonce is still a
	// replay — the pair is consumed regardless of content.
	altered, err := Sign(sender.private, sender.address, testPayload{Body: "twice"}, "nonce-1", fake.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, _, err := verifier.Verify(context.Background(), altered); !errors.Is(err, ErrNonceReplayed) {
		t.Fatalf("Verify(same nonce, new payload) = %v, want ErrNonceReplayed", err)
	}
}

func TestVerifyTimestampWindow(t *testing.T) {
	sender := newTestIdentity(t)
	fake := clock.Fake(testEpoch)
	verifier := newTestVerifier(t, fake)

	tests := []struct {
		name    string
		sentAt  time.Time
		wantErr error
	}{
		{name: "in_window_past", sentAt: testEpoch.Add(-4 * time.Minute)},
		{name: "in_window_future", sentAt: testEpoch.Add(4 * time.Minute)},
		{name: "too_old", sentAt: testEpoch.Add(-6 * time.Minute), wantErr: ErrTimestampExpired},
		{name: "too_far_future", sentAt: testEpoch.Add(6 * time.Minute), wantErr: ErrClockDrift},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Sign(sender.private, sender.address, testPayload{Body: "x"}, "nonce-"+tt.name, tt.sentAt)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			_, _, err = verifier.Verify(context.Background(), env)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Verify: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSQLiteNonceStoreConcurrentConsume(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "nonces.db"),
		PoolSize:  4,
		OnConnect: func(conn *sqlite.Conn) error { return NonceSchema(conn) },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	store := NewSQLiteNonceStore(pool)
	address := ref.MustParseAddress("alice")
	expiresAt := testEpoch.Add(time.Hour)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for n := 0; n < attempts; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Consume(context.Background(), address, "contested", expiresAt)
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, replayed int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrNonceReplayed):
			replayed++
		default:
			t.Fatalf("Consume: %v", err)
		}
	}
	if succeeded != 1 || replayed != attempts-1 {
		t.Fatalf("succeeded = %d, replayed = %d; want 1 and %d", succeeded, replayed, attempts-1)
	}
}

func TestSQLiteNonceStorePrune(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "nonces.db"),
		PoolSize:  1,
		OnConnect: func(conn *sqlite.Conn) error { return NonceSchema(conn) },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	store := NewSQLiteNonceStore(pool)
	address := ref.MustParseAddress("alice")
	ctx := context.Background()

	if err := store.Consume(ctx, address, "short", testEpoch.Add(time.Minute)); err != nil {
		t.Fatalf("Consume(short): %v", err)
	}
	if err := store.Consume(ctx, address, "long", testEpoch.Add(time.Hour)); err != nil {
		t.Fatalf("Consume(long): %v", err)
	}

	removed, err := store.PruneExpired(ctx, testEpoch.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	// A pruned nonce may be consumed again: its envelope would fail
	// the timestamp check anyway, so this is safe.
	if err := store.Consume(ctx, address, "short", testEpoch.Add(2*time.Hour)); err != nil {
		t.Fatalf("Consume(pruned nonce): %v", err)
	}
	if err := store.Consume(ctx, address, "long", testEpoch.Add(2*time.Hour)); !errors.Is(err, ErrNonceReplayed) {
		t.Fatalf("Consume(live nonce) = %v, want ErrNonceReplayed", err)
	}
}
