// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package sessiontoken

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/callvault/callvault/lib/ref"
)

var iceEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHMACIssuerMatchesSharedSecretScheme(t *testing.T) {
	issuer := &HMACIssuer{Secret: []byte("turn-shared-secret"), TTL: 30 * time.Minute}
	alice := ref.MustParseAddress("alice")

	credential, err := issuer.Issue(alice, iceEpoch)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	wantExpiry := iceEpoch.Add(30 * time.Minute)
	if !credential.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", credential.ExpiresAt, wantExpiry)
	}
	if !strings.HasSuffix(credential.Username, ":"+alice.String()) {
		t.Errorf("Username = %q, want expiry:address form", credential.Username)
	}

	// The TURN server recomputes the same HMAC from the username.
	mac := hmac.New(sha1.New, []byte("turn-shared-secret"))
	mac.Write([]byte(credential.Username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if credential.Credential != want {
		t.Errorf("Credential = %q, want %q", credential.Credential, want)
	}
}

func TestHMACIssuerRequiresSecret(t *testing.T) {
	issuer := &HMACIssuer{}
	if _, err := issuer.Issue(ref.MustParseAddress("alice"), iceEpoch); err == nil {
		t.Fatal("Issue without secret succeeded")
	}
}

func TestICEConfigServers(t *testing.T) {
	config := &ICEConfig{
		STUNURLs: []string{"stun:stun.callvault.example:3478"},
		TURNURLs: []string{"turn:relay.callvault.example:3478"},
		Issuer:   &HMACIssuer{Secret: []byte("secret")},
	}
	alice := ref.MustParseAddress("alice")

	// Relay denied: STUN only, no credentials minted.
	servers, err := config.Servers(alice, false, iceEpoch)
	if err != nil {
		t.Fatalf("Servers: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.callvault.example:3478" {
		t.Fatalf("servers = %+v, want STUN only", servers)
	}

	// Relay granted: TURN entry with ephemeral credentials.
	servers, err = config.Servers(alice, true, iceEpoch)
	if err != nil {
		t.Fatalf("Servers with relay: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("servers = %d, want 2", len(servers))
	}
	turn := servers[1]
	if turn.URLs[0] != "turn:relay.callvault.example:3478" {
		t.Errorf("TURN URL = %q", turn.URLs[0])
	}
	if turn.Username == "" || turn.Credential == "" {
		t.Errorf("TURN credentials missing: %+v", turn)
	}
}

func TestICEConfigWithoutIssuerSkipsTURN(t *testing.T) {
	config := &ICEConfig{
		STUNURLs: []string{"stun:stun.callvault.example:3478"},
		TURNURLs: []string{"turn:relay.callvault.example:3478"},
	}

	servers, err := config.Servers(ref.MustParseAddress("alice"), true, iceEpoch)
	if err != nil {
		t.Fatalf("Servers: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("servers = %d, want STUN only", len(servers))
	}
}
