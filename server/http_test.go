// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/sessiontoken"
)

func newTestHandler(t *testing.T) (http.Handler, ed25519.PublicKey, *clock.FakeClock) {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	fake := clock.Fake(serverEpoch)
	handler := NewHTTPHandler(HTTPConfig{
		Version:    "test",
		SigningKey: privateKey,
		ICE: &sessiontoken.ICEConfig{
			STUNURLs: []string{"stun:stun.example.org:3478"},
			TURNURLs: []string{"turn:turn.example.org:3478"},
			Issuer:   &sessiontoken.HMACIssuer{Secret: []byte("shared-secret")},
		},
		SessionTokenTTL: 5 * time.Minute,
		Clock:           fake,
	})
	return handler, publicKey, fake
}

func getJSON(t *testing.T, handler http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && recorder.Code == http.StatusOK {
		if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding %s response: %v", path, err)
		}
	}
	return recorder
}

func TestHealthEndpoints(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	for _, path := range []string{"/health", "/api/health"} {
		var body map[string]any
		recorder := getJSON(t, handler, path, &body)
		if recorder.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, recorder.Code)
		}
		if body["status"] != "ok" {
			t.Fatalf("%s status field = %v", path, body["status"])
		}
	}
}

func TestServerTimeReportsClock(t *testing.T) {
	handler, _, fake := newTestHandler(t)
	var body map[string]int64
	getJSON(t, handler, "/api/server-time", &body)
	if body["server_time_ms"] != fake.Now().UnixMilli() {
		t.Fatalf("server_time_ms = %d, want %d", body["server_time_ms"], fake.Now().UnixMilli())
	}
}

func TestDiagnostics(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		WebRTC      struct {
			TurnConfigured bool `json:"turnConfigured"`
		} `json:"webrtc"`
	}
	getJSON(t, handler, "/api/diagnostics", &body)
	if body.Status != "ok" {
		t.Fatalf("status = %q", body.Status)
	}
	if !body.WebRTC.TurnConfigured {
		t.Fatal("turnConfigured = false, want true")
	}
}

func TestTurnConfigAnonymousGetsSTUNOnly(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential any      `json:"credential"`
		} `json:"iceServers"`
	}
	getJSON(t, handler, "/api/turn-config", &body)
	if len(body.ICEServers) != 1 {
		t.Fatalf("servers = %d, want 1", len(body.ICEServers))
	}
	if !strings.HasPrefix(body.ICEServers[0].URLs[0], "stun:") {
		t.Fatalf("url = %q, want stun", body.ICEServers[0].URLs[0])
	}
}

func TestTurnConfigWithAddressIncludesRelay(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	who := newIdentity(t)
	var body struct {
		ICEServers []struct {
			URLs     []string `json:"urls"`
			Username string   `json:"username"`
		} `json:"iceServers"`
	}
	getJSON(t, handler, "/api/turn-config?address="+who.address.String(), &body)
	if len(body.ICEServers) != 2 {
		t.Fatalf("servers = %d, want 2", len(body.ICEServers))
	}
	turn := body.ICEServers[1]
	if !strings.HasPrefix(turn.URLs[0], "turn:") {
		t.Fatalf("url = %q, want turn", turn.URLs[0])
	}
	if !strings.Contains(turn.Username, who.address.String()) {
		t.Fatalf("username = %q, want it to embed the address", turn.Username)
	}
}

func TestSessionTokenMinting(t *testing.T) {
	handler, publicKey, fake := newTestHandler(t)
	who := newIdentity(t)

	payload := `{"address":"` + who.address.String() + `","plan":"pro"}`
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/call-session-token", strings.NewReader(payload)))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	var body struct {
		Token      string `json:"token"`
		Nonce      string `json:"nonce"`
		Plan       string `json:"plan"`
		AllowTurn  bool   `json:"allowTurn"`
		ICEServers []any  `json:"iceServers"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Nonce == "" {
		t.Fatal("nonce missing")
	}
	if body.Plan != string(sessiontoken.PlanPro) {
		t.Fatalf("plan = %q", body.Plan)
	}
	if !body.AllowTurn {
		t.Fatal("allowTurn = false, want true for pro")
	}
	if len(body.ICEServers) != 2 {
		t.Fatalf("iceServers = %d, want 2", len(body.ICEServers))
	}

	tokenBytes, err := base64.StdEncoding.DecodeString(body.Token)
	if err != nil {
		t.Fatal(err)
	}
	token, err := sessiontoken.VerifyForAddress(publicKey, tokenBytes, who.address, fake.Now())
	if err != nil {
		t.Fatal(err)
	}
	if token.Plan != sessiontoken.PlanPro {
		t.Fatalf("token plan = %q", token.Plan)
	}
	if token.ExpiresAt != fake.Now().Add(5*time.Minute).Unix() {
		t.Fatalf("expiresAt = %d", token.ExpiresAt)
	}
}

func TestSessionTokenDefaultsToFreePlan(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	who := newIdentity(t)

	payload := `{"address":"` + who.address.String() + `"}`
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/call-session-token", strings.NewReader(payload)))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	var body struct {
		Plan       string `json:"plan"`
		AllowTurn  bool   `json:"allowTurn"`
		ICEServers []any  `json:"iceServers"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Plan != string(sessiontoken.PlanFree) {
		t.Fatalf("plan = %q", body.Plan)
	}
	if body.AllowTurn {
		t.Fatal("allowTurn = true, want false for free")
	}
	if len(body.ICEServers) != 1 {
		t.Fatalf("iceServers = %d, want STUN only", len(body.ICEServers))
	}
}

func TestSessionTokenRejectsBadInput(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	for name, payload := range map[string]string{
		"empty body":      ``,
		"invalid address": `{"address":"not an address"}`,
		"invalid plan":    `{"address":"` + newIdentity(t).address.String() + `","plan":"platinum"}`,
	} {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/call-session-token", strings.NewReader(payload)))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, recorder.Code)
		}
	}
}
