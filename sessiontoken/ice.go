// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package sessiontoken

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/callvault/callvault/lib/ref"
)

// RelayCredential is a time-limited TURN credential pair.
type RelayCredential struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

// RelayCredentialIssuer produces ephemeral TURN credentials for a
// client address. Implementations talk to (or share a secret with) the
// TURN deployment.
type RelayCredentialIssuer interface {
	Issue(address ref.Address, now time.Time) (RelayCredential, error)
}

// HMACIssuer implements the coturn static-auth-secret scheme: the
// username is "<expiry-unix>:<address>" and the credential is the
// base64 HMAC-SHA1 of the username under the shared secret. The TURN
// server recomputes the HMAC, so no credential database is needed.
type HMACIssuer struct {
	Secret []byte
	TTL    time.Duration
}

// Issue derives a credential valid for the issuer's TTL.
func (h *HMACIssuer) Issue(address ref.Address, now time.Time) (RelayCredential, error) {
	if len(h.Secret) == 0 {
		return RelayCredential{}, fmt.Errorf("sessiontoken: relay secret not configured")
	}
	ttl := h.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := now.Add(ttl)
	username := fmt.Sprintf("%d:%s", expiresAt.Unix(), address)

	mac := hmac.New(sha1.New, h.Secret)
	mac.Write([]byte(username))
	credential := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return RelayCredential{
		Username:   username,
		Credential: credential,
		ExpiresAt:  expiresAt,
	}, nil
}

// ICEConfig builds the ICE server list for a session. STUN servers are
// always included; TURN servers only when the session allows relay and
// an issuer is configured.
type ICEConfig struct {
	STUNURLs []string
	TURNURLs []string
	Issuer   RelayCredentialIssuer
}

// Servers returns the webrtc ICE server list for the given session.
func (c *ICEConfig) Servers(address ref.Address, allowTurn bool, now time.Time) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if len(c.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: append([]string(nil), c.STUNURLs...)})
	}

	if !allowTurn || len(c.TURNURLs) == 0 || c.Issuer == nil {
		return servers, nil
	}

	credential, err := c.Issuer.Issue(address, now)
	if err != nil {
		return nil, fmt.Errorf("sessiontoken: issuing relay credential: %w", err)
	}
	servers = append(servers, webrtc.ICEServer{
		URLs:       append([]string(nil), c.TURNURLs...),
		Username:   credential.Username,
		Credential: credential.Credential,
	})
	return servers, nil
}
