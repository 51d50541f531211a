// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package sessiontoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "session-signing-key"
	publicKeyFile  = "session-signing-key.pub"
)

// keyPaths returns the on-disk locations of the signing keypair inside
// stateDir. Both files hold raw key bytes, no encoding.
func keyPaths(stateDir string) (privatePath, publicPath string) {
	return filepath.Join(stateDir, privateKeyFile), filepath.Join(stateDir, publicKeyFile)
}

// LoadOrGenerateKeypair returns the server's session-signing keypair,
// creating and persisting a fresh one on first boot. The bool result
// reports whether a new keypair was generated. A private key file that
// exists but cannot be loaded is never overwritten; the load error is
// returned instead so an operator can inspect the file.
func LoadOrGenerateKeypair(stateDir string) (ed25519.PublicKey, ed25519.PrivateKey, bool, error) {
	public, private, loadErr := LoadKeypair(stateDir)
	if loadErr == nil {
		return public, private, false, nil
	}

	privatePath, _ := keyPaths(stateDir)
	if _, err := os.Stat(privatePath); err == nil {
		// The file is there but unreadable or the wrong size.
		// Generating over it would silently invalidate every token
		// minted under the old key.
		return nil, nil, false, loadErr
	}

	public, private, err := GenerateKeypair()
	if err != nil {
		return nil, nil, false, err
	}
	if err := SaveKeypair(stateDir, public, private); err != nil {
		return nil, nil, false, err
	}
	return public, private, true, nil
}

// GenerateKeypair creates a new Ed25519 keypair for token signing.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// LoadKeypair reads the keypair from stateDir, rejecting files whose
// size does not match the Ed25519 key sizes.
func LoadKeypair(stateDir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	privatePath, publicPath := keyPaths(stateDir)

	private, err := readKeyFile(privatePath, ed25519.PrivateKeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("private key: %w", err)
	}
	public, err := readKeyFile(publicPath, ed25519.PublicKeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("public key: %w", err)
	}
	return ed25519.PublicKey(public), ed25519.PrivateKey(private), nil
}

// SaveKeypair persists the keypair under stateDir. The private key is
// written 0600, the public key 0644.
func SaveKeypair(stateDir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	privatePath, publicPath := keyPaths(stateDir)
	if err := os.WriteFile(privatePath, private, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(publicPath, public, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func readKeyFile(path string, wantSize int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != wantSize {
		return nil, fmt.Errorf("%s has %d bytes, want %d", filepath.Base(path), len(raw), wantSize)
	}
	return raw, nil
}
