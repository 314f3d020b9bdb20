// Package sealbox implements the share encryption envelope: ephemeral X25519
// key agreement, HKDF-SHA256 key derivation and ChaCha20-Poly1305 AEAD.
// A fresh ephemeral key is generated per envelope, so only the holder of the
// recipient private key can open it.
//
// Wire format: [32-byte ephemeral public key][12-byte nonce][ciphertext].
package sealbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/sabi-money/sabi-server/internal/model"
)

// KeySize is the byte length of X25519 keys.
const KeySize = 32

// kdfInfo domain-separates the derived AEAD key from other X25519 uses.
const kdfInfo = "sabi/sealbox/v1"

// PublicKey is an X25519 public key.
type PublicKey [KeySize]byte

// PrivateKey is an X25519 private key.
type PrivateKey [KeySize]byte

// String returns the hex encoding used to address helpers on the relay.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// ParsePublicKey decodes a hex-encoded X25519 public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != KeySize {
		return PublicKey{}, fmt.Errorf("%w: malformed public key", model.ErrInvalidInput)
	}
	copy(k[:], b)
	return k, nil
}

// ParsePrivateKey decodes a hex-encoded X25519 private key.
func ParsePrivateKey(s string) (PrivateKey, error) {
	var k PrivateKey
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != KeySize {
		return PrivateKey{}, fmt.Errorf("%w: malformed private key", model.ErrInvalidInput)
	}
	copy(k[:], b)
	return k, nil
}

// Public derives the public key for a private key.
func (k PrivateKey) Public() (PublicKey, error) {
	pub, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	var out PublicKey
	copy(out[:], pub)
	return out, nil
}

// GenerateKeypair creates a fresh X25519 keypair.
func GenerateKeypair() (PrivateKey, PublicKey, error) {
	var priv PrivateKey
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return PrivateKey{}, PublicKey{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	pub, err := priv.Public()
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return priv, pub, nil
}

// Seal encrypts plaintext to the recipient's public key.
func Seal(recipient PublicKey, plaintext []byte) ([]byte, error) {
	ephPriv, ephPub, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(ephPriv, recipient, ephPub, recipient)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	box := make([]byte, 0, KeySize+len(nonce)+len(plaintext)+aead.Overhead())
	box = append(box, ephPub[:]...)
	box = append(box, nonce...)
	box = aead.Seal(box, nonce, plaintext, ephPub[:])

	return box, nil
}

// Open decrypts an envelope with the recipient's private key. A tampered or
// misaddressed envelope fails authentication.
func Open(priv PrivateKey, box []byte) ([]byte, error) {
	if len(box) < KeySize+chacha20poly1305.NonceSize {
		return nil, errors.New("envelope too short")
	}

	var ephPub PublicKey
	copy(ephPub[:], box[:KeySize])
	nonce := box[KeySize : KeySize+chacha20poly1305.NonceSize]
	ciphertext := box[KeySize+chacha20poly1305.NonceSize:]

	recipientPub, err := priv.Public()
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(priv, ephPub, ephPub, recipientPub)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, ephPub[:])
	if err != nil {
		return nil, fmt.Errorf("failed to open envelope: %w", err)
	}

	return plaintext, nil
}

// deriveKey runs X25519 agreement and expands the shared point into an AEAD
// key, binding both the ephemeral and the recipient public key into the KDF.
func deriveKey(priv PrivateKey, peer PublicKey, ephPub, recipientPub PublicKey) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("failed key agreement: %w", err)
	}

	info := make([]byte, 0, len(kdfInfo)+2*KeySize)
	info = append(info, kdfInfo...)
	info = append(info, ephPub[:]...)
	info = append(info, recipientPub[:]...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, info), key); err != nil {
		return nil, fmt.Errorf("failed key derivation: %w", err)
	}

	return key, nil
}
