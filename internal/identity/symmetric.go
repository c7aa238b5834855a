package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"
)

// ErrDecryptionFailed is returned whenever AEAD authentication fails; it is
// never distinguishable from "wrong key" on purpose (spec §4.1).
var ErrDecryptionFailed = errors.New("identity: decryption failed")

// MACSize is the width of an HMAC-SHA256 tag, and therefore of the packet
// header's mac field (spec §3).
const MACSize = sha256.Size

// ComputeMAC computes HMAC-SHA256(key, data).
func ComputeMAC(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// VerifyMAC checks an HMAC-SHA256 tag in constant time.
func VerifyMAC(key, data, tag []byte) bool {
	expected := ComputeMAC(key, data)
	return subtle.ConstantTimeCompare(expected, tag) == 1
}

// Seal encrypts plaintext under key with AES-256-GCM using a fresh random
// 96-bit nonce, and returns nonce‖ciphertext‖tag as spec §4.1 requires.
func Seal(key [32]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a nonce‖ciphertext‖tag blob produced by Seal. Any
// modification (including a single flipped bit) yields ErrDecryptionFailed,
// never a corrupted plaintext.
func Open(key [32]byte, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
