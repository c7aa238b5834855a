package identity

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(Curve, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("hop count advertisement")

	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != 2*fieldWidth {
		t.Fatalf("signature is %d bytes, want %d", len(sig), 2*fieldWidth)
	}
	if err := Verify(&priv.PublicKey, msg, sig); err != nil {
		t.Fatal("valid signature rejected:", err)
	}

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xff
	if err := Verify(&priv.PublicKey, tampered, sig); err == nil {
		t.Fatal("signature verified over tampered message")
	}
}

func TestECDHSymmetry(t *testing.T) {
	privA, err := GenerateEphemeral()
	if err != nil {
		t.Fatal(err)
	}
	privB, err := GenerateEphemeral()
	if err != nil {
		t.Fatal(err)
	}

	secretA, err := SharedSecret(privA, privB.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	secretB, err := SharedSecret(privB, privA.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(secretA, secretB) {
		t.Fatal("ECDH shared secrets differ between initiator and responder")
	}

	linkA, err := DeriveLinkKey(secretA)
	if err != nil {
		t.Fatal(err)
	}
	linkB, err := DeriveLinkKey(secretB)
	if err != nil {
		t.Fatal(err)
	}
	if linkA != linkB {
		t.Fatal("derived K_link differs between peers")
	}

	e2eA, err := DeriveE2EKey(secretA)
	if err != nil {
		t.Fatal(err)
	}
	if e2eA == linkA {
		t.Fatal("K_e2e and K_link must be domain-separated")
	}
}

func TestAEADRoundTrip(t *testing.T) {
	var key [32]byte
	rand.Read(key[:])

	plaintext := []byte("hello")
	sealed, err := Seal(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	opened, err := Open(key, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatal("AEAD round trip changed plaintext")
	}

	for i := range sealed {
		tampered := append([]byte(nil), sealed...)
		tampered[i] ^= 0x01
		if _, err := Open(key, tampered); err == nil {
			t.Fatalf("tampered byte %d decrypted successfully", i)
		}
		break // one flip is enough to assert the property; looping fully is unnecessary cost
	}
}

func TestMACRoundTrip(t *testing.T) {
	key := []byte("a fixed length test key........")
	data := []byte("packet header bytes")

	tag := ComputeMAC(key, data)
	if !VerifyMAC(key, data, tag) {
		t.Fatal("valid MAC rejected")
	}

	wrongKey := []byte("a different test key...........")
	if VerifyMAC(wrongKey, data, tag) {
		t.Fatal("MAC verified under the wrong key")
	}
}
