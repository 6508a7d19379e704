package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/accounts"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"wincledger/ledger/models"
)

func TestVerifyArweaveSignature(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	owner := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	data := SignatureData("payload", "nonce-1")
	digest := sha256.Sum256(data)

	// Wallets sign with different salt lengths; auto detection must accept
	// each of them.
	for _, saltLength := range []int{32, rsa.PSSSaltLengthAuto} {
		sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:],
			&rsa.PSSOptions{SaltLength: saltLength, Hash: crypto.SHA256})
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		address, err := VerifySignature(VerifyParams{
			AddressType:    models.AddressArweave,
			PublicKey:      owner,
			Signature:      base64.RawURLEncoding.EncodeToString(sig),
			Nonce:          "nonce-1",
			AdditionalData: "payload",
		})
		if err != nil {
			t.Fatalf("verify with salt %d: %v", saltLength, err)
		}
		addrHash := sha256.Sum256(key.PublicKey.N.Bytes())
		if address != base64.RawURLEncoding.EncodeToString(addrHash[:]) {
			t.Fatalf("unexpected arweave address %s", address)
		}

		// A single flipped byte in the payload must fail.
		if _, err := VerifySignature(VerifyParams{
			AddressType:    models.AddressArweave,
			PublicKey:      owner,
			Signature:      base64.RawURLEncoding.EncodeToString(sig),
			Nonce:          "nonce-1",
			AdditionalData: "Payload",
		}); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized for tampered data, got %v", err)
		}
	}
}

func TestVerifyEthereumSignature(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	publicKey := hex.EncodeToString(gethcrypto.FromECDSAPub(&key.PublicKey))
	data := SignatureData("payload", "nonce-1")
	sig, err := gethcrypto.Sign(accounts.TextHash(data), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Wallets shift V to 27/28.
	walletSig := make([]byte, len(sig))
	copy(walletSig, sig)
	walletSig[64] += 27

	for _, raw := range [][]byte{sig, walletSig} {
		address, err := VerifySignature(VerifyParams{
			AddressType:    models.AddressEthereum,
			PublicKey:      publicKey,
			Signature:      hex.EncodeToString(raw),
			Nonce:          "nonce-1",
			AdditionalData: "payload",
		})
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if address != gethcrypto.PubkeyToAddress(key.PublicKey).Hex() {
			t.Fatalf("unexpected address %s", address)
		}
	}

	// A different key's public key must not pass.
	other, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate other key: %v", err)
	}
	if _, err := VerifySignature(VerifyParams{
		AddressType:    models.AddressEthereum,
		PublicKey:      hex.EncodeToString(gethcrypto.FromECDSAPub(&other.PublicKey)),
		Signature:      hex.EncodeToString(sig),
		Nonce:          "nonce-1",
		AdditionalData: "payload",
	}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for wrong key, got %v", err)
	}
}

func TestVerifyEd25519Signature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	data := SignatureData("", "nonce-solo")
	sig := ed25519.Sign(priv, data)

	for _, addressType := range []models.AddressType{models.AddressSolana, models.AddressEd25519, models.AddressArio} {
		address, err := VerifySignature(VerifyParams{
			AddressType: addressType,
			PublicKey:   base58.Encode(pub),
			Signature:   base58.Encode(sig),
			Nonce:       "nonce-solo",
		})
		if err != nil {
			t.Fatalf("verify %s: %v", addressType, err)
		}
		if address != base58.Encode(pub) {
			t.Fatalf("address must be the base58 key, got %s", address)
		}
	}

	// Wrong nonce changes the signed bytes.
	if _, err := VerifySignature(VerifyParams{
		AddressType: models.AddressSolana,
		PublicKey:   base58.Encode(pub),
		Signature:   base58.Encode(sig),
		Nonce:       "nonce-other",
	}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestVerifySignatureRejectsMissingMaterial(t *testing.T) {
	if _, err := VerifySignature(VerifyParams{
		AddressType: models.AddressSolana,
		PublicKey:   "key",
		Signature:   "sig",
	}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for missing nonce, got %v", err)
	}
	if _, err := VerifySignature(VerifyParams{
		AddressType: models.AddressType("email"),
		PublicKey:   "key",
		Signature:   "sig",
		Nonce:       "n",
	}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unsupported type, got %v", err)
	}
}
