// Package auth verifies wallet signatures and issues short-lived session
// tokens. The signed payload is the request's additional data concatenated
// with the caller-chosen nonce; a LevelDB-backed store rejects nonce replays.
package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/accounts"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"wincledger/ledger/models"
)

// Request headers carrying the signature material.
const (
	HeaderPublicKey = "x-public-key"
	HeaderNonce     = "x-nonce"
	HeaderSignature = "x-signature"
)

var (
	// ErrUnauthorized covers every verification failure. Callers map it to
	// a 401 without leaking which check failed.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrNonceReplayed indicates the nonce was presented before.
	ErrNonceReplayed = errors.New("auth: nonce already used")
)

// VerifyParams carries one signature to check.
type VerifyParams struct {
	AddressType models.AddressType
	// PublicKey encoding depends on the address type: base64url RSA
	// modulus for arweave, hex secp256k1 point for EVM chains, base58 for
	// solana and ed25519.
	PublicKey string
	// Signature encoding follows the public key's: base64url, hex or
	// base58 respectively.
	Signature      string
	Nonce          string
	AdditionalData string
}

// SignatureData builds the exact bytes wallets sign.
func SignatureData(additionalData, nonce string) []byte {
	return []byte(additionalData + nonce)
}

// VerifySignature checks the signature and returns the signer's native
// address.
func VerifySignature(params VerifyParams) (string, error) {
	if strings.TrimSpace(params.PublicKey) == "" ||
		strings.TrimSpace(params.Signature) == "" ||
		strings.TrimSpace(params.Nonce) == "" {
		return "", fmt.Errorf("%w: missing signature material", ErrUnauthorized)
	}
	data := SignatureData(params.AdditionalData, params.Nonce)
	switch params.AddressType {
	case models.AddressArweave:
		return verifyArweave(params.PublicKey, data, params.Signature)
	case models.AddressEthereum, models.AddressBaseEth, models.AddressMatic, models.AddressPol:
		return verifyEthereum(params.PublicKey, data, params.Signature)
	case models.AddressSolana, models.AddressEd25519, models.AddressArio:
		return verifyEd25519(params.PublicKey, data, params.Signature)
	default:
		return "", fmt.Errorf("%w: unsupported address type %q", ErrUnauthorized, params.AddressType)
	}
}

// verifyArweave checks an RSA-PSS signature over SHA-256. Wallets sign with
// salt length 0 or 32; auto salt detection accepts both.
func verifyArweave(owner string, data []byte, signature string) (string, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(owner)
	if err != nil {
		return "", fmt.Errorf("%w: decode arweave owner", ErrUnauthorized)
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return "", fmt.Errorf("%w: decode arweave signature", ErrUnauthorized)
	}
	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: 65537}
	digest := sha256.Sum256(data)
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, opts); err != nil {
		return "", fmt.Errorf("%w: arweave signature mismatch", ErrUnauthorized)
	}
	addrHash := sha256.Sum256(modulus)
	return base64.RawURLEncoding.EncodeToString(addrHash[:]), nil
}

// verifyEthereum recovers the signer from an EIP-191 personal-sign message
// and matches it against the address the public key computes to.
func verifyEthereum(publicKey string, data []byte, signature string) (string, error) {
	pubBytes, err := hex.DecodeString(strings.TrimPrefix(publicKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: decode evm public key", ErrUnauthorized)
	}
	pub, err := gethcrypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return "", fmt.Errorf("%w: parse evm public key", ErrUnauthorized)
	}
	expected := gethcrypto.PubkeyToAddress(*pub)

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return "", fmt.Errorf("%w: decode evm signature", ErrUnauthorized)
	}
	// Wallets emit V as 27/28; recovery wants 0/1.
	recovery := make([]byte, 65)
	copy(recovery, sig)
	if recovery[64] >= 27 {
		recovery[64] -= 27
	}
	hash := accounts.TextHash(data)
	recovered, err := gethcrypto.SigToPub(hash, recovery)
	if err != nil {
		return "", fmt.Errorf("%w: recover evm signer", ErrUnauthorized)
	}
	if gethcrypto.PubkeyToAddress(*recovered) != expected {
		return "", fmt.Errorf("%w: evm signer mismatch", ErrUnauthorized)
	}
	return expected.Hex(), nil
}

// verifyEd25519 checks a detached signature from a base58 public key. The
// key itself is the native address.
func verifyEd25519(publicKey string, data []byte, signature string) (string, error) {
	pub := base58.Decode(publicKey)
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: ed25519 public key must be 32 bytes", ErrUnauthorized)
	}
	sig := base58.Decode(signature)
	if len(sig) != ed25519.SignatureSize {
		return "", fmt.Errorf("%w: ed25519 signature must be 64 bytes", ErrUnauthorized)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return "", fmt.Errorf("%w: ed25519 signature mismatch", ErrUnauthorized)
	}
	return publicKey, nil
}
