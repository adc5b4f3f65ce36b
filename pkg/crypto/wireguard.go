package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/curve25519"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
)

// KeySize is the length in bytes of every WireGuard key.
const KeySize = wgtypes.KeyLen

// KeyPair holds the key material for one provisioning attempt.
// PrivateKey and PresharedKey are secret and must stay on the device.
type KeyPair struct {
	PrivateKey   wgtypes.Key
	PublicKey    wgtypes.Key
	PresharedKey wgtypes.Key
}

// PrivateKeyBase64 returns the private key in wire encoding.
func (kp *KeyPair) PrivateKeyBase64() string { return kp.PrivateKey.String() }

// PublicKeyBase64 returns the public key in wire encoding.
func (kp *KeyPair) PublicKeyBase64() string { return kp.PublicKey.String() }

// PresharedKeyBase64 returns the pre-shared key in wire encoding.
func (kp *KeyPair) PresharedKeyBase64() string { return kp.PresharedKey.String() }

// LogValue implements slog.LogValuer. Only the public key is ever emitted.
func (kp *KeyPair) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("public_key", kp.PublicKey.String()),
		slog.String("private_key", "[REDACTED]"),
		slog.String("preshared_key", "[REDACTED]"),
	)
}

// Generator produces fresh key material from a secure random source.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a Generator reading from r. A nil r selects crypto/rand.
func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

// Generate draws a Curve25519 private scalar and a pre-shared key and derives
// the matching public key. A short or failing read is fatal.
func (g *Generator) Generate() (*KeyPair, error) {
	privateKeyBytes := make([]byte, KeySize)
	if _, err := io.ReadFull(g.rand, privateKeyBytes); err != nil {
		return nil, apperrors.NewCryptoError(apperrors.ErrCodeRandomnessUnavailable,
			"failed to read random bytes for private key", err)
	}
	clampPrivateKey(privateKeyBytes)

	pskBytes := make([]byte, KeySize)
	if _, err := io.ReadFull(g.rand, pskBytes); err != nil {
		return nil, apperrors.NewCryptoError(apperrors.ErrCodeRandomnessUnavailable,
			"failed to read random bytes for preshared key", err)
	}

	publicKeyBytes, err := curve25519.X25519(privateKeyBytes, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %w", err)
	}

	kp := &KeyPair{}
	if kp.PrivateKey, err = wgtypes.NewKey(privateKeyBytes); err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if kp.PublicKey, err = wgtypes.NewKey(publicKeyBytes); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	if kp.PresharedKey, err = wgtypes.NewKey(pskBytes); err != nil {
		return nil, fmt.Errorf("invalid preshared key: %w", err)
	}
	return kp, nil
}

// GenerateKeyPair generates a new key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	return NewGenerator(nil).Generate()
}

// DerivePublicKey derives the base64 public key for a base64 private key.
func DerivePublicKey(privateKey string) (string, error) {
	key, err := wgtypes.ParseKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}

	privateKeyBytes := key[:]
	clampPrivateKey(privateKeyBytes)

	publicKeyBytes, err := curve25519.X25519(privateKeyBytes, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}

	publicKey, err := wgtypes.NewKey(publicKeyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}
	return publicKey.String(), nil
}

// clampPrivateKey applies the Curve25519 clamping WireGuard expects.
func clampPrivateKey(key []byte) {
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
}

// IsValidWireGuardKey reports whether key is base64 of exactly 32 bytes.
func IsValidWireGuardKey(key string) bool {
	_, err := wgtypes.ParseKey(key)
	return err == nil
}
