package receipt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tiger/agent-slo-pipeline/api/governance"
)

// ErrSignatureInvalid reports a receipt whose signature does not verify
// against its canonical serialization.
var ErrSignatureInvalid = errors.New("receipt: signature invalid")

// Signer produces and checks detached receipt signatures.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewSigner wraps an existing keypair.
func NewSigner(private ed25519.PrivateKey) (*Signer, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("receipt: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(private))
	}
	return &Signer{private: private, public: private.Public().(ed25519.PublicKey)}, nil
}

// GenerateSigner mints a fresh keypair.
func GenerateSigner() (*Signer, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("receipt: generate key: %w", err)
	}
	return &Signer{private: private, public: public}, nil
}

// ParsePrivateKey decodes a hex-encoded ed25519 signing key. Both the
// 32-byte seed and the full 64-byte private key forms are accepted.
func ParsePrivateKey(raw string) (ed25519.PrivateKey, error) {
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("receipt: decode private key: %w", err)
	}
	switch len(decoded) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	default:
		return nil, fmt.Errorf("receipt: private key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(decoded))
	}
}

// ParsePublicKey decodes a hex-encoded ed25519 public key.
func ParsePublicKey(raw string) (ed25519.PublicKey, error) {
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("receipt: decode public key: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("receipt: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.public
}

// PublicKeyHex returns the verification key in the hex form accepted by
// ParsePublicKey.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.public)
}

// Sign validates the receipt, signs its canonical bytes, and returns a
// copy with the detached signature filled in.
func (s *Signer) Sign(r governance.Receipt) (governance.Receipt, error) {
	if err := r.Validate(); err != nil {
		return governance.Receipt{}, fmt.Errorf("receipt: %w", err)
	}
	canon, err := r.CanonicalBytes()
	if err != nil {
		return governance.Receipt{}, err
	}
	r.Signature = hex.EncodeToString(ed25519.Sign(s.private, canon))
	return r, nil
}

// Verify checks the receipt's signature against the given public key.
func Verify(public ed25519.PublicKey, r governance.Receipt) error {
	if r.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrSignatureInvalid)
	}
	sig, err := hex.DecodeString(r.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature: %v", ErrSignatureInvalid, err)
	}
	canon, err := r.CanonicalBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(public, canon, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
