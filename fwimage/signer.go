package fwimage

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// SigningKeyLen is the size of a P-256 private scalar.
const SigningKeyLen = 32

// Signer produces the two region signatures of an update image with
// ECDSA over P-256 and SHA-256. The nonce is random, so signatures differ
// between runs over identical input.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner creates a signer from a raw 32-byte big-endian private scalar.
// The public point is derived from the scalar.
func NewSigner(scalar []byte) (*Signer, error) {
	if len(scalar) != SigningKeyLen {
		return nil, fmt.Errorf("signing key must be exactly %d bytes, got %d", SigningKeyLen, len(scalar))
	}
	key, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), scalar)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// ParseSigningKey decodes a signing key given as exactly 64 hex characters.
func ParseSigningKey(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 2*SigningKeyLen {
		return nil, fmt.Errorf("signing key must be %d hex characters, got %d", 2*SigningKeyLen, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

// Public returns the verification key matching the signer.
func (s *Signer) Public() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// Sign computes the signature over domain || blob.
func (s *Signer) Sign(domain, blob []byte) (Signature, error) {
	digest := digestOf(domain, blob)

	der, err := ecdsa.SignASN1(rand.Reader, s.key, digest)
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}

	r, sv, err := parseDER(der)
	if err != nil {
		return Signature{}, err
	}

	var sig Signature
	r.FillBytes(sig[:SignatureLen/2])
	sv.FillBytes(sig[SignatureLen/2:])
	return sig, nil
}

// SignImage fills in both region signatures of img.
// The two signatures are independent of each other.
func (s *Signer) SignImage(img *UpdateImage) error {
	fwSig, err := s.Sign(FirmwareDomain(img.Header), img.Firmware)
	if err != nil {
		return fmt.Errorf("firmware: %w", err)
	}
	blSig, err := s.Sign(BootloaderDomain(img.Header), img.Bootloader)
	if err != nil {
		return fmt.Errorf("bootloader: %w", err)
	}
	img.FirmwareSignature = fwSig
	img.BootloaderSignature = blSig
	return nil
}

// Verify reports whether sig is a valid signature of domain || blob under pub.
func Verify(pub *ecdsa.PublicKey, domain, blob []byte, sig Signature) bool {
	r := new(big.Int).SetBytes(sig[:SignatureLen/2])
	s := new(big.Int).SetBytes(sig[SignatureLen/2:])

	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	der, err := b.Bytes()
	if err != nil {
		return false
	}
	return ecdsa.VerifyASN1(pub, digestOf(domain, blob), der)
}

// VerifyImage checks both region signatures of img.
func VerifyImage(pub *ecdsa.PublicKey, img *UpdateImage) error {
	if !Verify(pub, FirmwareDomain(img.Header), img.Firmware, img.FirmwareSignature) {
		return fmt.Errorf("firmware signature does not verify")
	}
	if !Verify(pub, BootloaderDomain(img.Header), img.Bootloader, img.BootloaderSignature) {
		return fmt.Errorf("bootloader signature does not verify")
	}
	return nil
}

// ParsePublicKey decodes an uncompressed P-256 point (0x04 || X || Y),
// given as raw bytes.
func ParsePublicKey(b []byte) (*ecdsa.PublicKey, error) {
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), b)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return pub, nil
}

func digestOf(domain, blob []byte) []byte {
	h := sha256.New()
	_, _ = h.Write(domain)
	_, _ = h.Write(blob)
	return h.Sum(nil)
}

func parseDER(der []byte) (r, s *big.Int, err error) {
	r, s = new(big.Int), new(big.Int)
	var inner cryptobyte.String
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, fmt.Errorf("malformed ECDSA signature encoding")
	}
	return r, s, nil
}
