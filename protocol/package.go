package protocol

import (
	"fmt"
	"math"
	"regexp"

	"github.com/flashbots/secagg/crypto"
)

// DTypeFloat32 is the only element type carried by updates and models.
const DTypeFloat32 = "float32"

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateClientID rejects identifiers that could not be embedded in the
// associated data string or used as a store key.
func ValidateClientID(id string) error {
	if !clientIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidClientID, id)
	}
	return nil
}

// BuildAAD returns the associated data binding a ciphertext to its round,
// client and vector size.
func BuildAAD(round uint64, clientID string, size int) []byte {
	return []byte(fmt.Sprintf("round:%d|client:%s|size:%d", round, clientID, size))
}

// Metadata describes an update. It travels next to the ciphertext in the
// clear and is repeated inside the encrypted payload.
type Metadata struct {
	Round    uint64 `json:"round"`
	ClientID string `json:"client_id"`
	Shape    []int  `json:"shape"`
	DType    string `json:"dtype"`
}

// Size returns the number of elements declared by Shape.
func (m *Metadata) Size() (int, error) {
	if len(m.Shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", crypto.ErrMalformedPackage)
	}
	size := 1
	for _, d := range m.Shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: non-positive dimension %d", crypto.ErrMalformedPackage, d)
		}
		if size > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v overflows", crypto.ErrMalformedPackage, m.Shape)
		}
		size *= d
	}
	return size, nil
}

// EncryptedPackage is the at-rest and wire form of one client update.
// Binary fields are base64 in JSON; the digest is lowercase hex.
type EncryptedPackage struct {
	Version         int            `json:"version"`
	Enc             string         `json:"enc"`
	EPK             []byte         `json:"epk"`
	Nonce           []byte         `json:"nonce"`
	Ciphertext      []byte         `json:"ciphertext"`
	AAD             []byte         `json:"aad,omitempty"`
	Meta            *Metadata      `json:"meta,omitempty"`
	PlaintextSHA256 *crypto.Digest `json:"plaintext_sha256,omitempty"`
}

// NewEncryptedPackage wraps the output of crypto.Encrypt.
func NewEncryptedPackage(sealed *crypto.Sealed) *EncryptedPackage {
	return &EncryptedPackage{
		Version:    sealed.Version,
		Enc:        sealed.Enc,
		EPK:        sealed.EphemeralPublicKey.Bytes(),
		Nonce:      sealed.Nonce,
		Ciphertext: sealed.Ciphertext,
		AAD:        sealed.AssociatedData,
	}
}

// Sealed converts the package back into cipher input, rejecting fields of
// the wrong length with crypto.ErrMalformedPackage.
func (p *EncryptedPackage) Sealed() (*crypto.Sealed, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil package", crypto.ErrMalformedPackage)
	}
	epk, err := crypto.NewPublicKeyFromBytes(p.EPK)
	if err != nil {
		return nil, fmt.Errorf("%w: epk: %v", crypto.ErrMalformedPackage, err)
	}
	sealed := &crypto.Sealed{
		Version:            p.Version,
		Enc:                p.Enc,
		EphemeralPublicKey: epk,
		Nonce:              p.Nonce,
		Ciphertext:         p.Ciphertext,
		AssociatedData:     p.AAD,
	}
	if err := sealed.Validate(); err != nil {
		return nil, err
	}
	return sealed, nil
}

// Decrypt opens the package with the aggregator's private key using the
// associated data the package carries.
func (p *EncryptedPackage) Decrypt(sk crypto.PrivateKey) ([]byte, error) {
	sealed, err := p.Sealed()
	if err != nil {
		return nil, err
	}
	return crypto.Decrypt(sk, sealed)
}

// Encode serializes the package as compact JSON.
func (p *EncryptedPackage) Encode() ([]byte, error) {
	return SerializeMessage(p)
}

// DecodePackage parses a JSON package. Syntax errors are reported as
// crypto.ErrMalformedPackage.
func DecodePackage(data []byte) (*EncryptedPackage, error) {
	pkg, err := UnmarshalMessage[EncryptedPackage](data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrMalformedPackage, err)
	}
	return pkg, nil
}
