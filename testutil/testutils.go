package testutil

import (
	"crypto/rand"

	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
)

// =====================================
// Cryptographic Generators
// =====================================

// GenerateRandomBytes generates a slice of random bytes with the specified length
func GenerateRandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	_, err := rand.Read(bytes)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// GenerateTestKeyPair generates an aggregator key pair for testing
func GenerateTestKeyPair() (*crypto.KeyPair, error) {
	return crypto.GenerateKeyPair()
}

// FlipBit returns a copy of b with one bit inverted.
func FlipBit(b []byte, bit int) []byte {
	out := append([]byte(nil), b...)
	out[bit/8] ^= 1 << (bit % 8)
	return out
}

// =====================================
// Package Generators
// =====================================

type packageParams struct {
	round         uint64
	clientID      string
	data          []float32
	aad           []byte
	payloadRound  *uint64
	payloadClient string
	withDigest    bool
}

// PackageOption is a function that modifies a generated package
type PackageOption func(*packageParams)

// WithRound sets the round of the package
func WithRound(round uint64) PackageOption {
	return func(p *packageParams) {
		p.round = round
	}
}

// WithClientID sets the client id of the package
func WithClientID(id string) PackageOption {
	return func(p *packageParams) {
		p.clientID = id
	}
}

// WithData sets the update vector
func WithData(data []float32) PackageOption {
	return func(p *packageParams) {
		p.data = data
	}
}

// WithAAD encrypts under aad instead of the associated data derived from
// round, client and size.
func WithAAD(aad []byte) PackageOption {
	return func(p *packageParams) {
		p.aad = aad
	}
}

// WithPayloadRound makes the encrypted payload claim a different round than
// the clear metadata.
func WithPayloadRound(round uint64) PackageOption {
	return func(p *packageParams) {
		p.payloadRound = &round
	}
}

// WithPayloadClientID makes the encrypted payload claim a different client
// than the clear metadata.
func WithPayloadClientID(id string) PackageOption {
	return func(p *packageParams) {
		p.payloadClient = id
	}
}

// WithoutDigest omits plaintext_sha256
func WithoutDigest() PackageOption {
	return func(p *packageParams) {
		p.withDigest = false
	}
}

// GenerateTestPackage seals an update to recipient the way a client does.
// Defaults: round 1, client "c1", data [1 2 3 4].
func GenerateTestPackage(recipient crypto.PublicKey, options ...PackageOption) (*protocol.EncryptedPackage, error) {
	p := &packageParams{
		round:      1,
		clientID:   "c1",
		data:       []float32{1, 2, 3, 4},
		withDigest: true,
	}
	for _, opt := range options {
		opt(p)
	}

	payload := protocol.NewUpdatePayload(p.round, p.clientID, p.data)
	if p.payloadRound != nil {
		payload.Meta.Round = *p.payloadRound
	}
	if p.payloadClient != "" {
		payload.Meta.ClientID = p.payloadClient
	}
	plaintext, err := payload.Canonical()
	if err != nil {
		return nil, err
	}

	aad := p.aad
	if aad == nil {
		aad = protocol.BuildAAD(p.round, p.clientID, len(p.data))
	}
	sealed, err := crypto.Encrypt(recipient, plaintext, aad)
	if err != nil {
		return nil, err
	}

	pkg := protocol.NewEncryptedPackage(sealed)
	pkg.Meta = &protocol.Metadata{
		Round:    p.round,
		ClientID: p.clientID,
		Shape:    []int{len(p.data)},
		DType:    protocol.DTypeFloat32,
	}
	if p.withDigest {
		digest := crypto.Sum(plaintext)
		pkg.PlaintextSHA256 = &digest
	}
	return pkg, nil
}
