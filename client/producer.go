package client

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"

	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
	"github.com/flashbots/secagg/storage"
)

// Producer seals client updates to the aggregator's public key.
type Producer struct {
	recipient crypto.PublicKey
	source    VectorSource
	random    io.Reader
	logger    *slog.Logger
}

// Option configures a Producer.
type Option func(*Producer)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Producer) {
		p.logger = logger
	}
}

// WithRandom replaces crypto/rand as the source of ephemeral keys and nonces.
func WithRandom(random io.Reader) Option {
	return func(p *Producer) {
		p.random = random
	}
}

// NewProducer creates a producer encrypting to recipient.
func NewProducer(recipient crypto.PublicKey, source VectorSource, opts ...Option) *Producer {
	p := &Producer{
		recipient: recipient,
		source:    source,
		random:    rand.Reader,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Produce materializes the update of clientID for round and seals it.
func (p *Producer) Produce(ctx context.Context, round uint64, clientID string, spec VectorSpec) (*protocol.EncryptedPackage, error) {
	if err := protocol.ValidateClientID(clientID); err != nil {
		return nil, err
	}
	data, err := p.source.Vector(ctx, round, clientID, spec)
	if err != nil {
		return nil, fmt.Errorf("materializing update: %w", err)
	}
	return p.Seal(round, clientID, data)
}

// Seal encrypts data as the update of clientID for round.
func (p *Producer) Seal(round uint64, clientID string, data []float32) (*protocol.EncryptedPackage, error) {
	if err := protocol.ValidateClientID(clientID); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty update", crypto.ErrMalformedPackage)
	}

	payload := protocol.NewUpdatePayload(round, clientID, data)
	plaintext, err := payload.Canonical()
	if err != nil {
		return nil, err
	}
	digest := crypto.Sum(plaintext)

	aad := protocol.BuildAAD(round, clientID, len(data))
	sealed, err := crypto.EncryptFrom(p.random, p.recipient, plaintext, aad)
	if err != nil {
		return nil, err
	}

	pkg := protocol.NewEncryptedPackage(sealed)
	meta := payload.Meta
	pkg.Meta = &meta
	pkg.PlaintextSHA256 = &digest

	p.logger.Debug("sealed update",
		"round", round,
		"client", clientID,
		"size", len(data),
		"plaintext_sha256", digest.String(),
	)
	return pkg, nil
}

// Submit produces the update and writes it into store under clientID.
func (p *Producer) Submit(ctx context.Context, store storage.PackageStore, round uint64, clientID string, spec VectorSpec) (*protocol.EncryptedPackage, error) {
	pkg, err := p.Produce(ctx, round, clientID, spec)
	if err != nil {
		return nil, err
	}
	if err := store.Write(ctx, round, clientID, pkg); err != nil {
		return nil, fmt.Errorf("storing package: %w", err)
	}
	p.logger.Info("submitted update", "round", round, "client", clientID, "shape", pkg.Meta.Shape)
	return pkg, nil
}
