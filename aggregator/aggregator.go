// Package aggregator decrypts the encrypted updates of a round and averages
// them into a published global model.
//
// A round moves through four phases:
//
//  1. Collecting: list the package ids stored for the round.
//  2. Verifying: read, check and decrypt every package, in parallel.
//  3. Averaging: sum the updates in client id order in float64 and divide.
//  4. Published: hand the model and its manifest to the Publisher.
//
// Verification may finish in any order; the reduction order is always the
// sorted client id order, so the published bytes only depend on the inputs.
package aggregator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
	"github.com/flashbots/secagg/storage"
	"golang.org/x/sync/errgroup"
)

// Phase is the progress of a round.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCollecting
	PhaseVerifying
	PhaseAveraging
	PhasePublished
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCollecting:
		return "collecting"
	case PhaseVerifying:
		return "verifying"
	case PhaseAveraging:
		return "averaging"
	case PhasePublished:
		return "published"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ErrRoundInProgress is returned when a round is already being aggregated.
var ErrRoundInProgress = errors.New("round aggregation already in progress")

// Result is the outcome of a published round.
type Result struct {
	Model    *protocol.GlobalModel
	Manifest *protocol.Manifest
	Report   *Report
}

// Aggregator holds the private key the clients encrypt to.
type Aggregator struct {
	key       crypto.PrivateKey
	store     storage.PackageStore
	publisher storage.Publisher
	config    Config
	logger    *slog.Logger

	mu      sync.Mutex
	phases  map[uint64]Phase
	running map[uint64]bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithPublisher sets where published rounds go. Without a publisher the
// result is only returned to the caller.
func WithPublisher(p storage.Publisher) Option {
	return func(a *Aggregator) {
		a.publisher = p
	}
}

// New creates an aggregator reading packages from store.
func New(key crypto.PrivateKey, store storage.PackageStore, config Config, opts ...Option) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("package store cannot be nil")
	}
	config, err := config.normalized()
	if err != nil {
		return nil, err
	}
	if _, err := key.PublicKey(); err != nil {
		return nil, err
	}

	a := &Aggregator{
		key:     key,
		store:   store,
		config:  config,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		phases:  make(map[uint64]Phase),
		running: make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Phase reports the phase of round.
func (a *Aggregator) Phase(round uint64) Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phases[round]
}

func (a *Aggregator) setPhase(round uint64, p Phase) {
	a.mu.Lock()
	a.phases[round] = p
	a.mu.Unlock()
	a.logger.Debug("round phase", "round", round, "phase", p.String())
}

type verifiedUpdate struct {
	clientID string
	data     []float32
	digest   crypto.Digest
}

// AggregateRound averages every package stored for round and publishes the
// result. Nothing is published unless every step succeeds.
func (a *Aggregator) AggregateRound(ctx context.Context, round uint64) (*Result, error) {
	a.mu.Lock()
	if a.running[round] {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrRoundInProgress, round)
	}
	a.running[round] = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.running, round)
		a.mu.Unlock()
	}()

	result, err := a.aggregate(ctx, round)
	if err != nil {
		a.setPhase(round, PhaseFailed)
		a.logger.Error("round failed", "round", round, "err", err)
		return nil, err
	}
	a.setPhase(round, PhasePublished)
	a.logger.Info("round published",
		"round", round,
		"inputs", result.Report.Inputs,
		"dim", result.Report.Dim,
		"sha256", result.Report.SHA256.String(),
		"excluded", len(result.Report.Excluded),
	)
	return result, nil
}

func (a *Aggregator) aggregate(ctx context.Context, round uint64) (*Result, error) {
	a.setPhase(round, PhaseCollecting)
	ids, err := a.store.List(ctx, round)
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w %d", protocol.ErrNoPackages, round)
	}
	slices.Sort(ids)

	a.setPhase(round, PhaseVerifying)
	updates, excluded, err := a.verifyAll(ctx, round, ids)
	if err != nil {
		return nil, err
	}
	if len(updates) < a.config.MinInputs {
		return nil, fmt.Errorf("%w %d: %d valid, %d required", protocol.ErrNotEnoughInputs, round, len(updates), a.config.MinInputs)
	}

	a.setPhase(round, PhaseAveraging)
	dim, padded, err := a.checkShapes(updates)
	if err != nil {
		return nil, err
	}
	model := protocol.NewGlobalModel(round, mean(updates, dim))

	leaves := make([]Leaf, len(updates))
	digests := make([]crypto.Digest, len(updates))
	clients := make([]string, len(updates))
	for i, u := range updates {
		leaves[i] = Leaf{ClientID: u.clientID, Digest: u.digest}
		digests[i] = u.digest
		clients[i] = u.clientID
	}
	root, err := crypto.MerkleRoot(digests)
	if err != nil {
		return nil, err
	}

	manifest := protocol.NewManifest(model, clients)
	manifest.InputsRoot = &root

	report := &Report{
		Round:      round,
		Inputs:     len(updates),
		Dim:        dim,
		SHA256:     model.Digest,
		InputsRoot: root,
		Leaves:     leaves,
		Excluded:   excluded,
		Padded:     padded,
		Norms:      normStats(updates),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, model, manifest); err != nil {
			return nil, fmt.Errorf("publishing round %d: %w", round, err)
		}
	}
	return &Result{Model: model, Manifest: manifest, Report: report}, nil
}

// verifyAll verifies packages on a bounded worker pool. Results are kept at
// the index of their client id, so the caller sees them in sorted order.
func (a *Aggregator) verifyAll(ctx context.Context, round uint64, ids []string) ([]*verifiedUpdate, []Exclusion, error) {
	results := make([]*verifiedUpdate, len(ids))
	errs := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			u, err := a.verify(gctx, round, id)
			if err != nil {
				errs[i] = err
				if a.config.FailurePolicy == AbortOnInvalid {
					return err
				}
				return nil
			}
			results[i] = u
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if a.config.FailurePolicy == AbortOnInvalid {
		if i := firstFailure(errs); i >= 0 {
			return nil, nil, protocol.NewRoundAbortedError(round, ids[i], errs[i])
		}
	}

	updates := make([]*verifiedUpdate, 0, len(ids))
	var excluded []Exclusion
	for i, err := range errs {
		if err == nil {
			updates = append(updates, results[i])
			continue
		}
		kind := protocol.ClassifyFailure(err)
		a.logger.Warn("excluding package", "round", round, "client", ids[i], "kind", string(kind), "err", err)
		excluded = append(excluded, Exclusion{ClientID: ids[i], Kind: kind, Error: err.Error()})
	}
	return updates, excluded, nil
}

// firstFailure returns the index of the first error in client id order.
// Packages that only saw the group's cancellation are skipped when a real
// failure exists.
func firstFailure(errs []error) int {
	first := -1
	for i, err := range errs {
		if err == nil {
			continue
		}
		if protocol.ClassifyFailure(err) != protocol.KindCanceled {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}

// verify checks one package against the round it is aggregated in and
// returns its decrypted update.
func (a *Aggregator) verify(ctx context.Context, round uint64, id string) (*verifiedUpdate, error) {
	pkg, err := a.store.Read(ctx, round, id)
	if err != nil {
		return nil, err
	}

	meta := pkg.Meta
	if meta == nil {
		return nil, fmt.Errorf("%w: missing meta", crypto.ErrMalformedPackage)
	}
	if meta.Round != round || meta.ClientID != id {
		return nil, fmt.Errorf("%w: meta names round %d client %q", protocol.ErrContextMismatch, meta.Round, meta.ClientID)
	}
	if meta.DType != protocol.DTypeFloat32 {
		return nil, fmt.Errorf("%w: unsupported dtype %q", crypto.ErrMalformedPackage, meta.DType)
	}
	size, err := meta.Size()
	if err != nil {
		return nil, err
	}

	sealed, err := pkg.Sealed()
	if err != nil {
		return nil, err
	}
	expected := protocol.BuildAAD(round, id, size)
	if sealed.AssociatedData != nil && !bytes.Equal(sealed.AssociatedData, expected) {
		return nil, fmt.Errorf("%w: associated data does not match round context", crypto.ErrAuthenticationFailure)
	}
	sealed.AssociatedData = expected

	plaintext, err := crypto.Decrypt(a.key, sealed)
	if err != nil {
		return nil, err
	}
	digest := crypto.Sum(plaintext)
	if pkg.PlaintextSHA256 != nil && *pkg.PlaintextSHA256 != digest {
		return nil, protocol.ErrDigestMismatch
	}

	payload, err := protocol.ParseUpdatePayload(plaintext)
	if err != nil {
		return nil, err
	}
	if payload.Meta.Round != round || payload.Meta.ClientID != id {
		return nil, fmt.Errorf("%w: payload names round %d client %q", protocol.ErrContextMismatch, payload.Meta.Round, payload.Meta.ClientID)
	}
	if !slices.Equal(payload.Meta.Shape, meta.Shape) {
		return nil, fmt.Errorf("%w: payload shape %v, declared %v", crypto.ErrMalformedPackage, payload.Meta.Shape, meta.Shape)
	}

	return &verifiedUpdate{clientID: id, data: payload.Data, digest: digest}, nil
}

// checkShapes returns the model dimension. Under MismatchStrict every update
// must have the most common length and the first client off that length is
// named. Under MismatchPad the longest
// length wins and the shorter clients are listed.
func (a *Aggregator) checkShapes(updates []*verifiedUpdate) (int, []string, error) {
	if a.config.MismatchPolicy == MismatchStrict {
		dim := majorityLength(updates)
		for _, u := range updates {
			if len(u.data) != dim {
				return 0, nil, &protocol.ShapeMismatchError{ClientID: u.clientID, Expected: dim, Got: len(u.data)}
			}
		}
		return dim, nil, nil
	}

	dim := 0
	for _, u := range updates {
		dim = max(dim, len(u.data))
	}
	var padded []string
	for _, u := range updates {
		if len(u.data) < dim {
			padded = append(padded, u.clientID)
		}
	}
	return dim, padded, nil
}

// majorityLength returns the most frequent update length. Updates are in
// sorted client order, so a tie goes to the earliest client's length.
func majorityLength(updates []*verifiedUpdate) int {
	counts := make(map[int]int)
	top := 0
	for _, u := range updates {
		counts[len(u.data)]++
		top = max(top, counts[len(u.data)])
	}
	for _, u := range updates {
		if counts[len(u.data)] == top {
			return len(u.data)
		}
	}
	return 0
}

// mean sums updates in the given order in float64. Missing trailing values
// count as zero.
func mean(updates []*verifiedUpdate, dim int) []float32 {
	acc := make([]float64, dim)
	for _, u := range updates {
		for i, v := range u.data {
			acc[i] += float64(v)
		}
	}
	n := float64(len(updates))
	out := make([]float32, dim)
	for i, s := range acc {
		out[i] = float32(s / n)
	}
	return out
}
