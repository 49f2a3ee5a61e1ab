package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/flashbots/secagg/aggregator"
	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
	"github.com/flashbots/secagg/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

// DefaultMaxPackageBytes bounds the body of a package submission.
const DefaultMaxPackageBytes = 64 << 20

// APIConfig contains the dependencies of the HTTP API.
type APIConfig struct {
	PublicKey  crypto.PublicKey
	Store      storage.PackageStore
	Aggregator *aggregator.Aggregator
	// Models serves published rounds; nil disables the model endpoints.
	Models storage.ModelReader
	Log    *slog.Logger

	// AllowedOrigins enables CORS for browser dashboards.
	AllowedOrigins  []string
	MaxPackageBytes int64
}

// API serves package submission and round aggregation.
type API struct {
	cfg APIConfig
	log *slog.Logger

	mu      sync.RWMutex
	reports map[uint64]*aggregator.Report
}

// NewAPI creates the API. Store and Aggregator are required.
func NewAPI(cfg APIConfig) (*API, error) {
	if cfg.Store == nil {
		return nil, errors.New("package store cannot be nil")
	}
	if cfg.Aggregator == nil {
		return nil, errors.New("aggregator cannot be nil")
	}
	if cfg.Log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MaxPackageBytes <= 0 {
		cfg.MaxPackageBytes = DefaultMaxPackageBytes
	}
	return &API{
		cfg:     cfg,
		log:     cfg.Log,
		reports: make(map[uint64]*aggregator.Report),
	}, nil
}

// CheckHealth lists round 0 of the package store, which fails when a
// database backend is unreachable.
func (a *API) CheckHealth(ctx context.Context) error {
	if _, err := a.cfg.Store.List(ctx, 0); err != nil {
		return fmt.Errorf("package store: %w", err)
	}
	return nil
}

// RegisterRoutes registers HTTP routes for the API.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		if len(a.cfg.AllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: a.cfg.AllowedOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         300,
			}))
		}

		r.Get("/public-key", a.handlePublicKey)
		r.Route("/rounds/{round}", func(r chi.Router) {
			r.Get("/packages", a.handleListPackages)
			r.Post("/packages/{client}", a.handleSubmitPackage)
			r.Get("/packages/{client}", a.handleGetPackage)
			r.Post("/aggregate", a.handleAggregate)
			r.Get("/manifest", a.handleGetManifest)
			r.Get("/model", a.handleGetModel)
			r.Get("/proofs/{client}", a.handleGetProof)
		})
	})
}

func roundParam(r *http.Request) (uint64, error) {
	round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid round %q", chi.URLParam(r, "round"))
	}
	return round, nil
}

func (a *API) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &PublicKeyResponse{PublicKey: a.cfg.PublicKey, Enc: crypto.Suite})
}

func (a *API) handleSubmitPackage(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, err)
		return
	}
	clientID := chi.URLParam(r, "client")
	if err := protocol.ValidateClientID(clientID); err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxPackageBytes)
	pkg, err := protocol.DecodeMessage[protocol.EncryptedPackage](r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, fmt.Errorf("%w: %v", crypto.ErrMalformedPackage, err))
		return
	}
	if _, err := pkg.Sealed(); err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, err)
		return
	}
	if pkg.Meta != nil && (pkg.Meta.Round != round || pkg.Meta.ClientID != clientID) {
		err := fmt.Errorf("%w: meta names round %d client %q", protocol.ErrContextMismatch, pkg.Meta.Round, pkg.Meta.ClientID)
		writeError(w, http.StatusBadRequest, KindBadRequest, err)
		return
	}

	if err := a.cfg.Store.Write(r.Context(), round, clientID, pkg); err != nil {
		status, kind := errorStatus(err)
		writeError(w, status, kind, err)
		return
	}

	receipt := uuid.New().String()
	a.log.Info("package stored", "round", round, "client", clientID, "receipt", receipt)
	writeJSON(w, http.StatusCreated, &SubmitResponse{Receipt: receipt, Round: round, ClientID: clientID})
}

func (a *API) handleListPackages(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, err)
		return
	}
	ids, err := a.cfg.Store.List(r.Context(), round)
	if err != nil {
		status, kind := errorStatus(err)
		writeError(w, status, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, &PackageListResponse{Round: round, Clients: ids})
}

func (a *API) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, err)
		return
	}
	pkg, err := a.cfg.Store.Read(r.Context(), round, chi.URLParam(r, "client"))
	if err != nil {
		status, kind := errorStatus(err)
		writeError(w, status, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (a *API) handleAggregate(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, err)
		return
	}
	result, err := a.cfg.Aggregator.AggregateRound(r.Context(), round)
	if err != nil {
		status, kind := errorStatus(err)
		writeError(w, status, kind, err)
		return
	}

	a.mu.Lock()
	a.reports[round] = result.Report
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, &AggregateResponse{Manifest: result.Manifest, Report: result.Report})
}

func (a *API) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	manifest, _, ok := a.loadModel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (a *API) handleGetModel(w http.ResponseWriter, r *http.Request) {
	manifest, raw, ok := a.loadModel(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Model-Sha256", manifest.SHA256.String())
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (a *API) loadModel(w http.ResponseWriter, r *http.Request) (*protocol.Manifest, []byte, bool) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, err)
		return nil, nil, false
	}
	if a.cfg.Models == nil {
		writeError(w, http.StatusNotFound, KindNotFound, errors.New("model publishing is not configured"))
		return nil, nil, false
	}
	manifest, raw, err := a.cfg.Models.LoadModel(r.Context(), round)
	if err != nil {
		status, kind := errorStatus(err)
		writeError(w, status, kind, err)
		return nil, nil, false
	}
	return manifest, raw, true
}

func (a *API) handleGetProof(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, err)
		return
	}

	a.mu.RLock()
	report, ok := a.reports[round]
	a.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, KindNotFound, fmt.Errorf("round %d has not been aggregated by this service", round))
		return
	}

	proof, err := report.InclusionProof(chi.URLParam(r, "client"))
	if err != nil {
		status, kind := errorStatus(err)
		writeError(w, status, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, proof)
}
