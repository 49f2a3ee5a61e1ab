package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flashbots/secagg/aggregator"
	"github.com/flashbots/secagg/api/httpserver"
	"github.com/flashbots/secagg/client"
	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
	"github.com/flashbots/secagg/services"
	"github.com/flashbots/secagg/storage"
	"golang.org/x/sync/errgroup"
)

// OrchestratorConfig contains deployment configuration.
type OrchestratorConfig struct {
	NumClients int
	Dim        int

	// Addr is the listen address of the aggregation server. Port 0 picks a
	// free port.
	Addr          string
	RoundDuration time.Duration
	// Rounds stops the deployment after that many rounds; 0 runs until
	// shutdown.
	Rounds int

	Aggregator aggregator.Config
	// PublishDir writes models to disk instead of keeping them in memory.
	PublishDir string
	Log        *slog.Logger
}

// RoundOutput captures the published result of a round.
type RoundOutput struct {
	Round     uint64
	Manifest  *protocol.Manifest
	Report    *aggregator.Report
	Timestamp time.Time
}

// Orchestrator runs an aggregation server and a set of clients in one process.
type Orchestrator struct {
	config *OrchestratorConfig
	log    *slog.Logger

	keys       *crypto.KeyPair
	httpServer *http.Server
	serverURL  string
	remote     *services.HTTPStore

	clients []*DeployedClient

	outputMu     sync.RWMutex
	roundOutputs []RoundOutput
	outputChan   chan RoundOutput

	ctx    context.Context
	cancel context.CancelFunc
}

// DeployedClient is one simulated participant.
type DeployedClient struct {
	ClientID string
	Producer *client.Producer
}

// NewOrchestrator creates a deployment orchestrator.
func NewOrchestrator(config *OrchestratorConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	log := config.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		config:       config,
		log:          log,
		roundOutputs: make([]RoundOutput, 0),
		outputChan:   make(chan RoundOutput, 100),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Deploy starts the server and creates the clients.
func (o *Orchestrator) Deploy() error {
	o.log.Info("Starting secagg deployment")

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate keys: %w", err)
	}
	o.keys = keys

	if err := o.deployServer(); err != nil {
		return fmt.Errorf("deploy server: %w", err)
	}
	if err := o.deployClients(); err != nil {
		return fmt.Errorf("deploy clients: %w", err)
	}

	o.log.Info("Deployment complete", "server", o.serverURL, "clients", len(o.clients))
	return nil
}

func (o *Orchestrator) deployServer() error {
	var publisher storage.ModelStore = storage.NewMemoryPublisher()
	if o.config.PublishDir != "" {
		fsPublisher, err := storage.NewFSPublisher(o.config.PublishDir)
		if err != nil {
			return err
		}
		publisher = fsPublisher
	}

	store := storage.NewMemoryStore()
	agg, err := aggregator.New(o.keys.Private, store, o.config.Aggregator,
		aggregator.WithLogger(o.log), aggregator.WithPublisher(publisher))
	if err != nil {
		return err
	}

	api, err := services.NewAPI(services.APIConfig{
		PublicKey:  o.keys.Public,
		Store:      store,
		Aggregator: agg,
		Models:     publisher,
		Log:        o.log,
	})
	if err != nil {
		return err
	}

	base, err := httpserver.New(&httpserver.HTTPServerConfig{
		Log:                      o.log,
		GracefulShutdownDuration: 5 * time.Second,
	}, api)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", o.config.Addr)
	if err != nil {
		return err
	}
	o.serverURL = "http://" + listener.Addr().String()
	o.remote = services.NewHTTPStore(o.serverURL, nil)
	o.httpServer = &http.Server{Handler: base.Handler()}

	go func() {
		o.log.Info("Starting server", "addr", listener.Addr().String())
		if err := o.httpServer.Serve(listener); err != http.ErrServerClosed {
			o.log.Error("Server error", "err", err)
		}
	}()
	return nil
}

func (o *Orchestrator) deployClients() error {
	// Clients learn the key the way remote ones would.
	recipient, err := o.remote.PublicKey(o.ctx)
	if err != nil {
		return fmt.Errorf("fetch public key: %w", err)
	}
	for i := 0; i < o.config.NumClients; i++ {
		o.clients = append(o.clients, &DeployedClient{
			ClientID: fmt.Sprintf("client-%d", i),
			Producer: client.NewProducer(recipient, client.SeededSource{}, client.WithLogger(o.log)),
		})
	}
	return nil
}

// RunRound has every client submit an update for round, then aggregates it.
func (o *Orchestrator) RunRound(ctx context.Context, round uint64) (*RoundOutput, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range o.clients {
		g.Go(func() error {
			_, err := c.Producer.Submit(gctx, o.remote, round, c.ClientID, client.VectorSpec{Size: o.config.Dim})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("round %d submissions: %w", round, err)
	}

	resp, err := o.remote.Aggregate(ctx, round)
	if err != nil {
		return nil, fmt.Errorf("round %d aggregation: %w", round, err)
	}

	output := RoundOutput{
		Round:     round,
		Manifest:  resp.Manifest,
		Report:    resp.Report,
		Timestamp: time.Now(),
	}
	o.outputMu.Lock()
	o.roundOutputs = append(o.roundOutputs, output)
	o.outputMu.Unlock()

	select {
	case o.outputChan <- output:
	default:
		o.log.Warn("Round output channel full, dropping round", "round", round)
	}
	return &output, nil
}

// Run starts a round every RoundDuration until shutdown or until
// config.Rounds rounds have completed.
func (o *Orchestrator) Run() error {
	ticker := time.NewTicker(o.config.RoundDuration)
	defer ticker.Stop()

	for round := uint64(1); o.config.Rounds == 0 || round <= uint64(o.config.Rounds); round++ {
		if _, err := o.RunRound(o.ctx, round); err != nil {
			if o.ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-o.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// MonitorRoundOutputs prints each round output as it completes.
func (o *Orchestrator) MonitorRoundOutputs(w io.Writer) {
	for {
		select {
		case <-o.ctx.Done():
			return
		case output := <-o.outputChan:
			printRoundOutput(w, output)
		}
	}
}

func printRoundOutput(w io.Writer, output RoundOutput) {
	fmt.Fprintf(w, "Round %d: %d inputs, dim %d\n", output.Round, output.Report.Inputs, output.Report.Dim)
	fmt.Fprintf(w, "  sha256:      %s\n", output.Manifest.SHA256)
	fmt.Fprintf(w, "  inputs_root: %s\n", output.Report.InputsRoot)
	fmt.Fprintf(w, "  update norm: mean %.4f, median %.4f, stddev %.4f, max %.4f\n",
		output.Report.Norms.Mean, output.Report.Norms.Median, output.Report.Norms.StdDev, output.Report.Norms.Max)
	for _, excluded := range output.Report.Excluded {
		fmt.Fprintf(w, "  excluded %s: %s\n", excluded.ClientID, excluded.Error)
	}
}

// GetRoundOutputs returns all completed rounds.
func (o *Orchestrator) GetRoundOutputs() []RoundOutput {
	o.outputMu.RLock()
	defer o.outputMu.RUnlock()
	result := make([]RoundOutput, len(o.roundOutputs))
	copy(result, o.roundOutputs)
	return result
}

// GetLatestRoundOutput returns the most recent round, or nil.
func (o *Orchestrator) GetLatestRoundOutput() *RoundOutput {
	o.outputMu.RLock()
	defer o.outputMu.RUnlock()
	if len(o.roundOutputs) == 0 {
		return nil
	}
	output := o.roundOutputs[len(o.roundOutputs)-1]
	return &output
}

// ServerURL is the base URL of the aggregation server.
func (o *Orchestrator) ServerURL() string {
	return o.serverURL
}

// Shutdown stops the rounds and the server.
func (o *Orchestrator) Shutdown() error {
	o.log.Info("Shutting down deployment")
	o.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if o.httpServer != nil {
		return o.httpServer.Shutdown(ctx)
	}
	return nil
}
