// Command server runs the secure aggregation HTTP service.
//
// Clients fetch the aggregator public key, submit encrypted packages for a
// round and an operator triggers aggregation, after which the averaged model
// and its manifest are served back.
//
// # Configuration File
//
//	http_addr: ":8080"
//	allowed_origins: ["https://dashboard.example"]
//	log:
//	  level: info
//	  json: false
//	keys:
//	  private_key: ""     # Base64 X25519, generates if empty
//	store:
//	  backend: bolt       # memory, fs, bolt, postgres or http
//	  dir: ""
//	  bolt_path: "./data/packages.db"
//	  postgres:
//	    host: localhost
//	    port: 5432
//	aggregator:
//	  workers: 8
//	  failure_policy: abort   # abort or exclude
//	  mismatch_policy: strict # strict or pad
//	  min_inputs: 1
//	publish:
//	  dir: "./data/models"
//	  cas_dir: ""
//
// # Usage
//
//	go run ./cmd/server --config=server.yaml
//	go run ./cmd/server --addr=:8080 --store=fs --store-dir=./data/packages --publish-dir=./data/models
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/secagg/aggregator"
	"github.com/flashbots/secagg/api/httpserver"
	"github.com/flashbots/secagg/cmd/common"
	"github.com/flashbots/secagg/services"
	"github.com/flashbots/secagg/storage"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		addr          = flag.String("addr", ":8080", "HTTP listen address")
		backend       = flag.String("store", "", "Package store backend: memory, fs, bolt or postgres")
		storeDir      = flag.String("store-dir", "", "Directory for the fs store")
		boltPath      = flag.String("bolt-path", "", "Database file for the bolt store")
		postgresDSN   = flag.String("postgres-dsn", "", "PostgreSQL connection string")
		publishDir    = flag.String("publish-dir", "", "Directory for published models")
		privateKeyB64 = flag.String("private-key", "", "X25519 private key (base64, generates if empty)")
		logLevel      = flag.String("log-level", "", "Log level: debug, info, warn or error")
		logJSON       = flag.Bool("log-json", false, "Log in JSON format")
		drain         = flag.Duration("drain", 0, "Time to report not ready before shutting down")
	)
	flag.Parse()

	var cfg *common.Config
	var err error

	if *configPath != "" {
		cfg, err = common.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = common.DefaultConfig()
	}

	// Command-line flags override config file
	if *addr != ":8080" || cfg.HTTPAddr == "" {
		cfg.HTTPAddr = *addr
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}
	if *storeDir != "" {
		cfg.Store.Dir = *storeDir
	}
	if *boltPath != "" {
		cfg.Store.BoltPath = *boltPath
	}
	if *publishDir != "" {
		cfg.Publish.Dir = *publishDir
	}
	if *privateKeyB64 != "" {
		cfg.Keys.PrivateKey = *privateKeyB64
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}
	if cfg.Store.Backend == common.BackendHTTP {
		fmt.Println("Error: the http store backend cannot serve its own API")
		os.Exit(1)
	}

	log, err := common.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Logger error: %v\n", err)
		os.Exit(1)
	}

	keys, err := common.LoadOrGenerateKeyPair(cfg.Keys.PrivateKey)
	if err != nil {
		log.Error("Key error", "err", err)
		os.Exit(1)
	}
	if cfg.Keys.PrivateKey == "" {
		log.Warn("No private key configured, generated an ephemeral one")
	}
	log.Info("Aggregator public key", "public_key", keys.Public.String())

	packages, closer, err := openStore(cfg.Store, *postgresDSN)
	if err != nil {
		log.Error("Store error", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer closer()

	publisher, err := common.OpenPublisher(cfg.Publish)
	if err != nil {
		log.Error("Publisher error", "err", err)
		os.Exit(1)
	}

	aggCfg, err := cfg.Aggregator.Config()
	if err != nil {
		log.Error("Aggregator config error", "err", err)
		os.Exit(1)
	}

	opts := []aggregator.Option{aggregator.WithLogger(log)}
	apiCfg := services.APIConfig{
		PublicKey:      keys.Public,
		Store:          packages,
		Log:            log,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if publisher != nil {
		opts = append(opts, aggregator.WithPublisher(publisher))
		apiCfg.Models = publisher
	} else {
		log.Warn("Model publishing disabled, aggregated models are only returned in responses")
	}

	agg, err := aggregator.New(keys.Private, packages, aggCfg, opts...)
	if err != nil {
		log.Error("Create aggregator error", "err", err)
		os.Exit(1)
	}
	apiCfg.Aggregator = agg

	api, err := services.NewAPI(apiCfg)
	if err != nil {
		log.Error("Create API error", "err", err)
		os.Exit(1)
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		Log:                      log,
		DrainDuration:            *drain,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             5 * time.Minute,
	}, api)
	if err != nil {
		log.Error("Create server error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("Server error", "err", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}

// openStore prefers an explicit PostgreSQL DSN over the config sections.
func openStore(cfg common.StoreConfig, postgresDSN string) (storage.PackageStore, func() error, error) {
	if postgresDSN == "" {
		return common.OpenStore(cfg)
	}
	store, err := storage.OpenPostgresStore(postgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
