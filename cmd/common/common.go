// Package common provides shared utilities for the secagg commands.
//
// It holds the YAML configuration shared by cmd/server and cmd/secagg and the
// factories that turn it into running components:
//
//   - Logger construction from level and format settings
//   - Aggregator key loading and generation
//   - Package store and model publisher selection
package common

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/flashbots/secagg/aggregator"
	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/services"
	"github.com/flashbots/secagg/storage"
	"gopkg.in/yaml.v3"
)

// Store backends accepted in StoreConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendFS       = "fs"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
	BackendHTTP     = "http"
)

// Config is the process configuration loaded from YAML.
type Config struct {
	HTTPAddr       string           `yaml:"http_addr"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	Log            LogConfig        `yaml:"log"`
	Keys           KeysConfig       `yaml:"keys"`
	Store          StoreConfig      `yaml:"store"`
	Aggregator     AggregatorConfig `yaml:"aggregator"`
	Publish        PublishConfig    `yaml:"publish"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// KeysConfig holds base64 X25519 keys. An empty private key is generated at
// startup by the server.
type KeysConfig struct {
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key"`
}

type StoreConfig struct {
	Backend  string                 `yaml:"backend"`
	Dir      string                 `yaml:"dir"`
	BoltPath string                 `yaml:"bolt_path"`
	Postgres storage.PostgresConfig `yaml:"postgres"`
	HTTPURL  string                 `yaml:"http_url"`
}

type AggregatorConfig struct {
	Workers        int    `yaml:"workers"`
	FailurePolicy  string `yaml:"failure_policy"`
	MismatchPolicy string `yaml:"mismatch_policy"`
	MinInputs      int    `yaml:"min_inputs"`
}

// PublishConfig selects where aggregated models go. An empty Dir disables
// publishing; CASDir additionally stores raw models by CID.
type PublishConfig struct {
	Dir    string `yaml:"dir"`
	CASDir string `yaml:"cas_dir"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	defaults := aggregator.DefaultConfig()
	return &Config{
		HTTPAddr: ":8080",
		Log: LogConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Postgres: storage.PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Aggregator: AggregatorConfig{
			Workers:        defaults.Workers,
			FailurePolicy:  string(defaults.FailurePolicy),
			MismatchPolicy: string(defaults.MismatchPolicy),
			MinInputs:      defaults.MinInputs,
		},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Config converts the YAML section, validating policy names.
func (c AggregatorConfig) Config() (aggregator.Config, error) {
	failure, err := aggregator.ParseFailurePolicy(c.FailurePolicy)
	if err != nil {
		return aggregator.Config{}, err
	}
	mismatch, err := aggregator.ParseMismatchPolicy(c.MismatchPolicy)
	if err != nil {
		return aggregator.Config{}, err
	}
	return aggregator.Config{
		Workers:        c.Workers,
		FailurePolicy:  failure,
		MismatchPolicy: mismatch,
		MinInputs:      c.MinInputs,
	}, nil
}

// NewLogger builds a text or JSON slog logger writing to stderr.
func NewLogger(level string, json bool) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// LoadOrGenerateKeyPair parses a base64 X25519 private key, or generates a
// new key pair if b64 is empty.
func LoadOrGenerateKeyPair(b64 string) (*crypto.KeyPair, error) {
	if b64 == "" {
		return crypto.GenerateKeyPair()
	}
	return LoadKeyPair(b64)
}

// LoadKeyPair parses a base64 X25519 private key and derives its public key.
func LoadKeyPair(b64 string) (*crypto.KeyPair, error) {
	if b64 == "" {
		return nil, errors.New("private key is required")
	}
	sk, err := crypto.ParsePrivateKey(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return crypto.NewKeyPair(sk)
}

// OpenStore opens the configured package store. The returned closer releases
// any underlying database handle and is never nil.
func OpenStore(cfg StoreConfig) (storage.PackageStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "", BackendMemory:
		return storage.NewMemoryStore(), noop, nil
	case BackendFS:
		if cfg.Dir == "" {
			return nil, nil, errors.New("store.dir is required for the fs backend")
		}
		store, err := storage.NewFSStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case BackendBolt:
		if cfg.BoltPath == "" {
			return nil, nil, errors.New("store.bolt_path is required for the bolt backend")
		}
		store, err := storage.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case BackendPostgres:
		store, err := storage.NewPostgresStore(&cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case BackendHTTP:
		if cfg.HTTPURL == "" {
			return nil, nil, errors.New("store.http_url is required for the http backend")
		}
		return services.NewHTTPStore(cfg.HTTPURL, nil), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// OpenPublisher returns the configured model publisher, or nil if publishing
// is disabled.
func OpenPublisher(cfg PublishConfig) (storage.ModelStore, error) {
	if cfg.Dir == "" {
		if cfg.CASDir != "" {
			return nil, errors.New("publish.cas_dir requires publish.dir")
		}
		return nil, nil
	}
	fsPublisher, err := storage.NewFSPublisher(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if cfg.CASDir == "" {
		return fsPublisher, nil
	}
	cas, err := storage.NewModelCAS(cfg.CASDir)
	if err != nil {
		return nil, err
	}
	return &storage.CASPublisher{CAS: cas, Next: fsPublisher}, nil
}
