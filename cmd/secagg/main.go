// Command secagg runs the secure aggregation pipeline from the command line.
//
// # Commands
//
// keygen: Generate an aggregator X25519 key pair.
//
//	secagg keygen > aggregator.env
//
// produce: Encrypt a client update into the package store.
//
//	secagg produce --round 1 --client c1 --size 4 --store-dir ./packages
//	secagg produce --round 1 --client c1 --values '[1,0,0,0]' --server http://localhost:8080
//
// aggregate: Verify, average and publish every package of a round.
//
//	secagg aggregate --round 1 --store-dir ./packages --publish-dir ./models
//
// verify-model: Check a published model against its manifest.
//
//	secagg verify-model ./models/round-1/global_model.json ./models/round-1/global_model.bin
//
// inclusion-proof: Prove that a client's update is committed to by a round.
//
//	secagg inclusion-proof --report ./models/round-1/report.json --client c1
//
// Keys are read from TEE_PRIVATE_KEY_B64 and TEE_PUBLIC_KEY_B64 unless given
// as flags.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flashbots/secagg/aggregator"
	"github.com/flashbots/secagg/client"
	"github.com/flashbots/secagg/cmd/common"
	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
	"github.com/flashbots/secagg/services"
	"github.com/flashbots/secagg/storage"
	"gopkg.in/urfave/cli.v1"
)

const reportFile = "report.json"

var storeFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config, c",
		Usage: "YAML config file, flags override its values",
	},
	cli.StringFlag{
		Name:  "store",
		Usage: "package store backend: memory, fs, bolt, postgres or http",
	},
	cli.StringFlag{
		Name:  "store-dir",
		Usage: "directory of the fs package store",
	},
	cli.StringFlag{
		Name:  "bolt-path",
		Usage: "database file of the bolt package store",
	},
	cli.StringFlag{
		Name:  "server",
		Usage: "base URL of a secagg server, selects the http store",
	},
	cli.Uint64Flag{
		Name:  "round, r",
		Usage: "round number",
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "secagg"
	app.Usage = "encrypt, aggregate and verify federated learning updates"
	app.Version = "0.1"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "debug, info, warn or error",
		},
		cli.BoolFlag{
			Name:  "log-json",
			Usage: "log in JSON format",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "keygen",
			Usage:  "generate an aggregator key pair",
			Action: keygen,
		},
		{
			Name:   "produce",
			Usage:  "encrypt a client update into the package store",
			Action: produce,
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:   "public-key",
					Usage:  "aggregator public key (base64)",
					EnvVar: "TEE_PUBLIC_KEY_B64",
				},
				cli.StringFlag{
					Name:  "client",
					Usage: "client identifier",
				},
				cli.IntFlag{
					Name:  "size",
					Usage: "length of a synthetic update",
				},
				cli.Uint64Flag{
					Name:  "seed",
					Usage: "seed of a synthetic update, 0 derives it from round and client",
				},
				cli.StringFlag{
					Name:  "values",
					Usage: "JSON array of update values instead of a synthetic update",
				},
			}, storeFlags...),
		},
		{
			Name:   "aggregate",
			Usage:  "verify, average and publish a round",
			Action: aggregate,
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:   "private-key",
					Usage:  "aggregator private key (base64)",
					EnvVar: "TEE_PRIVATE_KEY_B64",
				},
				cli.StringFlag{
					Name:  "publish-dir",
					Usage: "directory for global_model.bin, global_model.json and report.json",
				},
				cli.StringFlag{
					Name:  "cas-dir",
					Usage: "content-addressed store for raw models",
				},
				cli.StringFlag{
					Name:  "failure-policy",
					Usage: "abort or exclude",
				},
				cli.StringFlag{
					Name:  "mismatch-policy",
					Usage: "strict or pad",
				},
				cli.IntFlag{
					Name:  "min-inputs",
					Usage: "smallest number of valid updates to publish",
				},
				cli.IntFlag{
					Name:  "workers",
					Usage: "parallel package verifications",
				},
			}, storeFlags...),
		},
		{
			Name:      "verify-model",
			Usage:     "check a published model against its manifest",
			ArgsUsage: "global_model.json global_model.bin",
			Action:    verifyModel,
		},
		{
			Name:   "inclusion-proof",
			Usage:  "prove a client's update is committed to by a round",
			Action: inclusionProof,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "report",
					Usage: "report.json written by aggregate",
				},
				cli.StringFlag{
					Name:  "client",
					Usage: "client identifier",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func keygen(c *cli.Context) error {
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer keys.Private.Zero()
	fmt.Printf("TEE_PRIVATE_KEY_B64=%s\n", keys.Private.Base64())
	fmt.Printf("TEE_PUBLIC_KEY_B64=%s\n", keys.Public.String())
	return nil
}

// loadConfig reads the optional config file and applies store flags.
func loadConfig(c *cli.Context) (*common.Config, error) {
	cfg := common.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = common.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if c.GlobalIsSet("log-level") || cfg.Log.Level == "" {
		cfg.Log.Level = c.GlobalString("log-level")
	}
	if c.GlobalBool("log-json") {
		cfg.Log.JSON = true
	}
	if v := c.String("store"); v != "" {
		cfg.Store.Backend = v
	}
	if v := c.String("store-dir"); v != "" {
		cfg.Store.Dir = v
		if c.String("store") == "" {
			cfg.Store.Backend = common.BackendFS
		}
	}
	if v := c.String("bolt-path"); v != "" {
		cfg.Store.BoltPath = v
		if c.String("store") == "" {
			cfg.Store.Backend = common.BackendBolt
		}
	}
	if v := c.String("server"); v != "" {
		cfg.Store.HTTPURL = v
		cfg.Store.Backend = common.BackendHTTP
	}
	return cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func produce(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := common.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return err
	}
	clientID := c.String("client")
	if err := protocol.ValidateClientID(clientID); err != nil {
		return err
	}
	if cfg.Store.Backend == common.BackendMemory {
		return errors.New("produce needs a persistent store: set --store-dir, --bolt-path, --server or a config file")
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, closer, err := common.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closer()

	recipient, err := recipientKey(ctx, c, cfg, store)
	if err != nil {
		return err
	}

	var source client.VectorSource = client.SeededSource{}
	spec := client.VectorSpec{Size: c.Int("size"), Seed: c.Uint64("seed")}
	if raw := c.String("values"); raw != "" {
		var values []float32
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return fmt.Errorf("parsing --values: %w", err)
		}
		source = client.StaticSource{clientID: values}
		spec.Size = len(values)
	}

	producer := client.NewProducer(recipient, source, client.WithLogger(log))
	pkg, err := producer.Submit(ctx, store, c.Uint64("round"), clientID, spec)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"round":     pkg.Meta.Round,
		"client_id": pkg.Meta.ClientID,
		"shape":     pkg.Meta.Shape,
	})
}

// recipientKey prefers an explicit key and falls back to asking the server.
func recipientKey(ctx context.Context, c *cli.Context, cfg *common.Config, store storage.PackageStore) (crypto.PublicKey, error) {
	b64 := c.String("public-key")
	if b64 == "" {
		b64 = cfg.Keys.PublicKey
	}
	if b64 != "" {
		return crypto.ParsePublicKey(b64)
	}
	if remote, ok := store.(*services.HTTPStore); ok {
		return remote.PublicKey(ctx)
	}
	return crypto.PublicKey{}, errors.New("aggregator public key is required (--public-key or TEE_PUBLIC_KEY_B64)")
}

func aggregate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if v := c.String("private-key"); v != "" {
		cfg.Keys.PrivateKey = v
	}
	if v := c.String("publish-dir"); v != "" {
		cfg.Publish.Dir = v
	}
	if v := c.String("cas-dir"); v != "" {
		cfg.Publish.CASDir = v
	}
	if v := c.String("failure-policy"); v != "" {
		cfg.Aggregator.FailurePolicy = v
	}
	if v := c.String("mismatch-policy"); v != "" {
		cfg.Aggregator.MismatchPolicy = v
	}
	if v := c.Int("min-inputs"); v > 0 {
		cfg.Aggregator.MinInputs = v
	}
	if v := c.Int("workers"); v > 0 {
		cfg.Aggregator.Workers = v
	}

	log, err := common.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return err
	}
	keys, err := common.LoadKeyPair(cfg.Keys.PrivateKey)
	if err != nil {
		return err
	}
	defer keys.Private.Zero()

	aggCfg, err := cfg.Aggregator.Config()
	if err != nil {
		return err
	}
	store, closer, err := common.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closer()
	publisher, err := common.OpenPublisher(cfg.Publish)
	if err != nil {
		return err
	}

	opts := []aggregator.Option{aggregator.WithLogger(log)}
	if publisher != nil {
		opts = append(opts, aggregator.WithPublisher(publisher))
	}
	agg, err := aggregator.New(keys.Private, store, aggCfg, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	round := c.Uint64("round")
	result, err := agg.AggregateRound(ctx, round)
	if err != nil {
		return err
	}

	if cfg.Publish.Dir != "" {
		path := filepath.Join(storage.RoundDir(cfg.Publish.Dir, round), reportFile)
		if err := writeJSONFile(path, result.Report); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		log.Info("report written", "path", path)
	}

	return printJSON(map[string]any{
		"inputs":      result.Report.Inputs,
		"dim":         result.Report.Dim,
		"sha256":      result.Manifest.SHA256,
		"inputs_root": result.Manifest.InputsRoot,
		"excluded":    result.Report.Excluded,
		"cid":         result.Manifest.CID,
	})
}

func verifyModel(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: secagg verify-model global_model.json global_model.bin")
	}
	data, err := os.ReadFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	var manifest protocol.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	raw, err := os.ReadFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	if err := protocol.VerifyModel(&manifest, raw); err != nil {
		return err
	}
	if manifest.CID != "" {
		id, err := storage.ModelCID(raw)
		if err != nil {
			return err
		}
		if id.String() != manifest.CID {
			return fmt.Errorf("%w: manifest %s, raw model %s", storage.ErrCIDMismatch, manifest.CID, id)
		}
	}
	fmt.Printf("OK round %d, %d inputs, sha256 %s\n", manifest.Round, manifest.Inputs, manifest.SHA256)
	return nil
}

func inclusionProof(c *cli.Context) error {
	path := c.String("report")
	if path == "" {
		return errors.New("--report is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var report aggregator.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("parsing report: %w", err)
	}
	proof, err := report.InclusionProof(c.String("client"))
	if err != nil {
		return err
	}
	if !proof.Verify() {
		return fmt.Errorf("proof for %q does not verify against root %s", proof.ClientID, proof.Root)
	}
	return printJSON(proof)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
