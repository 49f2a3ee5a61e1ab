// Package cmd provides CLI commands for secagg.
//
// # Commands
//
// server: Long-running aggregation service. Clients submit encrypted packages
// over HTTP, an operator triggers aggregation per round and the published
// model is served back.
//
//	go run ./cmd/server --config=server.yaml
//	go run ./cmd/server --store=bolt --bolt-path=./data/packages.db --publish-dir=./data/models
//
// secagg: Offline tool for the whole pipeline.
//
//	go run ./cmd/secagg keygen
//	go run ./cmd/secagg produce --round 1 --client c1 --size 4 --store-dir ./packages
//	go run ./cmd/secagg aggregate --round 1 --store-dir ./packages --publish-dir ./models
//	go run ./cmd/secagg verify-model ./models/round-1/global_model.json ./models/round-1/global_model.bin
//	go run ./cmd/secagg inclusion-proof --report ./models/round-1/report.json --client c1
//
// # Configuration
//
// Both commands accept a YAML configuration file via --config. Command-line
// flags override config file values.
//
//	http_addr: ":8080"
//	log:
//	  level: info
//	  json: false
//	keys:
//	  private_key: ""   # base64 X25519
//	  public_key: ""
//	store:
//	  backend: fs       # memory, fs, bolt, postgres or http
//	  dir: "./packages"
//	  bolt_path: ""
//	  http_url: ""
//	  postgres:
//	    host: localhost
//	    port: 5432
//	    user: secagg
//	    database: secagg
//	aggregator:
//	  workers: 8
//	  failure_policy: abort
//	  mismatch_policy: strict
//	  min_inputs: 1
//	publish:
//	  dir: "./models"
//	  cas_dir: ""
//
// The secagg tool also reads the aggregator keys from TEE_PRIVATE_KEY_B64 and
// TEE_PUBLIC_KEY_B64. Core packages never read the environment.
package cmd
