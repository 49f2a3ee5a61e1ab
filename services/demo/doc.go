// Command demo runs a complete local secagg deployment for testing and development.
//
// The demo orchestrator starts all components in a single process:
//   - An aggregation server backed by an in-memory package store
//   - Multiple clients that submit deterministic synthetic updates
//
// Clients fetch the aggregator public key over HTTP like remote clients do.
// Every round each client encrypts and submits its update, then the
// orchestrator triggers aggregation and prints the published manifest.
//
// # Usage
//
//	go run ./services/demo [flags]
//
// # Flags
//
//	--clients          Number of clients (default: 10)
//	--dim              Update vector length (default: 1024)
//	--addr             Server listen address (default: localhost:8000)
//	--round            Round duration (default: 10s)
//	--rounds           Stop after this many rounds (default: run until interrupted)
//	--publish-dir      Write models to disk instead of memory
//	--failure-policy   abort or exclude (default: abort)
//	--mismatch-policy  strict or pad (default: strict)
//
// # Example
//
//	go run ./services/demo \
//	  --clients=5 \
//	  --dim=16 \
//	  --round=2s \
//	  --rounds=3
package main
