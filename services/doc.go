/*
# secagg Services Package

The services package exposes the package store and the aggregator over HTTP.

## Components

1. **API** (`api.go`)
  - Registers routes on an httpserver.BaseServer
  - Stores submitted packages in a storage.PackageStore
  - Runs aggregator.Aggregator rounds on request and serves the results
  - Endpoints:
  - `GET /v1/public-key` - Aggregator public key clients encrypt to
  - `POST /v1/rounds/{round}/packages/{client}` - Submit an encrypted package
  - `GET /v1/rounds/{round}/packages` - List client ids of a round
  - `GET /v1/rounds/{round}/packages/{client}` - Read a stored package
  - `POST /v1/rounds/{round}/aggregate` - Aggregate and publish a round
  - `GET /v1/rounds/{round}/manifest` - Manifest of a published model
  - `GET /v1/rounds/{round}/model` - Raw little-endian float32 model
  - `GET /v1/rounds/{round}/proofs/{client}` - Inclusion proof for a client

2. **HTTPStore** (`http_store.go`)
  - Implements storage.PackageStore against a remote API
  - Lets client.Producer.Submit and the CLI talk to a running service

## Error Mapping

Handlers translate domain errors to status codes:

  - 400: malformed package, invalid client id or round
  - 404: unknown package, model or proof
  - 409: package already stored with different bytes, round already running
  - 422: round aborted, shape mismatch, no packages, not enough inputs

Error bodies are `{"error": "...", "kind": "..."}`; HTTPStore maps them back
to the storage sentinels.
*/
package services
