package services

import (
	"github.com/flashbots/secagg/aggregator"
	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
)

// PublicKeyResponse carries the key clients encrypt their updates to.
type PublicKeyResponse struct {
	PublicKey crypto.PublicKey `json:"public_key"`
	Enc       string           `json:"enc"`
}

// SubmitResponse acknowledges a stored package.
type SubmitResponse struct {
	Receipt  string `json:"receipt"`
	Round    uint64 `json:"round"`
	ClientID string `json:"client_id"`
}

// PackageListResponse lists the clients with a package in a round.
type PackageListResponse struct {
	Round   uint64   `json:"round"`
	Clients []string `json:"clients"`
}

// AggregateResponse describes a published round.
type AggregateResponse struct {
	Manifest *protocol.Manifest `json:"manifest"`
	Report   *aggregator.Report `json:"report"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Error kinds carried in ErrorResponse.
const (
	KindNotFound    = "not_found"
	KindImmutable   = "immutable"
	KindBadRequest  = "bad_request"
	KindInProgress  = "in_progress"
	KindRoundFailed = "round_failed"
	KindInternal    = "internal"
)
