package services

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flashbots/secagg/aggregator"
	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
	"github.com/flashbots/secagg/storage"
)

// errorStatus maps an error to its HTTP status and ErrorResponse kind.
func errorStatus(err error) (int, string) {
	var aborted *protocol.RoundAbortedError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, aggregator.ErrNotIncluded):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, storage.ErrImmutable):
		return http.StatusConflict, KindImmutable
	case errors.Is(err, aggregator.ErrRoundInProgress):
		return http.StatusConflict, KindInProgress
	case errors.As(err, &aborted),
		errors.Is(err, protocol.ErrShapeMismatch),
		errors.Is(err, protocol.ErrNoPackages),
		errors.Is(err, protocol.ErrNotEnoughInputs):
		return http.StatusUnprocessableEntity, KindRoundFailed
	case errors.Is(err, crypto.ErrMalformedPackage),
		errors.Is(err, protocol.ErrInvalidClientID),
		errors.Is(err, protocol.ErrContextMismatch):
		return http.StatusBadRequest, KindBadRequest
	}
	return http.StatusInternalServerError, KindInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, &ErrorResponse{Error: err.Error(), Kind: kind})
}
