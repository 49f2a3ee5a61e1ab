package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
	"github.com/flashbots/secagg/storage"
)

// HTTPStore implements storage.PackageStore against a remote API.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store for the API at baseURL. A nil client uses a
// default client with a 30s timeout.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

func (s *HTTPStore) roundURL(round uint64, parts ...string) string {
	u := fmt.Sprintf("%s/v1/rounds/%d", s.baseURL, round)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (s *HTTPStore) List(ctx context.Context, round uint64) ([]string, error) {
	var resp PackageListResponse
	if err := s.do(ctx, http.MethodGet, s.roundURL(round, "packages"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Clients, nil
}

func (s *HTTPStore) Read(ctx context.Context, round uint64, id string) (*protocol.EncryptedPackage, error) {
	var pkg protocol.EncryptedPackage
	if err := s.do(ctx, http.MethodGet, s.roundURL(round, "packages", id), nil, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (s *HTTPStore) Write(ctx context.Context, round uint64, id string, pkg *protocol.EncryptedPackage) error {
	if err := protocol.ValidateClientID(id); err != nil {
		return err
	}
	body, err := pkg.Encode()
	if err != nil {
		return err
	}
	return s.do(ctx, http.MethodPost, s.roundURL(round, "packages", id), body, &SubmitResponse{})
}

// PublicKey fetches the aggregator public key served by the API.
func (s *HTTPStore) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	var resp PublicKeyResponse
	if err := s.do(ctx, http.MethodGet, s.baseURL+"/v1/public-key", nil, &resp); err != nil {
		return crypto.PublicKey{}, err
	}
	if resp.Enc != crypto.Suite {
		return crypto.PublicKey{}, fmt.Errorf("server uses suite %q, want %q", resp.Enc, crypto.Suite)
	}
	return resp.PublicKey, nil
}

// Aggregate asks the API to aggregate and publish round.
func (s *HTTPStore) Aggregate(ctx context.Context, round uint64) (*AggregateResponse, error) {
	var resp AggregateResponse
	if err := s.do(ctx, http.MethodPost, s.roundURL(round, "aggregate"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// APIError is a non-2xx response the store could not map to a sentinel.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

func (s *HTTPStore) do(ctx context.Context, method, u string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var apiErr ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, &apiErr) != nil {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		switch apiErr.Kind {
		case KindNotFound:
			return fmt.Errorf("%w: %s", storage.ErrNotFound, apiErr.Error)
		case KindImmutable:
			return fmt.Errorf("%w: %s", storage.ErrImmutable, apiErr.Error)
		case KindBadRequest:
			return fmt.Errorf("%w: %s", crypto.ErrMalformedPackage, apiErr.Error)
		}
		return &APIError{StatusCode: resp.StatusCode, Kind: apiErr.Kind, Message: apiErr.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
