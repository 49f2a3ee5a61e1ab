package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/flashbots/secagg/aggregator"
	"github.com/flashbots/secagg/protocol"
	"github.com/flashbots/secagg/storage"
	"github.com/stretchr/testify/require"
)

func TestOrchestratorRounds(t *testing.T) {
	o := NewOrchestrator(&OrchestratorConfig{
		NumClients:    4,
		Dim:           8,
		Addr:          "127.0.0.1:0",
		RoundDuration: time.Millisecond,
		Rounds:        2,
		Aggregator:    aggregator.DefaultConfig(),
		PublishDir:    t.TempDir(),
	})
	require.NoError(t, o.Deploy())
	t.Cleanup(func() { o.Shutdown() })

	require.NoError(t, o.Run())

	outputs := o.GetRoundOutputs()
	require.Len(t, outputs, 2)
	for i, output := range outputs {
		require.Equal(t, uint64(i+1), output.Round)
		require.Equal(t, 4, output.Report.Inputs)
		require.Equal(t, 8, output.Report.Dim)
		require.Equal(t, []string{"client-0", "client-1", "client-2", "client-3"}, output.Manifest.Clients)
	}
	require.NotEqual(t, outputs[0].Manifest.SHA256, outputs[1].Manifest.SHA256)

	latest := o.GetLatestRoundOutput()
	require.NotNil(t, latest)
	require.Equal(t, uint64(2), latest.Round)

	resp, err := http.Get(o.ServerURL() + "/v1/rounds/2/model")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, protocol.VerifyModel(latest.Manifest, raw))

	var out bytes.Buffer
	printRoundOutput(&out, *latest)
	require.Contains(t, out.String(), latest.Manifest.SHA256.String())
}

func TestRunRoundResubmissionRejected(t *testing.T) {
	o := NewOrchestrator(&OrchestratorConfig{
		NumClients: 2,
		Dim:        4,
		Addr:       "127.0.0.1:0",
		Aggregator: aggregator.DefaultConfig(),
	})
	require.NoError(t, o.Deploy())
	t.Cleanup(func() { o.Shutdown() })

	ctx := context.Background()
	_, err := o.RunRound(ctx, 1)
	require.NoError(t, err)

	// Fresh ephemeral keys make every ciphertext unique.
	_, err = o.RunRound(ctx, 1)
	require.ErrorIs(t, err, storage.ErrImmutable)
}
