package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, url string, maxRetries int) *Client {
	t.Helper()
	log, _ := logger.New("debug", "test")
	return NewClient(&config.Ledger{
		URL:            url,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     maxRetries,
		RetryDelay:     10 * time.Millisecond,
	}, log)
}

func TestClient_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathCall, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req domain.CallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice.near", req.Signer)
		assert.Equal(t, domain.MethodDepositAndStake, req.Method)
		assert.Equal(t, domain.Near(10).String(), req.Deposit.String())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.ExecutionResult{
			Status:   domain.StatusSuccess,
			GasBurnt: 15,
			Logs:     []string{"@alice.near deposited and staked 10"},
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL, 3)
	result, err := client.Call(context.Background(), domain.CallRequest{
		Signer:   "alice.near",
		Receiver: "farm.near",
		Method:   domain.MethodDepositAndStake,
		Deposit:  domain.Near(10),
	})
	require.NoError(t, err)
	assert.False(t, result.IsFailure())
	assert.Equal(t, uint64(15), result.GasBurnt)
	assert.Len(t, result.Logs, 1)
}

func TestClient_CallIsNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClient(t, server.URL, 5)
	_, err := client.Call(context.Background(), domain.CallRequest{Signer: "alice.near", Method: domain.MethodStakeAll})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestClient_ViewRetriesOnError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, PathView, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ViewResponse{Result: json.RawMessage(`"1000"`)})
	}))
	defer server.Close()

	client := newClient(t, server.URL, 5)
	raw, err := client.View(context.Background(), domain.ViewRequest{Receiver: "farm.near", Method: domain.ViewGetTotalStakedBalance})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.JSONEq(t, `"1000"`, string(raw))
}

func TestClient_ErrorCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"unknown method", http.StatusNotFound, `{"error":"get_everything","code":"UnknownMethod"}`, domain.ErrUnknownMethod},
		{"invalid argument", http.StatusBadRequest, `{"error":"signer_id is required","code":"InvalidArgument"}`, domain.ErrInvalidArgument},
		{"unknown farm", http.StatusNotFound, `{"error":"farm 7","code":"UnknownFarm"}`, domain.ErrUnknownFarm},
		{"uncoded error", http.StatusBadRequest, `{"error":"bad request"}`, nil},
		{"plain body", http.StatusBadRequest, `oops`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newClient(t, server.URL, 0)
			_, err := client.View(context.Background(), domain.ViewRequest{Method: "x"})
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestClient_BlockAndAdvance(t *testing.T) {
	var height uint64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case PathBlock:
			json.NewEncoder(w).Encode(domain.BlockInfo{Height: height, Epoch: height / 10})
		case PathFastForward:
			var req FastForwardRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			height += req.Blocks
			json.NewEncoder(w).Encode(FastForwardResponse{Block: domain.BlockInfo{Height: height, Epoch: height / 10}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	ctx := context.Background()

	require.NoError(t, client.AdvanceBlocks(ctx, 25))
	block, err := client.Block(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), block.Height)

	epoch, err := client.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), epoch)
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newClient(t, server.URL, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Block(ctx)
	assert.Error(t, err)
}
