package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type rpcHandler func(method string, params json.RawMessage) (any, *rpcError)

func newGateway(t *testing.T, handle rpcHandler) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("malformed request: %v", err)
			return
		}

		result, rpcErr := handle(req.Method, req.Params)

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRPCClient_Submit(t *testing.T) {
	gateway := newGateway(t, func(method string, params json.RawMessage) (any, *rpcError) {
		assert.Equal(t, "land_submit", method)

		var p submitParams
		assert.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, CallInitiateTransfer, p.Kind)
		assert.Equal(t, "sale-token-001", p.Token)

		return submitResult{TxHash: "0xaaa", Nonce: 9}, nil
	})
	defer gateway.Close()

	client := NewRPCClient(gateway.URL, time.Second, 10*time.Millisecond, zap.NewNop())

	handle, err := client.Submit(context.Background(), &Call{
		Kind:             CallInitiateTransfer,
		IdempotencyToken: "sale-token-001",
		OnChainID:        7,
		FromOwner:        "owner-1",
		ToOwner:          "buyer-1",
		Amount:           100,
	})
	assert.NoError(t, err)
	assert.Equal(t, "0xaaa", handle.TxHash)
	assert.Equal(t, uint64(9), handle.Nonce)
	assert.Equal(t, "sale-token-001", handle.Token)
}

func TestRPCClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"rejected", -32000, ErrRejected},
		{"invalid call", -32001, ErrRejected},
		{"not authorized", -32002, ErrRejected},
		{"not found", -32004, ErrReceiptNotFound},
		{"unknown code is transient", -32099, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := newGateway(t, func(method string, params json.RawMessage) (any, *rpcError) {
				return nil, &rpcError{Code: tt.code, Message: tt.name}
			})
			defer gateway.Close()

			client := NewRPCClient(gateway.URL, time.Second, 10*time.Millisecond, zap.NewNop())
			_, err := client.Submit(context.Background(), &Call{Kind: CallRegisterParcel, IdempotencyToken: "t-1"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRPCClient_ServerErrorIsUnavailable(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer gateway.Close()

	client := NewRPCClient(gateway.URL, time.Second, 10*time.Millisecond, zap.NewNop())
	_, err := client.Submit(context.Background(), &Call{Kind: CallRegisterParcel, IdempotencyToken: "t-1"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRPCClient_UnreachableGatewayIsUnavailable(t *testing.T) {
	client := NewRPCClient("http://127.0.0.1:1", time.Second, 10*time.Millisecond, zap.NewNop())
	err := client.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRPCClient_AwaitConfirmationPollsUntilReceipt(t *testing.T) {
	var calls int
	gateway := newGateway(t, func(method string, params json.RawMessage) (any, *rpcError) {
		assert.Equal(t, "land_receiptByToken", method)
		calls++
		if calls < 3 {
			return nil, &rpcError{Code: -32004, Message: "no receipt"}
		}
		return receiptResult{
			Token:         "sale-token-001",
			Kind:          CallInitiateTransfer,
			TxHash:        "0xaaa",
			BlockHeight:   55,
			Confirmations: 12,
		}, nil
	})
	defer gateway.Close()

	client := NewRPCClient(gateway.URL, time.Second, 5*time.Millisecond, zap.NewNop())

	conf, err := client.AwaitConfirmation(context.Background(),
		&PendingHandle{Token: "sale-token-001", TxHash: "0xaaa"}, time.Second)
	assert.NoError(t, err)
	assert.Equal(t, "0xaaa", conf.TxHash)
	assert.Equal(t, int64(55), conf.BlockHeight)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestRPCClient_AwaitConfirmationTimesOut(t *testing.T) {
	gateway := newGateway(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32004, Message: "no receipt"}
	})
	defer gateway.Close()

	client := NewRPCClient(gateway.URL, time.Second, 5*time.Millisecond, zap.NewNop())

	_, err := client.AwaitConfirmation(context.Background(),
		&PendingHandle{Token: "sale-token-001"}, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
}

func TestRPCClient_AwaitConfirmationHonorsCancellation(t *testing.T) {
	gateway := newGateway(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32004, Message: "no receipt"}
	})
	defer gateway.Close()

	client := NewRPCClient(gateway.URL, time.Second, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	_, err := client.AwaitConfirmation(ctx, &PendingHandle{Token: "sale-token-001"}, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRPCClient_ReadParcelState(t *testing.T) {
	gateway := newGateway(t, func(method string, params json.RawMessage) (any, *rpcError) {
		assert.Equal(t, "land_parcel", method)
		return parcelResult{OnChainID: 7, Owner: "owner-1", TxHash: "0xreg", BlockHeight: 10}, nil
	})
	defer gateway.Close()

	client := NewRPCClient(gateway.URL, time.Second, 10*time.Millisecond, zap.NewNop())

	view, err := client.ReadParcelState(context.Background(), 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), view.OnChainID)
	assert.Equal(t, "owner-1", view.Owner)
}
