package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RPCClient implements Adapter against the chain gateway's JSON-RPC endpoint.
// The gateway holds the signing credentials and maps idempotency tokens to
// on-chain nonces; this client never sees key material.
type RPCClient struct {
	endpoint     string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
	nextID       atomic.Uint64
}

// NewRPCClient creates a new ledger gateway client
func NewRPCClient(endpoint string, requestTimeout, pollInterval time.Duration, logger *zap.Logger) *RPCClient {
	if requestTimeout == 0 {
		requestTimeout = 10 * time.Second
	}
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}

	return &RPCClient{
		endpoint:     endpoint,
		httpClient:   &http.Client{Timeout: requestTimeout},
		pollInterval: pollInterval,
		logger:       logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Gateway error codes. Codes in the rejected range mean the call was refused
// before any state change.
const (
	codeRejected      = -32000
	codeInvalidCall   = -32001
	codeNotAuthorized = -32002
	codeNotFound      = -32004
)

func (c *RPCClient) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: gateway returned %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}

	if rpcResp.Error != nil {
		return c.classifyError(rpcResp.Error)
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	return nil
}

// classifyError maps gateway error codes onto the adapter error taxonomy
func (c *RPCClient) classifyError(rpcErr *rpcError) error {
	switch rpcErr.Code {
	case codeRejected, codeInvalidCall, codeNotAuthorized:
		return fmt.Errorf("%w: %s", ErrRejected, rpcErr.Message)
	case codeNotFound:
		return ErrReceiptNotFound
	default:
		return fmt.Errorf("%w: %s (code %d)", ErrUnavailable, rpcErr.Message, rpcErr.Code)
	}
}

type submitParams struct {
	Kind         CallKind `json:"kind"`
	Token        string   `json:"token"`
	OnChainID    int64    `json:"onChainId,omitempty"`
	SurveyNumber string   `json:"surveyNumber,omitempty"`
	FromOwner    string   `json:"fromOwner,omitempty"`
	ToOwner      string   `json:"toOwner,omitempty"`
	Amount       int64    `json:"amount,omitempty"`
}

type submitResult struct {
	TxHash string `json:"txHash"`
	Nonce  uint64 `json:"nonce"`
}

// Submit sends a call to the ledger gateway. The gateway dedupes on the
// idempotency token, so retrying a submission is safe.
func (c *RPCClient) Submit(ctx context.Context, call *Call) (*PendingHandle, error) {
	var result submitResult
	err := c.call(ctx, "land_submit", submitParams{
		Kind:         call.Kind,
		Token:        call.IdempotencyToken,
		OnChainID:    call.OnChainID,
		SurveyNumber: call.SurveyNumber,
		FromOwner:    call.FromOwner,
		ToOwner:      call.ToOwner,
		Amount:       call.Amount,
	}, &result)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Submitted ledger call",
		zap.String("kind", string(call.Kind)),
		zap.String("token", call.IdempotencyToken),
		zap.String("tx_hash", result.TxHash),
		zap.Uint64("nonce", result.Nonce))

	return &PendingHandle{
		Token:  call.IdempotencyToken,
		TxHash: result.TxHash,
		Nonce:  result.Nonce,
	}, nil
}

type receiptResult struct {
	Token         string   `json:"token"`
	Kind          CallKind `json:"kind"`
	TxHash        string   `json:"txHash"`
	BlockHeight   int64    `json:"blockHeight"`
	Confirmations int64    `json:"confirmations"`
	OnChainID     int64    `json:"onChainId"`
	GasUsed       int64    `json:"gasUsed"`
	Owner         string   `json:"owner"`
}

func (r *receiptResult) toConfirmation() *Confirmation {
	return &Confirmation{
		Token:         r.Token,
		Kind:          r.Kind,
		TxHash:        r.TxHash,
		BlockHeight:   r.BlockHeight,
		Confirmations: r.Confirmations,
		OnChainID:     r.OnChainID,
		GasUsed:       r.GasUsed,
		Owner:         r.Owner,
	}
}

// AwaitConfirmation polls the gateway for a receipt until the call confirms,
// the timeout expires or ctx is cancelled. A timed-out wait does not mean the
// call failed.
func (c *RPCClient) AwaitConfirmation(ctx context.Context, handle *PendingHandle, timeout time.Duration) (*Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		conf, err := c.ReadByToken(waitCtx, handle.Token)
		if err == nil {
			return conf, nil
		}
		if waitCtx.Err() != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrConfirmationTimeout
		}
		// Keep polling through not-yet-visible receipts and transient outages
		if !errors.Is(err, ErrReceiptNotFound) && !errors.Is(err, ErrUnavailable) {
			return nil, err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrConfirmationTimeout
		case <-ticker.C:
		}
	}
}

// ReadByToken looks up a confirmed receipt by idempotency token
func (c *RPCClient) ReadByToken(ctx context.Context, token string) (*Confirmation, error) {
	var result receiptResult
	if err := c.call(ctx, "land_receiptByToken", map[string]string{"token": token}, &result); err != nil {
		return nil, err
	}

	return result.toConfirmation(), nil
}

type parcelResult struct {
	OnChainID   int64  `json:"onChainId"`
	Owner       string `json:"owner"`
	TxHash      string `json:"txHash"`
	BlockHeight int64  `json:"blockHeight"`
}

// ReadParcelState returns the ledger-observed state of a parcel
func (c *RPCClient) ReadParcelState(ctx context.Context, onChainID int64) (*ParcelView, error) {
	var result parcelResult
	if err := c.call(ctx, "land_parcel", map[string]int64{"onChainId": onChainID}, &result); err != nil {
		return nil, err
	}

	return &ParcelView{
		OnChainID:   result.OnChainID,
		Owner:       result.Owner,
		TxHash:      result.TxHash,
		BlockHeight: result.BlockHeight,
	}, nil
}

// Ping checks connectivity to the ledger gateway
func (c *RPCClient) Ping(ctx context.Context) error {
	var height int64
	return c.call(ctx, "land_blockHeight", nil, &height)
}
