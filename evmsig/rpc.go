package evmsig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rexpump/media-upload-server-public/apperr"
)

// creatorSelector is the first 4 bytes of keccak256("creator()"), the
// function selector evm_service.rs's call_creator hard-codes.
const creatorSelector = "0x02d05d3f"

// Client issues JSON-RPC eth_call requests against a primary RPC URL,
// falling back to a secondary on transport error, mirroring
// evm_service.rs's get_token_creator.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcCallObject struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) ethCall(ctx context.Context, rpcURL, tokenAddress, selector string) (string, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_call",
		Params:  []interface{}{rpcCallObject{To: tokenAddress, Data: selector}, "latest"},
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("rpc http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("decoding rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("rpc error: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// CallCreator calls the contract's creator() view function and extracts
// the returned address, the way call_creator does: take the last 40 hex
// characters of the ABI-encoded result.
func (c *Client) CallCreator(ctx context.Context, primaryURL, fallbackURL, tokenAddress string) (string, error) {
	result, err := c.ethCall(ctx, primaryURL, tokenAddress, creatorSelector)
	if err != nil {
		if fallbackURL == "" {
			return "", apperr.Internal(fmt.Errorf("primary rpc failed and no fallback configured: %w", err))
		}
		result, err = c.ethCall(ctx, fallbackURL, tokenAddress, creatorSelector)
		if err != nil {
			return "", apperr.Internal(fmt.Errorf("primary and fallback rpc both failed: %w", err))
		}
	}

	hexResult := strings.TrimPrefix(result, "0x")
	if len(hexResult) < 40 {
		return "", apperr.Internal(fmt.Errorf("unexpected creator() result: %q", result))
	}
	return "0x" + hexResult[len(hexResult)-40:], nil
}

// VerifyTokenOwner compares the on-chain creator() result against the
// claimed owner, case-insensitively, mirroring verify_token_owner.
func (c *Client) VerifyTokenOwner(ctx context.Context, primaryURL, fallbackURL, tokenAddress, claimedOwner string) error {
	creator, err := c.CallCreator(ctx, primaryURL, fallbackURL, tokenAddress)
	if err != nil {
		return err
	}
	if !strings.EqualFold(creator, claimedOwner) {
		return apperr.NotAuthorized("on-chain creator does not match the claimed owner")
	}
	return nil
}
