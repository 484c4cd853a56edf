package custody

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a custody API client
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new custody API client
func NewClient(config *ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// NewClientWithHTTPClient creates a new custody API client with a custom HTTP client
func NewClientWithHTTPClient(config *ClientConfig, httpClient *http.Client) *Client {
	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// Asset returns the asset symbol the client moves
func (c *Client) Asset() string {
	return c.config.Asset
}

// computeHMAC computes the HMAC-SHA256 signature for the request body
func (c *Client) computeHMAC(body []byte) string {
	h := hmac.New(sha256.New, []byte(c.config.APISecret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest performs a signed POST. Only connection errors are retried;
// transfer endpoints are idempotent on TransferID.
func (c *Client) doRequest(ctx context.Context, endpoint string, reqBody interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.config.BaseURL + endpoint
	signature := c.computeHMAC(bodyBytes)

	retryCount := c.config.RetryCount
	if retryCount == 0 {
		retryCount = 1
	}

	var resp *http.Response
	var lastErr error
	for i := 0; i < retryCount; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.config.APIKey)
		req.Header.Set("x-api-hmac", signature)

		resp, err = c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		break
	}

	if resp == nil {
		return fmt.Errorf("request failed after %d attempts: %w", retryCount, lastErr)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}

	return nil
}

// TransferFrom pulls funds from a user wallet into custody.
// The user must have authorized custody to move the amount.
func (c *Client) TransferFrom(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	req.Asset = c.config.Asset

	var resp Response[TransferResult]
	if err := c.doRequest(ctx, "/transfer-from", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp.Result, nil
}

// Transfer sends funds out of custody to a wallet
func (c *Client) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	req.Asset = c.config.Asset

	var resp Response[TransferResult]
	if err := c.doRequest(ctx, "/transfer", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp.Result, nil
}

// GetBalance returns the asset balance held by an address
func (c *Client) GetBalance(ctx context.Context, address string) (*BalanceResult, error) {
	req := &BalanceRequest{
		Asset:   c.config.Asset,
		Address: address,
	}

	var resp Response[BalanceResult]
	if err := c.doRequest(ctx, "/balance", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp.Result, nil
}
