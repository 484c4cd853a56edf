package custody

import "time"

// Error codes returned by the custody API
const (
	ErrUnexpectedError       = "UNEXPECTED_ERROR"
	ErrNotAuthorized         = "NOT_AUTHORIZED"
	ErrInvalidAddress        = "INVALID_ADDRESS"
	ErrInvalidAmount         = "INVALID_AMOUNT"
	ErrInsufficientFunds     = "INSUFFICIENT_FUNDS"
	ErrInsufficientAllowance = "INSUFFICIENT_ALLOWANCE"
	ErrTransferAlreadyExists = "TRANSFER_ALREADY_EXISTS"
	ErrUnsupportedAsset      = "UNSUPPORTED_ASSET"
)

// APIError represents an error response from the API
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Response wraps the API response with either result or error
type Response[T any] struct {
	Result *T        `json:"result,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// TransferRequest is the request body for /transfer and /transfer-from.
// TransferID makes the call idempotent on the server side.
type TransferRequest struct {
	TransferID string `json:"transferId"`
	Asset      string `json:"asset"`
	From       string `json:"from"`
	To         string `json:"to"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo,omitempty"`
}

// TransferResult is the result of a completed transfer
type TransferResult struct {
	TransferID  string `json:"transferId"`
	TxHash      string `json:"txHash"`
	FromBalance string `json:"fromBalance"`
	ToBalance   string `json:"toBalance"`
}

// BalanceRequest is the request body for /balance
type BalanceRequest struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
}

// BalanceResult is the result of a balance query
type BalanceResult struct {
	Balance string `json:"balance"`
}

// ClientConfig holds the configuration for the custody client
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Asset      string
	Timeout    time.Duration
	RetryCount int
}

// DefaultConfig returns a default client configuration
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:    30 * time.Second,
		RetryCount: 3,
	}
}
