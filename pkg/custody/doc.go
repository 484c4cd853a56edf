// Package custody provides a client for the external custody API.
//
// The custody API owns the real asset. The ledger only records who is owed
// what; every movement in or out of custody goes through this client.
//
// # Authentication
//
// All API requests are authenticated using:
//   - API Key: Sent in the x-api-key header
//   - HMAC Signature: SHA256 hash of the request body, sent in x-api-hmac header
//
// # Basic Usage
//
//	client := custody.NewClient(&custody.ClientConfig{
//	    BaseURL:   "https://custody.example.com",
//	    APIKey:    "your-api-key",
//	    APISecret: "your-api-secret",
//	    Asset:     "GAME",
//	})
//
//	// Pull a deposit into custody
//	result, err := client.TransferFrom(ctx, &custody.TransferRequest{
//	    TransferID: uuid.New().String(),
//	    From:       user,
//	    To:         custodyAddress,
//	    Amount:     "1.00",
//	})
//
// # Error Handling
//
// API errors are returned as *APIError with a Code field indicating the error type:
//
//	result, err := client.Transfer(ctx, req)
//	if apiErr, ok := err.(*custody.APIError); ok {
//	    switch apiErr.Code {
//	    case custody.ErrInsufficientFunds:
//	        // Custody cannot cover the payout
//	    case custody.ErrTransferAlreadyExists:
//	        // A retry of a transfer that already completed
//	    }
//	}
package custody
