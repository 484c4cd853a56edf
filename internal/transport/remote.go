package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexbotov/betledger/internal/domain"
	"github.com/alexbotov/betledger/pkg/custody"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Remote moves value through the custody API. Ledger amounts are integer
// minor units; the API speaks decimal strings with Decimals fraction digits.
type Remote struct {
	client   *custody.Client
	custody  domain.Address
	decimals int32
}

// NewRemote creates a transport over a custody client
func NewRemote(client *custody.Client, custodyAddr domain.Address, decimals int32) *Remote {
	return &Remote{
		client:   client,
		custody:  custodyAddr,
		decimals: decimals,
	}
}

func (r *Remote) Pull(ctx context.Context, from domain.Address, amount int64) error {
	_, err := r.client.TransferFrom(ctx, &custody.TransferRequest{
		TransferID: uuid.New().String(),
		From:       from.String(),
		To:         r.custody.String(),
		Amount:     r.FormatAmount(amount),
		Memo:       "deposit",
	})
	return r.wrap("pull", err)
}

func (r *Remote) Push(ctx context.Context, to domain.Address, amount int64) error {
	_, err := r.client.Transfer(ctx, &custody.TransferRequest{
		TransferID: uuid.New().String(),
		From:       r.custody.String(),
		To:         to.String(),
		Amount:     r.FormatAmount(amount),
	})
	return r.wrap("push", err)
}

func (r *Remote) BalanceOf(ctx context.Context, addr domain.Address) (int64, error) {
	result, err := r.client.GetBalance(ctx, addr.String())
	if err != nil {
		return 0, r.wrap("balance", err)
	}
	amount, err := r.ParseAmount(result.Balance)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	return amount, nil
}

// FormatAmount renders minor units as a fixed-point decimal string
func (r *Remote) FormatAmount(amount int64) string {
	return decimal.New(amount, -r.decimals).StringFixed(r.decimals)
}

// ParseAmount converts a decimal string into minor units. Sub-unit
// remainders are truncated.
func (r *Remote) ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d.Shift(r.decimals).IntPart(), nil
}

func (r *Remote) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *custody.APIError
	if errors.As(err, &apiErr) {
		// a replayed transfer id means the effect already happened
		if apiErr.Code == custody.ErrTransferAlreadyExists {
			return nil
		}
		return fmt.Errorf("%w: %s %s: %s", ErrTransportFailure, op, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransportFailure, op, err)
}
