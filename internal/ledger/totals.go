package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Totals are the running sums of value that crossed the ledger boundary
type Totals struct {
	DepositedGross int64 `json:"deposited_gross"`
	DepositedNet   int64 `json:"deposited_net"`
	FeesPaid       int64 `json:"fees_paid"`
	Withdrawn      int64 `json:"withdrawn"`
	// Settled is the stake of every resolved bet. It leaves user liabilities
	// whether the bet was won or lost.
	Settled      int64 `json:"settled"`
	WinningsPaid int64 `json:"winnings_paid"`
	Rewarded     int64 `json:"rewarded"`
	Recovered    int64 `json:"recovered"`
}

// Liabilities is what the ledger owes its users
func (t Totals) Liabilities() int64 {
	return t.DepositedNet - t.Withdrawn - t.Settled
}

// Holdings sums balances and pending bets across accounts
type Holdings struct {
	Accounts   int   `json:"accounts"`
	Balance    int64 `json:"balance"`
	PendingBet int64 `json:"pending_bet"`
}

func (h Holdings) Total() int64 {
	return h.Balance + h.PendingBet
}

// Holdings scans every stored account
func (s *Service) Holdings(ctx context.Context) (Holdings, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return Holdings{}, fmt.Errorf("failed to list accounts: %w", err)
	}

	var h Holdings
	for _, acct := range accounts {
		h.Accounts++
		h.Balance += acct.Balance
		h.PendingBet += acct.PendingBet
	}
	return h, nil
}

// CheckConservation verifies that tracked totals match stored accounts.
// It blocks all account mutations while scanning.
func (s *Service) CheckConservation(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	totals := s.Totals()
	if totals.DepositedGross != totals.DepositedNet+totals.FeesPaid {
		return fmt.Errorf("%w: gross %d != net %d + fees %d",
			ErrConservation, totals.DepositedGross, totals.DepositedNet, totals.FeesPaid)
	}

	h, err := s.Holdings(ctx)
	if err != nil {
		return err
	}
	if h.Total() != totals.Liabilities() {
		return fmt.Errorf("%w: holdings %d != liabilities %d",
			ErrConservation, h.Total(), totals.Liabilities())
	}
	return nil
}

// updateTotals runs after value has moved, so it ignores cancellation
func (s *Service) updateTotals(ctx context.Context, apply func(t *Totals)) {
	s.totalsMu.Lock()
	defer s.totalsMu.Unlock()

	apply(&s.totals)
	s.metrics.SetLiabilities(s.totals.Liabilities())

	if s.totalsStore != nil {
		if err := s.totalsStore.SaveTotals(context.WithoutCancel(ctx), s.totals); err != nil {
			s.logger.Error("failed to persist totals", zap.Error(err))
		}
	}
}
