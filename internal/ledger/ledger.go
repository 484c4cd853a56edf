// Package ledger holds user balances and the single outstanding bet per user
//
// Guarantees:
//   - Operations on one account never interleave, including across the
//     transport call that moves value in or out of custody
//   - A failed operation leaves balances, pending bets and the audit log as
//     they were before the call
//   - Tracked totals always reconcile with stored accounts
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/alexbotov/betledger/internal/access"
	"github.com/alexbotov/betledger/internal/audit"
	"github.com/alexbotov/betledger/internal/control"
	"github.com/alexbotov/betledger/internal/domain"
	"github.com/alexbotov/betledger/internal/fee"
	"github.com/alexbotov/betledger/internal/metrics"
	"github.com/alexbotov/betledger/internal/transport"
	"go.uber.org/zap"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBetAlreadyPending   = errors.New("bet already pending")
	ErrNoPendingBet        = errors.New("no pending bet")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrConservation        = errors.New("conservation check failed")
)

const (
	feePercentKey  = "fee_percent"
	feesAddressKey = "fees_address"
)

// Service is the ledger core
type Service struct {
	store       Store
	totalsStore TotalsStore
	stateStore  control.StateStore
	transport   transport.Transport
	access      *access.Service
	control     *control.Service
	fees        *fee.Config
	audit       *audit.Service
	metrics     *metrics.Ledger
	logger      *zap.Logger
	custody     domain.Address

	locks *lockTable
	// gate is held shared by account operations and exclusively by
	// operations that must see a quiescent ledger.
	gate sync.RWMutex

	totalsMu sync.Mutex
	totals   Totals
}

// Option configures a Service
type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Ledger) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCustodyAddress sets the address whose wallet holds custody funds.
// RecoverFunds is unavailable without it.
func WithCustodyAddress(addr domain.Address) Option {
	return func(s *Service) { s.custody = addr }
}

// WithStateStore persists fee configuration changes
func WithStateStore(store control.StateStore) Option {
	return func(s *Service) { s.stateStore = store }
}

// New creates a ledger service
func New(store Store, tr transport.Transport, accessSvc *access.Service, controlSvc *control.Service, fees *fee.Config, auditSvc *audit.Service, opts ...Option) *Service {
	s := &Service{
		store:     store,
		transport: tr,
		access:    accessSvc,
		control:   controlSvc,
		fees:      fees,
		audit:     auditSvc,
		logger:    zap.NewNop(),
		locks:     newLockTable(),
	}
	if ts, ok := store.(TotalsStore); ok {
		s.totalsStore = ts
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadState restores totals and fee configuration from persistent stores
func (s *Service) LoadState(ctx context.Context) error {
	if s.totalsStore != nil {
		totals, err := s.totalsStore.LoadTotals(ctx)
		if err != nil {
			return fmt.Errorf("failed to load totals: %w", err)
		}
		s.totalsMu.Lock()
		s.totals = totals
		s.totalsMu.Unlock()
		s.metrics.SetLiabilities(totals.Liabilities())
	}

	if s.stateStore == nil {
		return nil
	}

	if v, ok, err := s.stateStore.GetState(ctx, feePercentKey); err != nil {
		return fmt.Errorf("failed to load fee percent: %w", err)
	} else if ok {
		percent, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid stored fee percent %q: %w", v, err)
		}
		if err := s.fees.SetPercent(percent); err != nil {
			return err
		}
	}

	if v, ok, err := s.stateStore.GetState(ctx, feesAddressKey); err != nil {
		return fmt.Errorf("failed to load fees address: %w", err)
	} else if ok {
		addr, err := domain.ParseAddress(v)
		if err != nil {
			return fmt.Errorf("invalid stored fees address %q: %w", v, err)
		}
		if err := s.fees.SetAddress(addr); err != nil {
			return err
		}
	}

	return nil
}

// DepositResult describes a completed deposit
type DepositResult struct {
	Net     int64 `json:"net"`
	Fee     int64 `json:"fee"`
	Balance int64 `json:"balance"`
}

// Deposit pulls amount from the user's wallet, credits the net amount and
// forwards the fee.
func (s *Service) Deposit(ctx context.Context, user domain.Address, amount int64) (result *DepositResult, err error) {
	defer s.observe("deposit", amount, &err)

	if err := s.control.Check(); err != nil {
		return nil, err
	}
	if err := s.access.CheckNotBlacklisted(user); err != nil {
		return nil, err
	}
	if user.IsZero() {
		return nil, domain.ErrInvalidAddress
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	percent, feesAddr := s.fees.Snapshot()
	net, feeAmount := fee.Split(amount, percent)

	unlock := s.lockAccount(user)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if acct.Balance > math.MaxInt64-net {
		return nil, ErrInvalidAmount
	}

	if err := s.transport.Pull(ctx, user, amount); err != nil {
		return nil, err
	}

	// value has moved; the credit must land even if the caller goes away
	commitCtx := context.WithoutCancel(ctx)

	before := *acct
	acct.Balance += net
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveAccount(commitCtx, acct); err != nil {
		return nil, s.refundDeposit(ctx, user, amount, fmt.Errorf("failed to save account: %w", err))
	}

	if feeAmount > 0 {
		if err := s.transport.Push(ctx, feesAddr, feeAmount); err != nil {
			if restoreErr := s.store.SaveAccount(commitCtx, &before); restoreErr != nil {
				s.logger.Error("failed to restore account after fee transfer failure",
					zap.String("user", user.String()), zap.Error(restoreErr))
				return nil, errors.Join(err, restoreErr)
			}
			return nil, s.refundDeposit(ctx, user, amount, err)
		}
	}

	s.updateTotals(ctx, func(t *Totals) {
		t.DepositedGross += amount
		t.DepositedNet += net
		t.FeesPaid += feeAmount
	})

	s.emit(ctx, domain.EventDeposit, domain.SeverityInfo,
		fmt.Sprintf("Deposit of %d (fee %d)", net, feeAmount),
		domain.DepositData{Net: net, Fee: feeAmount}, user, user)

	return &DepositResult{Net: net, Fee: feeAmount, Balance: acct.Balance}, nil
}

// refundDeposit returns pulled value after a deposit could not complete
func (s *Service) refundDeposit(ctx context.Context, user domain.Address, amount int64, cause error) error {
	if err := s.transport.Push(context.WithoutCancel(ctx), user, amount); err != nil {
		s.logger.Error("failed to refund deposit",
			zap.String("user", user.String()),
			zap.Int64("amount", amount),
			zap.Error(err))
		return errors.Join(cause, fmt.Errorf("refund failed: %w", err))
	}
	return cause
}

// PlaceBet moves amount from the user's balance into their pending bet
func (s *Service) PlaceBet(ctx context.Context, operator, user domain.Address, amount int64) (err error) {
	defer s.observe("place_bet", amount, &err)

	if err := s.access.RequireOperator(operator); err != nil {
		return err
	}
	if err := s.control.Check(); err != nil {
		return err
	}
	if err := s.access.CheckNotBlacklisted(operator, user); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	unlock := s.lockAccount(user)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if acct.HasPendingBet() {
		return ErrBetAlreadyPending
	}
	if acct.Balance < amount {
		return ErrInsufficientBalance
	}

	acct.Balance -= amount
	acct.PendingBet = amount
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	s.emit(ctx, domain.EventBetPlaced, domain.SeverityInfo,
		fmt.Sprintf("Bet of %d placed", amount),
		domain.BetPlacedData{Amount: amount}, operator, user)

	return nil
}

// ResolveBet settles the user's pending bet and pays winnings when won.
// winnings is trusted operator input and is not derived from the stake.
func (s *Service) ResolveBet(ctx context.Context, operator, user domain.Address, won bool, winnings int64) (err error) {
	defer func() { s.observe("resolve_bet", winnings, &err) }()

	if err := s.access.RequireOperator(operator); err != nil {
		return err
	}
	if err := s.control.Check(); err != nil {
		return err
	}
	if winnings < 0 {
		return ErrInvalidAmount
	}
	if !won {
		winnings = 0
	}

	unlock := s.lockAccount(user)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if !acct.HasPendingBet() {
		return ErrNoPendingBet
	}

	before := *acct
	betAmount := acct.PendingBet
	acct.PendingBet = 0
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	if winnings > 0 {
		if err := s.transport.Push(ctx, user, winnings); err != nil {
			return s.restore(ctx, &before, err)
		}
	}

	s.updateTotals(ctx, func(t *Totals) {
		t.Settled += betAmount
		t.WinningsPaid += winnings
	})

	if winnings > 0 {
		s.emit(ctx, domain.EventWinningsDistributed, domain.SeverityInfo,
			fmt.Sprintf("Winnings of %d distributed", winnings),
			domain.AmountData{Amount: winnings}, operator, user)
	}
	s.emit(ctx, domain.EventBetResolved, domain.SeverityInfo,
		fmt.Sprintf("Bet of %d resolved (won=%t)", betAmount, won),
		domain.BetResolvedData{BetAmount: betAmount, Won: won, Winnings: winnings}, operator, user)

	return nil
}

// RewardTokens sends amount from custody to the user's wallet without
// touching their balance.
func (s *Service) RewardTokens(ctx context.Context, operator, user domain.Address, amount int64) (err error) {
	defer s.observe("reward", amount, &err)

	if err := s.access.RequireOperator(operator); err != nil {
		return err
	}
	if err := s.control.Check(); err != nil {
		return err
	}
	if err := s.access.CheckNotBlacklisted(operator, user); err != nil {
		return err
	}
	if user.IsZero() {
		return domain.ErrInvalidAddress
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	unlock := s.lockAccount(user)
	defer unlock()

	if err := s.transport.Push(ctx, user, amount); err != nil {
		return err
	}

	s.updateTotals(ctx, func(t *Totals) { t.Rewarded += amount })

	s.emit(ctx, domain.EventRewardGiven, domain.SeverityInfo,
		fmt.Sprintf("Reward of %d given", amount),
		domain.AmountData{Amount: amount}, operator, user)

	return nil
}

// EmergencyWithdraw pays out the user's whole balance. It is available
// while paused; pending bets stay locked.
func (s *Service) EmergencyWithdraw(ctx context.Context, user domain.Address) (amount int64, err error) {
	defer func() { s.observe("emergency_withdraw", amount, &err) }()

	if err := s.access.CheckNotBlacklisted(user); err != nil {
		return 0, err
	}

	unlock := s.lockAccount(user)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, user)
	if err != nil {
		return 0, fmt.Errorf("failed to load account: %w", err)
	}
	if acct.Balance <= 0 {
		return 0, ErrInvalidAmount
	}

	before := *acct
	amount = acct.Balance
	acct.Balance = 0
	acct.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveAccount(ctx, acct); err != nil {
		return 0, fmt.Errorf("failed to save account: %w", err)
	}

	if err := s.transport.Push(ctx, user, amount); err != nil {
		return 0, s.restore(ctx, &before, err)
	}

	s.updateTotals(ctx, func(t *Totals) { t.Withdrawn += amount })

	s.emit(ctx, domain.EventEmergencyWithdrawal, domain.SeverityWarning,
		fmt.Sprintf("Emergency withdrawal of %d", amount),
		domain.AmountData{Amount: amount}, user, user)

	return amount, nil
}

// RecoverFunds moves custody value that no user is owed to an admin-chosen
// address. Tracked balances are never touched.
func (s *Service) RecoverFunds(ctx context.Context, admin, to domain.Address, amount int64) (err error) {
	defer s.observe("recover", amount, &err)

	if err := s.access.RequireAdmin(admin); err != nil {
		return err
	}
	if to.IsZero() || s.custody.IsZero() {
		return domain.ErrInvalidAddress
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	// No deposit may be halfway between pull and credit while the surplus
	// is measured.
	s.gate.Lock()
	defer s.gate.Unlock()

	held, err := s.transport.BalanceOf(ctx, s.custody)
	if err != nil {
		return err
	}
	surplus := held - s.Totals().Liabilities()
	if amount > surplus {
		return fmt.Errorf("%w: %d exceeds recoverable surplus %d", ErrInsufficientBalance, amount, surplus)
	}

	if err := s.transport.Push(ctx, to, amount); err != nil {
		return err
	}

	s.updateTotals(ctx, func(t *Totals) { t.Recovered += amount })

	s.emit(ctx, domain.EventFundsRecovered, domain.SeverityWarning,
		fmt.Sprintf("Recovered %d surplus to %s", amount, to),
		domain.RecoveryData{To: to, Amount: amount}, admin, to)

	return nil
}

// SetDepositFee updates the fee percent applied to future deposits
func (s *Service) SetDepositFee(ctx context.Context, admin domain.Address, percent int) error {
	if err := s.access.RequireAdmin(admin); err != nil {
		return err
	}
	if err := fee.ValidatePercent(percent); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if s.stateStore != nil {
		if err := s.stateStore.SetState(ctx, feePercentKey, strconv.Itoa(percent), admin); err != nil {
			return fmt.Errorf("failed to persist fee percent: %w", err)
		}
	}
	if err := s.fees.SetPercent(percent); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	s.emit(ctx, domain.EventFeeUpdated, domain.SeverityInfo,
		fmt.Sprintf("Deposit fee set to %d%%", percent),
		domain.FeeData{Percent: percent}, admin, "")

	return nil
}

// SetFeesAddress updates where deposit fees are sent
func (s *Service) SetFeesAddress(ctx context.Context, admin, addr domain.Address) error {
	if err := s.access.RequireAdmin(admin); err != nil {
		return err
	}
	if addr.IsZero() {
		return domain.ErrInvalidAddress
	}
	if s.stateStore != nil {
		if err := s.stateStore.SetState(ctx, feesAddressKey, addr.String(), admin); err != nil {
			return fmt.Errorf("failed to persist fees address: %w", err)
		}
	}
	if err := s.fees.SetAddress(addr); err != nil {
		return err
	}

	s.emit(ctx, domain.EventFeesAddressUpdated, domain.SeverityInfo,
		fmt.Sprintf("Fees address set to %s", addr),
		domain.AddressData{Address: addr}, admin, addr)

	return nil
}

// GetAccount returns the stored account; unknown addresses read as zero
func (s *Service) GetAccount(ctx context.Context, user domain.Address) (*domain.Account, error) {
	return s.store.GetAccount(ctx, user)
}

func (s *Service) GetGameBalance(ctx context.Context, user domain.Address) (int64, error) {
	acct, err := s.store.GetAccount(ctx, user)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (s *Service) GetPendingBet(ctx context.Context, user domain.Address) (int64, error) {
	acct, err := s.store.GetAccount(ctx, user)
	if err != nil {
		return 0, err
	}
	return acct.PendingBet, nil
}

// GetWalletBalance asks the transport for the user's external balance
func (s *Service) GetWalletBalance(ctx context.Context, user domain.Address) (int64, error) {
	return s.transport.BalanceOf(ctx, user)
}

// Totals returns a snapshot of the running totals
func (s *Service) Totals() Totals {
	s.totalsMu.Lock()
	defer s.totalsMu.Unlock()
	return s.totals
}

// FeeConfig returns the current fee percent and fees address
func (s *Service) FeeConfig() (int, domain.Address) {
	return s.fees.Snapshot()
}

func (s *Service) lockAccount(addr domain.Address) func() {
	s.gate.RLock()
	unlock := s.locks.lock(addr)
	return func() {
		unlock()
		s.gate.RUnlock()
	}
}

// restore writes back the reserved account after a failed transport call
// under a context that survives the caller's cancellation.
func (s *Service) restore(ctx context.Context, before *domain.Account, cause error) error {
	if err := s.store.SaveAccount(context.WithoutCancel(ctx), before); err != nil {
		s.logger.Error("failed to restore account after transport failure",
			zap.String("user", before.Address.String()),
			zap.Error(err))
		return errors.Join(cause, fmt.Errorf("restore failed: %w", err))
	}
	return cause
}

// emit records a committed sub-effect. The state change already happened,
// so a failed write is logged rather than returned.
func (s *Service) emit(ctx context.Context, eventType domain.EventType, severity domain.EventSeverity, desc string, data interface{}, actor, subject domain.Address) {
	if s.audit == nil {
		return
	}
	opts := []audit.EventOption{audit.WithActor(actor)}
	if subject != "" {
		opts = append(opts, audit.WithSubject(subject))
	}
	if err := s.audit.Log(context.WithoutCancel(ctx), eventType, severity, desc, data, opts...); err != nil {
		s.logger.Error("failed to record audit event",
			zap.String("type", string(eventType)),
			zap.String("actor", actor.String()),
			zap.Error(err))
	}
}

func (s *Service) observe(op string, amount int64, errp *error) {
	result := resultLabel(*errp)
	s.metrics.Observe(op, result)
	if *errp == nil {
		s.metrics.AddVolume(op, amount)
		return
	}
	s.logger.Debug("ledger operation rejected",
		zap.String("op", op),
		zap.String("result", result),
		zap.Error(*errp))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, access.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, control.ErrPaused):
		return "paused"
	case errors.Is(err, access.ErrBlacklisted):
		return "blacklisted"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrBetAlreadyPending):
		return "bet_pending"
	case errors.Is(err, ErrNoPendingBet):
		return "no_pending_bet"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, domain.ErrInvalidAddress):
		return "invalid_input"
	case errors.Is(err, transport.ErrTransportFailure):
		return "transport_failure"
	default:
		return "error"
	}
}
