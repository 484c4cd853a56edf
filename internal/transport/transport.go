// Package transport moves the underlying asset in and out of custody
//
// The ledger treats every call as a single external effect that either
// happens or fails. Implementations must not call back into the ledger.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexbotov/betledger/internal/domain"
)

var ErrTransportFailure = errors.New("transport failure")

// Transport is the value movement collaborator used by the ledger
type Transport interface {
	// Pull moves amount from a user wallet into custody
	Pull(ctx context.Context, from domain.Address, amount int64) error
	// Push moves amount from custody to a wallet
	Push(ctx context.Context, to domain.Address, amount int64) error
	// BalanceOf returns the wallet balance of an address
	BalanceOf(ctx context.Context, addr domain.Address) (int64, error)
}

// Memory is an in-process Transport backed by a wallet map.
type Memory struct {
	custody domain.Address

	mu       sync.Mutex
	wallets  map[domain.Address]int64
	failNext int
	calls    int
}

// NewMemory creates a memory transport whose custody account is custody
func NewMemory(custody domain.Address) *Memory {
	return &Memory{
		custody: custody,
		wallets: make(map[domain.Address]int64),
	}
}

// Custody returns the custody address
func (m *Memory) Custody() domain.Address {
	return m.custody
}

// Mint credits an external wallet
func (m *Memory) Mint(addr domain.Address, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[addr] += amount
}

// FailNext makes the next n movement calls fail with ErrTransportFailure
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// Calls returns the number of movement calls attempted
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Memory) Pull(ctx context.Context, from domain.Address, amount int64) error {
	return m.move(ctx, from, m.custody, amount)
}

func (m *Memory) Push(ctx context.Context, to domain.Address, amount int64) error {
	return m.move(ctx, m.custody, to, amount)
}

func (m *Memory) BalanceOf(_ context.Context, addr domain.Address) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[addr], nil
}

func (m *Memory) move(ctx context.Context, from, to domain.Address, amount int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("%w: injected failure", ErrTransportFailure)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: invalid amount %d", ErrTransportFailure, amount)
	}
	if m.wallets[from] < amount {
		return fmt.Errorf("%w: insufficient funds in %s", ErrTransportFailure, from)
	}

	m.wallets[from] -= amount
	m.wallets[to] += amount
	return nil
}
