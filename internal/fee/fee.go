// Package fee implements the deposit fee policy
package fee

import (
	"errors"
	"sync"

	"github.com/alexbotov/betledger/internal/domain"
)

// MaxPercent is the highest configurable fee
const MaxPercent = 100

var ErrInvalidPercent = errors.New("fee percent must be between 0 and 100")

// Split returns the net amount credited and the fee taken from a deposit.
// fee = floor(amount * percent / 100); net = amount - fee.
// percent is assumed to be already validated; amount must be non-negative.
func Split(amount int64, percent int) (net, fee int64) {
	p := int64(percent)
	// Split the multiplication so large amounts cannot overflow.
	fee = (amount/100)*p + (amount%100)*p/100
	return amount - fee, fee
}

// Config holds the fee percentage and the destination of collected fees
type Config struct {
	mu      sync.RWMutex
	percent int
	address domain.Address
}

// NewConfig creates a validated fee configuration
func NewConfig(percent int, address domain.Address) (*Config, error) {
	if err := ValidatePercent(percent); err != nil {
		return nil, err
	}
	if address.IsZero() {
		return nil, domain.ErrInvalidAddress
	}
	return &Config{percent: percent, address: address}, nil
}

// ValidatePercent checks a fee percentage against [0, MaxPercent]
func ValidatePercent(percent int) error {
	if percent < 0 || percent > MaxPercent {
		return ErrInvalidPercent
	}
	return nil
}

// Snapshot returns the percent and fees address read together
func (c *Config) Snapshot() (int, domain.Address) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.percent, c.address
}

func (c *Config) Percent() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.percent
}

func (c *Config) Address() domain.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// SetPercent updates the fee percentage
func (c *Config) SetPercent(percent int) error {
	if err := ValidatePercent(percent); err != nil {
		return err
	}
	c.mu.Lock()
	c.percent = percent
	c.mu.Unlock()
	return nil
}

// SetAddress updates the fee destination
func (c *Config) SetAddress(address domain.Address) error {
	if address.IsZero() {
		return domain.ErrInvalidAddress
	}
	c.mu.Lock()
	c.address = address
	c.mu.Unlock()
	return nil
}
