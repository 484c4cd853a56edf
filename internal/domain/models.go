// Package domain contains the core models shared by the ledger services
//
// Key concepts:
//   - Account: spendable balance plus the amount locked in an unresolved bet
//   - Role: admin or operator privileges held by an address
//   - Event: a durable audit record emitted for every completed sub-effect
package domain

import (
	"encoding/json"
	"time"
)

// Account is a user's position held by the ledger.
// PendingBet is zero when no wager is outstanding.
type Account struct {
	Address    Address   `json:"address" db:"address"`
	Balance    int64     `json:"balance" db:"balance"`
	PendingBet int64     `json:"pending_bet" db:"pending_bet"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// HasPendingBet reports whether the account is in the BetPending state
func (a Account) HasPendingBet() bool {
	return a.PendingBet > 0
}

// Total returns balance plus the amount locked in the pending bet
func (a Account) Total() int64 {
	return a.Balance + a.PendingBet
}

// Role represents a privilege level
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// EventType identifies an audit event
type EventType string

const (
	EventDeposit             EventType = "deposit"
	EventBetPlaced           EventType = "bet_placed"
	EventBetResolved         EventType = "bet_resolved"
	EventWinningsDistributed EventType = "winnings_distributed"
	EventRewardGiven         EventType = "reward_given"
	EventEmergencyWithdrawal EventType = "emergency_withdrawal"
	EventFundsRecovered      EventType = "funds_recovered"
	EventOperatorAdded       EventType = "operator_added"
	EventOperatorRemoved     EventType = "operator_removed"
	EventAdminAdded          EventType = "admin_added"
	EventAdminRemoved        EventType = "admin_removed"
	EventBlacklisted         EventType = "blacklisted"
	EventUnblacklisted       EventType = "unblacklisted"
	EventPaused              EventType = "paused"
	EventUnpaused            EventType = "unpaused"
	EventFeeUpdated          EventType = "fee_updated"
	EventFeesAddressUpdated  EventType = "fees_address_updated"
	EventLogin               EventType = "login"
	EventLoginFailed         EventType = "login_failed"
)

// EventSeverity represents audit event severity
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// Event is a single audit log record
type Event struct {
	ID          string          `json:"id" db:"id"`
	Sequence    uint64          `json:"sequence" db:"sequence"`
	Type        EventType       `json:"type" db:"type"`
	Severity    EventSeverity   `json:"severity" db:"severity"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	Actor       Address         `json:"actor,omitempty" db:"actor"`
	Subject     Address         `json:"subject,omitempty" db:"subject"`
	Description string          `json:"description" db:"description"`
	Data        json.RawMessage `json:"data,omitempty" db:"data"`
	Component   string          `json:"component" db:"component"`
}

// Decode unmarshals the event payload into v
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Event payloads

type DepositData struct {
	Net int64 `json:"net"`
	Fee int64 `json:"fee"`
}

type BetPlacedData struct {
	Amount int64 `json:"amount"`
}

type BetResolvedData struct {
	BetAmount int64 `json:"bet_amount"`
	Won       bool  `json:"won"`
	Winnings  int64 `json:"winnings"`
}

type AmountData struct {
	Amount int64 `json:"amount"`
}

type RecoveryData struct {
	To     Address `json:"to"`
	Amount int64   `json:"amount"`
}

type FeeData struct {
	Percent int `json:"percent"`
}

type AddressData struct {
	Address Address `json:"address"`
}

type PauseData struct {
	Paused bool `json:"paused"`
}
