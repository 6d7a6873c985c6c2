package domain

import "time"

// AccountStatus is the lifecycle state of an Account. Accounts are
// created out-of-band and are read-only to the core.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountClosed    AccountStatus = "CLOSED"
)

// Account is immutable in currency for its lifetime; the core never
// writes to this table.
type Account struct {
	ID        string
	OwnerID   string
	Currency  string
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the account may participate in an
// authorization as payer or payee.
func (a Account) IsActive() bool {
	return a.Status == AccountActive
}

// AccountBalance is one-to-one with Account and is mutated only by the
// authorization engine, under a row lock, via an optimistic-version
// update.
type AccountBalance struct {
	AccountID      string
	AvailableMinor int64
	PendingMinor   int64
	Currency       string
	Version        int64
	UpdatedAt      time.Time
}
