// Package model contains the domain entities of the survival pool service.
package model

import "time"

// EntryFeeCents is the fixed price of one pool entry.
const EntryFeeCents int64 = 1000

// ReferralBonusCents is the credit awarded to each side of a referral.
const ReferralBonusCents int64 = 1000

// AccountStatus describes the state of a user account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusBanned    AccountStatus = "banned"
)

// User represents a registered player of the survival pool.
type User struct {
	ID               int64
	Email            string
	PasswordHash     []byte
	FirstName        string
	LastName         string
	DateOfBirth      time.Time
	AddressLine1     string
	AddressLine2     string
	City             string
	State            string
	ZipCode          string
	Country          string
	AccountStatus    AccountStatus
	BalanceCents     int64
	CreditCents      int64
	PayPalPayerID    *string
	PayPalEmail      *string
	ReferralCode     *string
	ReferredBy       *int64
	ReferralCredited bool
	IsAdmin          bool
	LastLoginAt      *time.Time
	CreatedAt        time.Time
}

// PoolStatus describes the lifecycle state of a matchday pool.
type PoolStatus string

const (
	PoolStatusUpcoming  PoolStatus = "upcoming"
	PoolStatusActive    PoolStatus = "active"
	PoolStatusCompleted PoolStatus = "completed"
)

// Pool represents one matchday contest with its prize accounting.
type Pool struct {
	ID                int64
	Gameweek          int
	Season            string
	Status            PoolStatus
	EntryDeadline     time.Time
	PickDeadline      *time.Time
	FirstMatchKickoff *time.Time
	TotalEntries      int64
	PrizePoolCents    int64
	PlatformFeeCents  int64
	WinnerPayoutCents int64
	CreatedAt         time.Time
}

// AcceptsEntries reports whether the pool can still sell entries at the given moment.
func (p *Pool) AcceptsEntries(now time.Time) bool {
	return p.Status != PoolStatusCompleted && now.Before(p.EntryDeadline)
}

// EntryStatus describes the survival state of an entry.
type EntryStatus string

const (
	EntryStatusActive     EntryStatus = "active"
	EntryStatusEliminated EntryStatus = "eliminated"
	EntryStatusWinner     EntryStatus = "winner"
)

// Entry is one paid slot a user holds in a pool.
type Entry struct {
	ID                 int64
	UserID             int64
	PoolID             int64
	EntryNumber        int
	Status             EntryStatus
	EntryFeeCents      int64
	PayoutCents        int64
	EliminatedGameweek *int
	TransactionID      *int64
	CreatedAt          time.Time
}

// PickResult describes the outcome of a pick. Everything except pending is terminal.
type PickResult string

const (
	PickResultPending PickResult = "pending"
	PickResultWin     PickResult = "win"
	PickResultLoss    PickResult = "loss"
	PickResultDraw    PickResult = "draw"
)

// IsTerminal reports whether the result can no longer change.
func (r PickResult) IsTerminal() bool {
	return r == PickResultWin || r == PickResultLoss || r == PickResultDraw
}

// Eliminates reports whether the result eliminates the owning entry.
func (r PickResult) Eliminates() bool {
	return r == PickResultLoss || r == PickResultDraw
}

// ValidResult reports whether s is a result an admin may record.
func ValidResult(s string) (PickResult, bool) {
	switch PickResult(s) {
	case PickResultWin, PickResultLoss, PickResultDraw:
		return PickResult(s), true
	}
	return "", false
}

// Pick is a single team selection tied to one entry for one gameweek.
type Pick struct {
	ID         int64
	EntryID    int64
	PoolID     int64
	Gameweek   int
	TeamID     int64
	TeamName   string
	TeamCrest  string
	MatchID    *int64
	Result     PickResult
	PickedAt   time.Time
	ResultTime *time.Time
}

// EditWindow is the margin before the pool deadline after which picks freeze.
const EditWindow = time.Hour

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TransactionTypeDeposit       TransactionType = "deposit"
	TransactionTypeEntryPurchase TransactionType = "entry_purchase"
)

// Transaction is an append-only record of a monetary movement. It is an
// audit trail; the authoritative balances live on the user row.
type Transaction struct {
	ID                    int64
	UserID                int64
	Type                  TransactionType
	Status                string
	AmountCents           int64
	FeeCents              int64
	NetAmountCents        int64
	PaymentProvider       string
	ProviderTransactionID *string
	PaymentMethod         *string
	PoolID                *int64
	EntryID               *int64
	Description           string
	CreatedAt             time.Time
}

// Referral pairs a referrer with a referred user, with a one-time credit latch.
type Referral struct {
	ID              int64
	ReferrerID      int64
	ReferredID      int64
	CreditAwarded   bool
	CreditAwardedAt *time.Time
	CreatedAt       time.Time
}

// MagicLink is a single-use passwordless login token.
type MagicLink struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	IPAddress string
	CreatedAt time.Time
}

// PaymentSourceKind discriminates how an entry purchase is funded.
type PaymentSourceKind string

const (
	// PaymentSourceProvider funds the entry from a captured provider order.
	PaymentSourceProvider PaymentSourceKind = "provider"
	// PaymentSourceInternal funds the entry from the user's credit and balance.
	PaymentSourceInternal PaymentSourceKind = "internal"
)

// PaymentSource describes how an entry purchase is funded. For provider
// payments CaptureRef carries the provider's order id; internal payments
// draw credits first, then balance.
type PaymentSource struct {
	Kind       PaymentSourceKind
	CaptureRef string
}

// PickSelection is the optional team choice made at purchase time.
type PickSelection struct {
	TeamID    int64
	TeamName  string
	TeamCrest string
	MatchID   *int64
}
