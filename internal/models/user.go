package models

import (
	"fmt"
	"time"
)

// Transaction kinds and subtypes recorded in a user's transaction log.
const (
	TxCredit = "credit"
	TxDebit  = "debit"

	TxReferralBonus = "referral_bonus"
	TxWelcomeBonus  = "welcome_bonus"
	TxWithdrawal    = "withdrawal"
)

// MaxTransactions bounds the per-user transaction log; oldest entries are
// evicted from the head once the bound is exceeded.
const MaxTransactions = 50

type Transaction struct {
	Seq         int       `json:"seq" bson:"seq"`
	Amount      float64   `json:"amount" bson:"amount"`
	Kind        string    `json:"kind" bson:"kind"`
	Subtype     string    `json:"subtype" bson:"subtype"`
	Description string    `json:"description" bson:"description"`
	Date        time.Time `json:"date" bson:"date"`
}

type User struct {
	ID                   int64         `gorm:"primaryKey;autoIncrement:false" json:"user_id" bson:"user_id"`
	Balance              float64       `gorm:"default:0" json:"balance" bson:"balance"`
	ReferralCode         string        `gorm:"size:32;uniqueIndex" json:"referral_code" bson:"referral_code"`
	ReferralCount        int           `gorm:"default:0" json:"referral_count" bson:"referral_count"`
	TotalEarned          float64       `gorm:"default:0" json:"total_earned" bson:"total_earned"`
	TotalWithdrawn       float64       `gorm:"default:0" json:"total_withdrawn" bson:"total_withdrawn"`
	HasJoinedChannels    bool          `gorm:"default:false" json:"has_joined_channels" bson:"has_joined_channels"`
	WelcomeBonusReceived bool          `gorm:"default:false" json:"welcome_bonus_received" bson:"welcome_bonus_received"`
	Transactions         []Transaction `gorm:"serializer:json" json:"transactions" bson:"transactions"`
	JoinedAt             time.Time     `json:"joined_at" bson:"joined_at"`
	LastActive           time.Time     `json:"last_active" bson:"last_active"`
}

// ReferralCodeFor derives the stable referral code embedded in a user's
// deep link. Codes must be validated by exact match, never by prefix.
func ReferralCodeFor(userID int64) string {
	return fmt.Sprintf("REF%d", userID)
}

// AppendTransaction appends to the user's log with the next sequence number
// and evicts the oldest entries past MaxTransactions.
func (u *User) AppendTransaction(amount float64, kind, subtype, description string) {
	seq := 1
	if n := len(u.Transactions); n > 0 {
		seq = u.Transactions[n-1].Seq + 1
	}
	u.Transactions = append(u.Transactions, Transaction{
		Seq:         seq,
		Amount:      amount,
		Kind:        kind,
		Subtype:     subtype,
		Description: description,
		Date:        time.Now(),
	})
	if len(u.Transactions) > MaxTransactions {
		u.Transactions = u.Transactions[len(u.Transactions)-MaxTransactions:]
	}
}

// Clone returns a deep copy safe to hand outside the ledger's locks.
func (u *User) Clone() *User {
	cp := *u
	cp.Transactions = make([]Transaction, len(u.Transactions))
	copy(cp.Transactions, u.Transactions)
	return &cp
}
