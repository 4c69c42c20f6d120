package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// maxRecentTransactions bounds the per-account list of live transactions.
const maxRecentTransactions = 50

// AccountUpdate is a balance delta pushed by the live sync channel.
type AccountUpdate struct {
	AccountID string    `json:"accountId"`
	Balance   Balance   `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is a single transaction delivered by the live sync channel.
type Transaction struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Date     string          `json:"date"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Pending  bool            `json:"pending"`
}

// TransactionUpdate announces a new or changed transaction on an account.
type TransactionUpdate struct {
	AccountID   string      `json:"accountId"`
	Transaction Transaction `json:"transaction"`
}

// applyTo returns a copy of acc carrying the pushed balance.
// Only Balance and LastUpdated change; every other field is kept.
func (u AccountUpdate) applyTo(acc Account) Account {
	acc.Balance = u.Balance
	if !u.UpdatedAt.IsZero() {
		acc.LastUpdated = u.UpdatedAt
	}
	return acc
}

// prependTransaction puts tx at the head of list, replacing an entry with the
// same ID and trimming to maxRecentTransactions. list is never modified.
func prependTransaction(list []Transaction, tx Transaction) []Transaction {
	out := make([]Transaction, 0, min(len(list)+1, maxRecentTransactions))
	out = append(out, tx)
	for _, existing := range list {
		if len(out) == maxRecentTransactions {
			break
		}
		if existing.ID != "" && existing.ID == tx.ID {
			continue
		}
		out = append(out, existing)
	}
	return out
}
