package account

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultManualCurrency applies when a manual account is created without a currency.
const DefaultManualCurrency = "USD"

// ManualAccount is a user-entered account as persisted by the manual-account store.
type ManualAccount struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Balance     decimal.Decimal `json:"balance"`
	Currency    string          `json:"currency"`
	Institution *string         `json:"institution,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ToAccount converts the stored record into the merged account form.
func (m ManualAccount) ToAccount() Account {
	return Account{
		ID:       m.ID,
		Name:     m.Name,
		Type:     m.Type,
		Currency: m.Currency,
		Balance: Balance{
			Current:   m.Balance,
			Available: decimal.NewNullDecimal(m.Balance),
		},
		Source:      SourceManual,
		Institution: m.Institution,
		LastUpdated: m.UpdatedAt,
	}
}

// ManualParams holds the user-editable fields of a manual account.
type ManualParams struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Balance     decimal.Decimal `json:"balance"`
	Currency    string          `json:"currency"`
	Institution *string         `json:"institution,omitempty"`
}

// Normalize trims input and applies defaults.
func (p *ManualParams) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.Currency == "" {
		p.Currency = DefaultManualCurrency
	}
	if p.Institution != nil {
		p.Institution = StringPtr(strings.TrimSpace(*p.Institution))
	}
}

// Validate checks the params after normalization.
func (p ManualParams) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(p.Name) > 255 {
		return fmt.Errorf("%w: name must be at most 255 characters", ErrInvalidInput)
	}
	if p.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidInput)
	}
	if len(p.Type) > 50 {
		return fmt.Errorf("%w: type must be at most 50 characters", ErrInvalidInput)
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// CreateManualParams contains the parameters for creating a manual account.
type CreateManualParams struct {
	UserID string
	ManualParams
}

// Validate checks create params.
func (p CreateManualParams) Validate() error {
	if err := ValidateUserID(p.UserID); err != nil {
		return err
	}
	return p.ManualParams.Validate()
}
