package account

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies where an account record came from.
type Source string

const (
	SourceManual Source = "manual"
	SourceLinked Source = "linked"
)

// ManualEntryInstitution groups accounts that have no holding institution.
const ManualEntryInstitution = "Manual Entry"

var (
	// Account types that carry debt rather than assets
	debtTypes = map[string]struct{}{
		"credit": {},
		"loan":   {},
	}
)

// Domain errors
var (
	ErrInvalidUserID   = errors.New("valid user ID is required")
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidCurrency = errors.New("currency must be a three-letter uppercase code")
	ErrRefreshFailed   = errors.New("account refresh failed")
	ErrSourceFailed    = errors.New("account source fetch failed")
	ErrProviderMissing = errors.New("linked account provider is not configured")
)

// Balance holds the monetary state of an account.
// Current is always present; Available depends on the source.
type Balance struct {
	Current   decimal.Decimal     `json:"current"`
	Available decimal.NullDecimal `json:"available"`
}

// Account is the normalized, merged form of a financial account.
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Currency    string    `json:"currency"`
	Balance     Balance   `json:"balance"`
	Source      Source    `json:"source"`
	Institution *string   `json:"institution,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// IsDebt reports whether the account type is debt-bearing (credit, loan).
func (a Account) IsDebt() bool {
	return IsDebtType(a.Type)
}

// InstitutionName returns the institution label used for grouping.
func (a Account) InstitutionName() string {
	if a.Institution == nil || *a.Institution == "" {
		return ManualEntryInstitution
	}
	return *a.Institution
}

// IsDebtType checks whether the given account type counts towards debt.
func IsDebtType(t string) bool {
	_, ok := debtTypes[strings.ToLower(t)]
	return ok
}

// IsValidCurrency reports whether c has the shape of an ISO 4217 code:
// exactly three uppercase ASCII letters. Membership in the registry is not
// checked, so newly issued codes are accepted.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}

// ValidateUserID rejects empty user identifiers.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}
	return nil
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
