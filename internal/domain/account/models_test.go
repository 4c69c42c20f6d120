package account

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsDebtType(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"credit", true},
		{"loan", true},
		{"CREDIT", true},
		{"Loan", true},
		{"checking", false},
		{"savings", false},
		{"investment", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := IsDebtType(tt.input)
			if got != tt.want {
				t.Errorf("IsDebtType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"BRL", true},
		{"USD", true},
		{"EUR", true},
		{"GBP", true},
		{"JPY", true},
		{"THB", true},
		{"IDR", true},
		{"INVALID", false},
		{"usd", false},
		{"US", false},
		{"", false},
		{"ABCD", false},
		{"U1D", false},
		{"U$D", false},
		{"ÜSD", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := IsValidCurrency(tt.input)
			if got != tt.want {
				t.Errorf("IsValidCurrency(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestAccount_InstitutionName(t *testing.T) {
	tests := []struct {
		name        string
		institution *string
		want        string
	}{
		{"absent", nil, ManualEntryInstitution},
		{"empty", new(string), ManualEntryInstitution},
		{"present", StringPtr("Example Bank"), "Example Bank"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := Account{Institution: tt.institution}
			if got := acc.InstitutionName(); got != tt.want {
				t.Errorf("InstitutionName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	for _, id := range []string{"", "   ", "\t"} {
		if err := ValidateUserID(id); !errors.Is(err, ErrInvalidUserID) {
			t.Errorf("ValidateUserID(%q) = %v, want ErrInvalidUserID", id, err)
		}
	}
	if err := ValidateUserID("user-1"); err != nil {
		t.Errorf("ValidateUserID(user-1) unexpected error: %v", err)
	}
}

func TestManualParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  ManualParams
		wantErr error
	}{
		{
			name:   "valid params",
			params: ManualParams{Name: "Cash", Type: "checking", Currency: "USD"},
		},
		{
			name:    "missing name",
			params:  ManualParams{Type: "checking", Currency: "USD"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "missing type",
			params:  ManualParams{Name: "Cash", Currency: "USD"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "invalid currency",
			params:  ManualParams{Name: "Cash", Type: "checking", Currency: "U5D"},
			wantErr: ErrInvalidCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManualParams_Normalize(t *testing.T) {
	params := ManualParams{
		Name:        "  House  ",
		Type:        " Investment ",
		Currency:    "",
		Institution: StringPtr("   "),
	}
	params.Normalize()

	if params.Name != "House" {
		t.Errorf("Name = %q, want House", params.Name)
	}
	if params.Type != "investment" {
		t.Errorf("Type = %q, want investment", params.Type)
	}
	if params.Currency != DefaultManualCurrency {
		t.Errorf("Currency = %q, want %q", params.Currency, DefaultManualCurrency)
	}
	if params.Institution != nil {
		t.Errorf("Institution = %q, want nil", *params.Institution)
	}
}

func TestManualAccount_ToAccount(t *testing.T) {
	m := ManualAccount{
		ID:       "m1",
		UserID:   "user-1",
		Name:     "Cash",
		Type:     "checking",
		Balance:  decimal.NewFromInt(10000),
		Currency: "USD",
	}

	acc := m.ToAccount()

	if acc.Source != SourceManual {
		t.Errorf("Source = %q, want manual", acc.Source)
	}
	if !acc.Balance.Current.Equal(m.Balance) {
		t.Errorf("Current = %s, want %s", acc.Balance.Current, m.Balance)
	}
	if !acc.Balance.Available.Valid || !acc.Balance.Available.Decimal.Equal(m.Balance) {
		t.Errorf("Available = %+v, want %s", acc.Balance.Available, m.Balance)
	}
	if acc.Institution != nil {
		t.Errorf("Institution = %q, want nil", *acc.Institution)
	}
}
