package account

import "github.com/shopspring/decimal"

// TypeBucket aggregates accounts sharing a type.
type TypeBucket struct {
	Count        int             `json:"count"`
	TotalBalance decimal.Decimal `json:"totalBalance"`
}

// InstitutionBucket aggregates accounts held at one institution.
type InstitutionBucket struct {
	Name         string          `json:"name"`
	AccountCount int             `json:"accountCount"`
	TotalBalance decimal.Decimal `json:"totalBalance"`
}

// Summary is derived from an account set and never stored.
type Summary struct {
	TotalBalance   decimal.Decimal       `json:"totalBalance"`
	TotalDebt      decimal.Decimal       `json:"totalDebt"`
	NetWorth       decimal.Decimal       `json:"netWorth"`
	AccountsByType map[string]TypeBucket `json:"accountsByType"`
	Institutions   []InstitutionBucket   `json:"institutions"`
}

// Summarize computes totals and rollups for accounts.
// Institutions are listed in order of first appearance.
func Summarize(accounts []Account) Summary {
	summary := Summary{
		TotalBalance:   decimal.Zero,
		TotalDebt:      decimal.Zero,
		AccountsByType: make(map[string]TypeBucket),
		Institutions:   []InstitutionBucket{},
	}

	institutionIndex := make(map[string]int)

	for _, acc := range accounts {
		balance := acc.Balance.Current

		if acc.IsDebt() {
			summary.TotalDebt = summary.TotalDebt.Add(balance)
		} else {
			summary.TotalBalance = summary.TotalBalance.Add(balance)
		}

		bucket, ok := summary.AccountsByType[acc.Type]
		if !ok {
			bucket.TotalBalance = decimal.Zero
		}
		bucket.Count++
		bucket.TotalBalance = bucket.TotalBalance.Add(balance)
		summary.AccountsByType[acc.Type] = bucket

		name := acc.InstitutionName()
		idx, ok := institutionIndex[name]
		if !ok {
			idx = len(summary.Institutions)
			institutionIndex[name] = idx
			summary.Institutions = append(summary.Institutions, InstitutionBucket{
				Name:         name,
				TotalBalance: decimal.Zero,
			})
		}
		summary.Institutions[idx].AccountCount++
		summary.Institutions[idx].TotalBalance = summary.Institutions[idx].TotalBalance.Add(balance)
	}

	summary.NetWorth = summary.TotalBalance.Sub(summary.TotalDebt)

	return summary
}
