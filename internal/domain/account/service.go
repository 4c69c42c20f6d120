package account

import (
	"context"
	"strings"
)

// ManualService contains the business logic for manual account operations
type ManualService struct {
	repo ManualRepository
}

// NewManualService creates a new manual account service
func NewManualService(repo ManualRepository) *ManualService {
	return &ManualService{repo: repo}
}

// List retrieves all manual accounts for a user
func (s *ManualService) List(ctx context.Context, userID string) ([]*ManualAccount, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.repo.ListByUserID(ctx, userID)
}

// ListAsAccounts returns the user's manual accounts in merged form
func (s *ManualService) ListAsAccounts(ctx context.Context, userID string) ([]Account, error) {
	manual, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(manual))
	for _, m := range manual {
		accounts = append(accounts, m.ToAccount())
	}
	return accounts, nil
}

// Get retrieves an account by ID, scoped to its owner
func (s *ManualService) Get(ctx context.Context, id, userID string) (*ManualAccount, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, ErrAccountNotFound
	}
	return s.repo.GetByID(ctx, id, userID)
}

// Create creates a new manual account with business validation
func (s *ManualService) Create(ctx context.Context, params CreateManualParams) (*ManualAccount, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, params)
}

// Update modifies an account after verifying ownership
func (s *ManualService) Update(ctx context.Context, id, userID string, params ManualParams) (*ManualAccount, error) {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return nil, err
	}

	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return s.repo.Update(ctx, id, userID, params)
}

// Delete deletes an account after verifying ownership
func (s *ManualService) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id, userID)
}

// Fetch reads the user's manual accounts straight from the store, for a
// process that owns the manual-account table.
func (s *ManualService) Fetch(ctx context.Context, userID string) FetchResult {
	accounts, err := s.ListAsAccounts(ctx, userID)
	if err != nil {
		return Failed(SourceManual, err)
	}
	return Succeeded(SourceManual, accounts)
}
