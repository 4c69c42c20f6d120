package account

import "context"

// ManualRepository defines data access for manual accounts.
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type ManualRepository interface {
	// ListByUserID retrieves all manual accounts for a user, ordered by name
	ListByUserID(ctx context.Context, userID string) ([]*ManualAccount, error)

	// GetByID retrieves a manual account owned by userID
	GetByID(ctx context.Context, id, userID string) (*ManualAccount, error)

	// Create inserts a new manual account
	Create(ctx context.Context, params CreateManualParams) (*ManualAccount, error)

	// Update replaces the editable fields of an account owned by userID
	Update(ctx context.Context, id, userID string, params ManualParams) (*ManualAccount, error)

	// Delete removes an account owned by userID
	Delete(ctx context.Context, id, userID string) error
}
