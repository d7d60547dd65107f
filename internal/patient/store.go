package patient

import "context"

// Store is the persistence gateway to the external patient table.
type Store interface {
	// Insert writes a single record and returns the stored representation,
	// including any store-assigned fields. It is never retried.
	Insert(ctx context.Context, r *Record) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Record, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}
