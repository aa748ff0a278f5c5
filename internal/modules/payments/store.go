package payments

import "context"

// Filter narrows store queries. Zero values are ignored.
type Filter struct {
	ID      string
	Creator string
	Status  Status
}

// Store persists Payment records.
//
// Save upserts by id and must translate a violation of the
// single-pending constraint into ErrDuplicatePending. Status
// transitions go through SetStatus only: Save fails with
// ErrStatusConflict when the stored status differs from the one being
// written, so a stale snapshot can never resurrect a payment that
// moved on concurrently.
//
// SetStatus is the compare-and-swap used for every status transition:
// it succeeds only when the stored status is still one of from, so two
// concurrent callers can never both move the same payment forward.
type Store interface {
	FindAll(ctx context.Context, f Filter) ([]Payment, error)
	FindOne(ctx context.Context, f Filter) (*Payment, error)
	Save(ctx context.Context, p *Payment) error
	SetStatus(ctx context.Context, id string, from []Status, to Status) error
}
