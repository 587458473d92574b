package reconlog

import "context"

// Repository persists log entries. Save always appends.
type Repository interface {
	Save(ctx context.Context, entry *Entry) error
	// History returns every entry for a transaction reference, oldest first.
	History(ctx context.Context, reference string) ([]Entry, error)
}
