package backfill

import "fmt"

// RowError reports a token that could not be resolved or persisted.
type RowError struct {
	Table   string
	TokenID int64
	Err     error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s token %d: %v", e.Table, e.TokenID, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}
