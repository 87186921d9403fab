package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks input rejected before it reaches the ledger.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced record that does not exist locally.
	ErrNotFound = errors.New("record not found")
)

// StorageError means a ledger batch was rejected and nothing was committed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// SyncConflictError means the cloud rejected a write that had already been
// applied locally; the local rows were reverted before this is returned.
type SyncConflictError struct {
	Kinds []Kind
	IDs   []string
	Err   error
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("sync conflict on %s: %v", strings.Join(e.IDs, ","), e.Err)
}

func (e *SyncConflictError) Unwrap() error { return e.Err }
