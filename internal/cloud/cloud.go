// Package cloud holds the remote authoritative store adapters and the
// real-time change stream shared by all devices of an owner.
package cloud

import (
	"context"
	"errors"

	"cropledger/internal/domain"
)

var (
	// ErrUnavailable means the cloud could not be reached; the write may be retried later.
	ErrUnavailable = errors.New("cloud unavailable")
	// ErrConflict means the cloud refused the write; retrying it will not help.
	ErrConflict = errors.New("cloud rejected write")
)

// Store is the remote authoritative database.
type Store interface {
	Ping(ctx context.Context) error
	// Snapshot returns every record of kind held for owner, tombstones included.
	Snapshot(ctx context.Context, owner string, kind domain.Kind) ([]domain.RemoteRecord, error)
	// Apply commits the mutations atomically and acknowledges each one.
	// Updates and deletes are rejected with ErrConflict when BaseRev is not
	// the record's current revision.
	Apply(ctx context.Context, owner string, muts []domain.Mutation) ([]domain.Ack, error)
}

// Stream delivers the owner's committed cloud changes as they happen.
type Stream interface {
	Subscribe(ctx context.Context, owner string) (<-chan domain.Change, error)
}

// Publisher fans committed changes out to subscribed devices.
type Publisher interface {
	Publish(ctx context.Context, owner string, changes []domain.Change) error
}
