package services

import (
	"context"

	"cropledger/internal/repos"
)

// Writer commits one ledger batch. *repos.Ledger writes locally only;
// *syncer.Engine also propagates the batch to the cloud.
type Writer interface {
	Write(ctx context.Context, owner string, fn func(*repos.Tx) error) (repos.Committed, error)
}
