package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dreamware/shardledger/internal/engineerr"
)

// WithRetry runs op, retrying with capped exponential backoff (per the
// error handling design: StorageUnavailable is retryable, capped at
// 30s) whenever op fails with engineerr.KindStorageUnavailable. Any
// other error, including engineerr.KindStorageCorrupt, is returned
// immediately without retry — corruption is fatal, not transient.
func WithRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	bo.InitialInterval = 50 * time.Millisecond

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if engineerr.KindOf(err) == engineerr.KindStorageUnavailable {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}
