package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardledger/internal/engineerr"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return engineerr.New(engineerr.KindStorageUnavailable, "transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryDoesNotRetryCorruption(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return engineerr.New(engineerr.KindStorageCorrupt, "bad data")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "a non-retryable error should not be retried")
}

func TestWithRetryDoesNotRetryPlainErrors(t *testing.T) {
	attempts := 0
	sentinel := errors.New("not classified")
	err := WithRetry(context.Background(), func() error {
		attempts++
		return sentinel
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "an unclassified error should not be retried")
}

func TestWithRetryPropagatesNilOnFirstTry(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}
