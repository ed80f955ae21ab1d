package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildsBareError(t *testing.T) {
	err := New(KindBusy, "semaphore saturated")
	assert.Equal(t, KindBusy, err.Kind)
	assert.Equal(t, "Busy: semaphore saturated", err.Error())
}

func TestErrorWithoutReasonPrintsKindOnly(t *testing.T) {
	err := New(KindConflicting, "")
	assert.Equal(t, "Conflicting", err.Error())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindStorageUnavailable, cause, "flush batch")
	assert.ErrorIs(t, err, cause, "errors.Is should see through to the wrapped cause")
}

func TestIsMatchesKind(t *testing.T) {
	err := New(KindPrepareFail, "target declined")
	assert.True(t, Is(err, KindPrepareFail))
	assert.False(t, Is(err, KindBusy))
}

func TestIsOnPlainErrorIsFalse(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindBusy))
}

func TestKindOfExtractsKind(t *testing.T) {
	err := New(KindCancelled, "ctx done")
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestKindOfOnPlainErrorReturnsUnknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestKindStringCoversAllValues(t *testing.T) {
	kinds := []Kind{
		KindBusy, KindInvalidTransaction, KindUnknownParent,
		KindStorageUnavailable, KindStorageCorrupt, KindPrepareFail,
		KindConflicting, KindCancelled,
	}
	for _, k := range kinds {
		assert.NotEqual(t, "Unknown", k.String(), "expected a named string for %d", k)
	}
	assert.Equal(t, "Unknown", KindUnknown.String())
}
