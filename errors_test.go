package txq

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewQueueError("SETUP", 0, 3, ErrCodeQueueBusy, "unable to release queue index")
	assert.Contains(t, err.Error(), "txq:")
	assert.Contains(t, err.Error(), "unable to release queue index")

	// Message falls back to the code when empty.
	bare := NewError("CLOSE", ErrCodeHardware, "")
	assert.Contains(t, bare.Error(), string(ErrCodeHardware))
}

func TestErrorCategoryMatching(t *testing.T) {
	err := NewQueueError("SETUP", 0, 1, ErrCodeUnsupportedOffload, "tso not available")

	assert.True(t, IsCode(err, ErrCodeUnsupportedOffload))
	assert.False(t, IsCode(err, ErrCodeQueueBusy))

	// errors.Is matches on category across wrapping.
	wrapped := fmt.Errorf("setting up port: %w", err)
	assert.True(t, errors.Is(wrapped, &Error{Code: ErrCodeUnsupportedOffload}))
	assert.True(t, IsCode(wrapped, ErrCodeUnsupportedOffload))
}

func TestWrapErrorPreservesContext(t *testing.T) {
	inner := NewQueueError("CREATE_QP", 0, 2, ErrCodeHardware, "device rejected attributes")
	inner.Errno = 22

	outer := WrapError("SETUP", ErrCodeAllocationFailure, inner)
	require.NotNil(t, outer)
	assert.Equal(t, "SETUP", outer.Op)
	assert.Equal(t, 2, outer.Queue)
	assert.Equal(t, ErrCodeHardware, outer.Code, "inner category wins")
	assert.Equal(t, int32(22), outer.Errno)
}

func TestWrapErrorExtractsErrno(t *testing.T) {
	inner := fmt.Errorf("mapping doorbell: %w", syscall.ENOMEM)
	outer := WrapError("SETUP", ErrCodeAllocationFailure, inner)

	require.NotNil(t, outer)
	assert.Equal(t, int32(syscall.ENOMEM), outer.Errno)
	assert.True(t, IsErrno(outer, int32(syscall.ENOMEM)))
	assert.True(t, errors.Is(outer, syscall.ENOMEM))
}

func TestWrapErrorNil(t *testing.T) {
	assert.Nil(t, WrapError("SETUP", ErrCodeHardware, nil))
}
