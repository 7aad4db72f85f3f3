package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoverable(t *testing.T) {
	base := errors.New("portal exploded")

	require.Nil(t, Recoverable(nil))
	require.False(t, IsRecoverable(base))
	require.True(t, IsRecoverable(Recoverable(base)))

	// classification survives further wrapping
	wrapped := fmt.Errorf("cycle failed: %w", Recoverable(base))
	require.True(t, IsRecoverable(wrapped))
	require.True(t, errors.Is(wrapped, base))
}
