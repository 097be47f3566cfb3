package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		wantErr  error
	}{
		{StatusPending, StatusLoading, nil},
		{StatusPending, StatusError, nil},
		{StatusLoading, StatusDone, nil},
		{StatusLoading, StatusError, nil},
		{StatusDone, StatusDone, nil},
		{StatusError, StatusError, nil},
		{StatusPending, StatusDone, ErrInvalidTransition},
		{StatusPending, StatusPending, ErrInvalidTransition},
		{StatusLoading, StatusLoading, ErrInvalidTransition},
		{StatusLoading, StatusPending, ErrBackwardTransition},
		{StatusDone, StatusError, ErrTerminalStateImmutable},
		{StatusError, StatusDone, ErrTerminalStateImmutable},
		{StatusDone, StatusPending, ErrTerminalStateImmutable},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusLoading.IsTerminal())
	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
}
