package runs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLoadTransition_RunningToCompleted(t *testing.T) {
	assert.NoError(t, ValidateLoadTransition(LoadRunning, LoadCompleted))
}

func TestValidateLoadTransition_TerminalIsImmutable(t *testing.T) {
	err := ValidateLoadTransition(LoadCompleted, LoadFailed)
	assert.ErrorIs(t, err, ErrInvalidLoadTransition)
}

func TestValidateLoadTransition_SameTerminalIsIdempotent(t *testing.T) {
	assert.NoError(t, ValidateLoadTransition(LoadCompleted, LoadCompleted))
}

func TestValidateLoadTransition_NonRunningSourceRejected(t *testing.T) {
	err := ValidateLoadTransition(LoadStatus("bogus"), LoadCompleted)
	assert.ErrorIs(t, err, ErrInvalidLoadTransition)
}

func TestValidateStagingTransition_RunningToFailed(t *testing.T) {
	assert.NoError(t, ValidateStagingTransition(StagingRunning, StagingFailed))
}

func TestValidateStagingTransition_TerminalIsImmutable(t *testing.T) {
	err := ValidateStagingTransition(StagingCompleted, StagingRunning)
	assert.ErrorIs(t, err, ErrInvalidStagingTransition)
}
