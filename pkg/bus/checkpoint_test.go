package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckpointTriggerFiresAfterCount(t *testing.T) {
	trig := newCheckpointTrigger(CheckpointConfig{After: 3})

	require.False(t, trig.Increment())
	require.False(t, trig.Increment())
	require.True(t, trig.Increment())
}

func TestCheckpointTriggerResetClearsCounter(t *testing.T) {
	trig := newCheckpointTrigger(CheckpointConfig{After: 2})

	require.False(t, trig.Increment())
	trig.Reset()
	require.False(t, trig.Increment())
	require.True(t, trig.Increment())
}

func TestCheckpointTriggerFiresOnElapsedWindow(t *testing.T) {
	trig := newCheckpointTrigger(CheckpointConfig{Every: time.Millisecond})
	time.Sleep(2 * time.Millisecond)
	require.True(t, trig.Increment())
}

func TestValidateCheckpointConsistencyRejectsMismatch(t *testing.T) {
	eps := []Endpoint{
		{Path: "orders", Group: "billing", Checkpoint: CheckpointConfig{After: 10}},
		{Path: "orders", Group: "billing", Checkpoint: CheckpointConfig{After: 20}},
	}
	require.Error(t, ValidateCheckpointConsistency(eps))
}

func TestValidateCheckpointConsistencyAllowsMatchingOrUngrouped(t *testing.T) {
	eps := []Endpoint{
		{Path: "orders", Group: "billing", Checkpoint: CheckpointConfig{After: 10}},
		{Path: "orders", Group: "billing", Checkpoint: CheckpointConfig{After: 10}},
		{Path: "orders", Checkpoint: CheckpointConfig{After: 99}},
	}
	require.NoError(t, ValidateCheckpointConsistency(eps))
}
