package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleID(t *testing.T) {
	assert.Equal(t, "sync-address-mainnet-abc", scheduleID("abc", "mainnet"))
	assert.NotEqual(t, scheduleID("abc", "mainnet"), scheduleID("abc", "devnet"))
	assert.NotEqual(t, scheduleID("abc", "mainnet"), workflowID("abc", "mainnet"))
}

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	input := SyncAddressInput{Address: "abc", Network: "mainnet", Limit: 50}

	s := NewMockScheduler()
	require.NoError(t, s.CreateSyncSchedule(ctx, input, time.Minute))
	assert.Equal(t, 1, s.ScheduleCount())

	err := s.CreateSyncSchedule(ctx, input, time.Minute)
	assert.ErrorIs(t, err, ErrScheduleExists)

	info, err := s.DescribeSyncSchedule(ctx, "abc", "mainnet")
	require.NoError(t, err)
	assert.Equal(t, scheduleID("abc", "mainnet"), info.ID)
	assert.Equal(t, time.Minute, info.Interval)

	_, err = s.DescribeSyncSchedule(ctx, "abc", "devnet")
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	require.NoError(t, s.DeleteSyncSchedule(ctx, "abc", "mainnet"))
	assert.Equal(t, 0, s.ScheduleCount())
	assert.ErrorIs(t, s.DeleteSyncSchedule(ctx, "abc", "mainnet"), ErrScheduleNotFound)

	s.SetCreateError(errors.New("temporal unavailable"))
	assert.Error(t, s.CreateSyncSchedule(ctx, input, time.Minute))
}

type recordingRegistry struct {
	workflows  int
	activities int
}

func (r *recordingRegistry) RegisterWorkflow(interface{}) { r.workflows++ }
func (r *recordingRegistry) RegisterActivity(interface{}) { r.activities++ }

func TestRegister(t *testing.T) {
	r := &recordingRegistry{}
	register(r, NewActivities(nil, nil, nil, nil, nil, testLogger()))
	assert.Equal(t, 1, r.workflows)
	assert.Equal(t, 5, r.activities)
}
