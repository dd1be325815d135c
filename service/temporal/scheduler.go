package temporal

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrScheduleExists is returned when an address already has a schedule.
	ErrScheduleExists = errors.New("schedule already exists")
	// ErrScheduleNotFound is returned when an address has no schedule.
	ErrScheduleNotFound = errors.New("schedule not found")
)

// Scheduler manages Temporal schedules for address syncing.
// Each (network, address) pair gets its own schedule that triggers SyncAddressWorkflow.
type Scheduler interface {
	// CreateSyncSchedule creates a schedule that syncs address on the given interval.
	CreateSyncSchedule(ctx context.Context, input SyncAddressInput, interval time.Duration) error

	// DeleteSyncSchedule deletes the schedule for an address, stopping its syncs.
	DeleteSyncSchedule(ctx context.Context, address, network string) error

	// DescribeSyncSchedule reports the state of an address's schedule.
	DescribeSyncSchedule(ctx context.Context, address, network string) (*ScheduleInfo, error)
}

// ScheduleInfo is a summary of a sync schedule.
type ScheduleInfo struct {
	ID          string        `json:"id"`
	Address     string        `json:"address"`
	Network     string        `json:"network"`
	Interval    time.Duration `json:"interval"`
	Paused      bool          `json:"paused"`
	NumActions  int           `json:"num_actions"`
	NextRunTime *time.Time    `json:"next_run_time,omitempty"`
}

// scheduleID returns the Temporal schedule ID for an address on a network.
func scheduleID(address, network string) string {
	return "sync-address-" + network + "-" + address
}

// workflowID returns the ID used for workflows started by an address's schedule.
func workflowID(address, network string) string {
	return "sync-address-" + network + "-" + address + "-run"
}
