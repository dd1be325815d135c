package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is an in-memory implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]mockSchedule
	createErr error
	deleteErr error
}

type mockSchedule struct {
	input    SyncAddressInput
	interval time.Duration
}

var _ Scheduler = (*MockScheduler)(nil)

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]mockSchedule),
	}
}

// CreateSyncSchedule records that a schedule was created. Creating a
// schedule that already exists is an error, as it is in Temporal.
func (m *MockScheduler) CreateSyncSchedule(ctx context.Context, input SyncAddressInput, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	id := scheduleID(input.Address, input.Network)
	if _, exists := m.schedules[id]; exists {
		return fmt.Errorf("%w: %s", ErrScheduleExists, id)
	}
	m.schedules[id] = mockSchedule{input: input, interval: interval}
	return nil
}

// DeleteSyncSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteSyncSchedule(ctx context.Context, address, network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	id := scheduleID(address, network)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	delete(m.schedules, id)
	return nil
}

// DescribeSyncSchedule returns the recorded schedule.
func (m *MockScheduler) DescribeSyncSchedule(ctx context.Context, address, network string) (*ScheduleInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := scheduleID(address, network)
	s, exists := m.schedules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return &ScheduleInfo{
		ID:       id,
		Address:  s.input.Address,
		Network:  s.input.Network,
		Interval: s.interval,
	}, nil
}

// SetCreateError makes CreateSyncSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteSyncSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}
