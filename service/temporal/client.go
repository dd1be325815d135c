package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

var _ Scheduler = (*Client)(nil)

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreateSyncSchedule creates a Temporal schedule that runs SyncAddressWorkflow
// for input.Address every interval.
func (c *Client) CreateSyncSchedule(ctx context.Context, input SyncAddressInput, interval time.Duration) error {
	id := scheduleID(input.Address, input.Network)

	c.logger.Debug("creating sync schedule",
		"address", input.Address,
		"network", input.Network,
		"schedule_id", id,
		"interval", interval,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        workflowID(input.Address, input.Network),
			Workflow:  SyncAddressWorkflow,
			TaskQueue: c.taskQueue,
			Args:      []interface{}{input},
		},
		Memo: map[string]interface{}{
			"address":    input.Address,
			"network":    input.Network,
			"created_by": "txnorm",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"address", input.Address,
			"schedule_id", id,
			"error", err,
		)
		if errors.Is(err, sdktemporal.ErrScheduleAlreadyRunning) {
			return fmt.Errorf("%w: %s", ErrScheduleExists, id)
		}
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("sync schedule created",
		"address", input.Address,
		"network", input.Network,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteSyncSchedule deletes the Temporal schedule for an address.
func (c *Client) DeleteSyncSchedule(ctx context.Context, address, network string) error {
	id := scheduleID(address, network)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
		}
		c.logger.Error("failed to delete schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("sync schedule deleted",
		"address", address,
		"network", network,
		"schedule_id", id,
	)
	return nil
}

// DescribeSyncSchedule returns the interval and run state of an address's schedule.
func (c *Client) DescribeSyncSchedule(ctx context.Context, address, network string) (*ScheduleInfo, error) {
	id := scheduleID(address, network)

	desc, err := c.client.ScheduleClient().GetHandle(ctx, id).Describe(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
		}
		return nil, fmt.Errorf("failed to describe schedule %q: %w", id, err)
	}

	info := &ScheduleInfo{
		ID:         id,
		Address:    address,
		Network:    network,
		NumActions: desc.Info.NumActions,
	}
	if spec := desc.Schedule.Spec; spec != nil && len(spec.Intervals) > 0 {
		info.Interval = spec.Intervals[0].Every
	}
	if state := desc.Schedule.State; state != nil {
		info.Paused = state.Paused
	}
	if len(desc.Info.NextActionTimes) > 0 {
		next := desc.Info.NextActionTimes[0]
		info.NextRunTime = &next
	}
	return info, nil
}

func isNotFound(err error) bool {
	var notFound *serviceerror.NotFound
	return errors.As(err, &notFound)
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
