package api

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// InvokeAction starts a task for the given action and returns it in
// PhaseInvoked. The action family is derived from the identifier.
func (c *Client) InvokeAction(ctx context.Context, id ActionID) (*Task, error) {
	family, err := id.Family()
	if err != nil {
		return nil, err
	}

	path := c.modelPath(string(family), strconv.FormatInt(int64(id), 10), "tasks")

	var env taskEnvelope
	if err := c.postJSON(ctx, path, createTaskRequest{LocaleName: defaultLocale}, &env); err != nil {
		return nil, err
	}

	if env.Task == nil || env.Task.TaskID == "" {
		return nil, fmt.Errorf("api: invoking action %d: response has no task id", id)
	}

	task := &Task{ID: env.Task.TaskID, ActionID: id, Family: family, Phase: PhaseInvoked}

	c.logger.Info("action invoked",
		slog.Int64("action_id", int64(id)),
		slog.String("task_id", task.ID),
	)

	c.record("task_invoked", c.recorder.TaskInvoked(ctx, *task, time.Now()))

	return task, nil
}

// TaskStatus fetches the current status of a task spawned by action id.
func (c *Client) TaskStatus(ctx context.Context, id ActionID, taskID string) (*TaskStatus, error) {
	family, err := id.Family()
	if err != nil {
		return nil, err
	}

	path := c.modelPath(string(family), strconv.FormatInt(int64(id), 10), "tasks", taskID)

	var env taskEnvelope
	if err := c.getJSON(ctx, path, &env); err != nil {
		return nil, err
	}

	if env.Task == nil || env.Task.TaskState == "" {
		return nil, fmt.Errorf("api: status of task '%s': response has no task state", taskID)
	}

	st := env.Task.toStatus()
	if st.TaskID == "" {
		st.TaskID = taskID
	}

	return &st, nil
}

// RunAction invokes an action and polls its task, waiting the configured
// poll delay between polls, until the task reaches a terminal state. The
// first poll happens immediately after invocation. A task that did not
// succeed yields an *ActionError alongside the completed task.
func (c *Client) RunAction(ctx context.Context, id ActionID) (*Task, error) {
	task, err := c.InvokeAction(ctx, id)
	if err != nil {
		return nil, err
	}

	var polls int

	for {
		st, err := c.TaskStatus(ctx, id, task.ID)
		if err != nil {
			return nil, err
		}

		polls++

		c.record("task_polled", c.recorder.TaskPolled(ctx, *st))

		if st.State.Terminal() {
			task.Phase = PhaseComplete
			task.Successful = st.Succeeded()

			c.record("task_finished", c.recorder.TaskFinished(ctx, *task, *st, time.Now()))

			return c.finish(task, st, polls)
		}

		c.logger.Debug("task in progress",
			slog.String("task_id", task.ID),
			slog.String("state", string(st.State)),
			slog.Float64("progress", st.Progress),
		)

		if err := c.sleepFunc(ctx, c.pollDelay); err != nil {
			return nil, fmt.Errorf("api: waiting for task '%s': %w", task.ID, err)
		}
	}
}

func (c *Client) finish(task *Task, st *TaskStatus, polls int) (*Task, error) {
	if task.Successful {
		c.logger.Info("task completed",
			slog.String("task_id", task.ID),
			slog.Int64("action_id", int64(task.ActionID)),
			slog.Int("polls", polls),
		)

		return task, nil
	}

	c.logger.Error("task completed with errors",
		slog.String("task_id", task.ID),
		slog.Int64("action_id", int64(task.ActionID)),
		slog.String("state", string(st.State)),
	)

	return task, &ActionError{
		ActionID: task.ActionID,
		TaskID:   task.ID,
		State:    st.State,
		Details:  st.Details(),
	}
}
