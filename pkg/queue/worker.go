package queue

import (
	"context"
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
)

// Start launches the worker loop. One worker serialises graph runs; tasks
// already admitted keep their priority order.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			task := m.dequeue()
			if task == nil {
				select {
				case <-m.stopCh:
					return
				case <-ctx.Done():
					return
				case <-m.notify:
					continue
				}
			}
			select {
			case <-m.stopCh:
				m.requeue(task)
				return
			case <-ctx.Done():
				m.requeue(task)
				return
			default:
			}
			m.process(ctx, task)
		}
	}()
}

// Stop halts the worker after the in-flight task finishes. Safe to call
// multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// requeue puts an undispatched task back at the front of the backlog.
func (m *Manager) requeue(task *AgentTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backlog = append([]*AgentTask{task}, m.backlog...)
}

// process drives one task through the graph and waits for its lifecycle to
// finalise. A task that never finalises within the completion timeout is
// abandoned so the queue cannot wedge.
func (m *Manager) process(ctx context.Context, task *AgentTask) {
	m.tracker.Append(task.ID, lifecycle.StatusProcessing, "", "dispatched to agent", nil)

	if err := m.processor.ProcessEnvelope(ctx, task.ID, task.Envelope); err != nil {
		m.logger.Warn("Graph run failed", "task_id", task.ID, "error", err)
	}

	status, ok := m.awaitFinal(ctx, task.ID)
	if !ok {
		m.tracker.Finalize(task.ID, lifecycle.StatusAbandoned, "", "completion timeout exceeded")
		status = lifecycle.StatusAbandoned
	}

	m.completed.Add(task.ID, status)
	m.forget(task.ID)
	switch status {
	case lifecycle.StatusCompleted:
		m.metrics.tasksCompleted.Inc()
	default:
		m.metrics.tasksFailed.Inc()
	}
	m.logger.Info("Task finished", "task_id", task.ID, "final_status", status)
}

// awaitFinal polls the lifecycle until it finalises or the timeout expires.
func (m *Manager) awaitFinal(ctx context.Context, taskID string) (lifecycle.EntryStatus, bool) {
	deadline := time.Now().Add(m.opts.CompletionTimeout)
	for {
		if status, final := m.tracker.IsFinal(taskID); final {
			return status, true
		}
		if time.Now().After(deadline) {
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(m.opts.PollInterval):
		}
	}
}
